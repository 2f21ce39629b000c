package pms

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Credentials holds the decrypted connection details for one clinic+vendor.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// Options tune a vendor client. Zero values fall back to sane defaults.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	PageSize   int
}

const (
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 200
)

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	return o
}

// Client is the minimum capability set every vendor adapter provides.
// The engine never assumes more: strategy selection is keyed on whether a
// client also satisfies CursorClient or PageClient.
type Client interface {
	Vendor() Vendor
	TestConnection(ctx context.Context) error
	// GetAppointments returns the appointments for one remote patient,
	// optionally limited to those modified since the given time.
	GetAppointments(ctx context.Context, vendorPatientID string, since *time.Time) ([]RemoteAppointment, error)
	// ClassifyScheme maps a remote patient to a funding scheme using the
	// clinic's configured appointment-type tags.
	ClassifyScheme(ctx context.Context, patient RemotePatient, epcTag, wcTag string) (Scheme, error)
	// IsCompletedAppointment reports whether the vendor considers the
	// appointment to have taken place.
	IsCompletedAppointment(appt RemoteAppointment) bool
}

// CursorClient is implemented by vendors that support "modified since"
// patient queries.
type CursorClient interface {
	Client
	GetPatients(ctx context.Context, since *time.Time) ([]RemotePatient, error)
}

// PageClient is implemented by enumeration-only vendors: no change tracking,
// only paged listing plus a total count.
type PageClient interface {
	Client
	GetTotalPatientCount(ctx context.Context) (int, error)
	GetPatientsPage(ctx context.Context, page, pageSize int) ([]RemotePatient, error)
}

// Constructor builds a vendor client from decrypted credentials.
type Constructor func(creds Credentials, opts Options) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Vendor]Constructor)
)

// Register makes a vendor client constructor available to New. Vendor
// packages call it from init, like database/sql drivers.
func Register(v Vendor, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if ctor == nil {
		panic("pms: Register with nil constructor")
	}
	if _, dup := registry[v]; dup {
		panic(fmt.Sprintf("pms: Register called twice for vendor %s", v))
	}
	registry[v] = ctor
}

// New builds a client for the given vendor from the registered constructors.
func New(v Vendor, creds Credentials, opts Options) (Client, error) {
	registryMu.RLock()
	ctor, ok := registry[v]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for vendor %q", v)
	}
	return ctor(creds, opts.withDefaults())
}

// RegisteredVendors returns the vendors with a registered adapter, sorted.
func RegisteredVendors() []Vendor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	vendors := make([]Vendor, 0, len(registry))
	for v := range registry {
		vendors = append(vendors, v)
	}
	sort.Slice(vendors, func(i, j int) bool { return vendors[i] < vendors[j] })
	return vendors
}
