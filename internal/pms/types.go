// Package pms defines the uniform contract the sync engine requires from any
// practice-management-system vendor adapter: record shapes, capability
// interfaces, the error taxonomy, and a retry helper for transient failures.
package pms

import (
	"fmt"
	"strings"
	"time"
)

// Vendor identifies a supported PMS vendor.
type Vendor string

const (
	VendorCliniko Vendor = "cliniko"
	VendorNookal  Vendor = "nookal"
)

// ParseVendor validates and normalizes a vendor type string.
func ParseVendor(s string) (Vendor, error) {
	switch Vendor(strings.ToLower(strings.TrimSpace(s))) {
	case VendorCliniko:
		return VendorCliniko, nil
	case VendorNookal:
		return VendorNookal, nil
	default:
		return "", fmt.Errorf("unsupported vendor type %q", s)
	}
}

// Scheme is the funding category governing a patient's session quota rules.
type Scheme string

const (
	SchemeEPC     Scheme = "epc"
	SchemeWC      Scheme = "wc"
	SchemeUnknown Scheme = ""
)

// RemotePatient is a patient record as returned by a vendor API,
// normalized to the engine's field set.
type RemotePatient struct {
	VendorPatientID string
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	// DateOfBirth is nil when the vendor value is absent or unparsable.
	DateOfBirth *time.Time
	Archived    bool
	UpdatedAt   time.Time
}

// RemoteAppointment is an appointment record as returned by a vendor API.
type RemoteAppointment struct {
	VendorAppointmentID string
	VendorPatientID     string
	AppointmentType     string
	Status              string
	Practitioner        string
	Location            string
	StartsAt            time.Time
	Cancelled           bool
	UpdatedAt           time.Time
}
