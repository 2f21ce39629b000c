package credential

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/pms"
)

// Repository is the persistence boundary for credentials.
type Repository interface {
	Create(ctx context.Context, c *Credential) error
	GetByID(ctx context.Context, id uuid.UUID) (*Credential, error)
	GetByClinicVendor(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (*Credential, error)
	ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*Credential, error)
	// ListActive returns every enabled credential, the orchestrator's
	// work list.
	ListActive(ctx context.Context) ([]*Credential, error)
	Update(ctx context.Context, c *Credential) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// IncrementAuthFailures bumps the consecutive-failure counter and
	// returns the new value.
	IncrementAuthFailures(ctx context.Context, id uuid.UUID) (int, error)
	ResetAuthFailures(ctx context.Context, id uuid.UUID) error
	// UpdateLastSyncAt advances the incremental cursor.
	UpdateLastSyncAt(ctx context.Context, id uuid.UUID, t time.Time) error
}
