package cases

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/pms"
)

// Repository is the persistence boundary for cases.
type Repository interface {
	Create(ctx context.Context, c *Case) error
	Update(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	// GetByPatient returns the one case for (clinic, patient, vendor), or
	// nil when none exists yet.
	GetByPatient(ctx context.Context, clinicID, patientID uuid.UUID, vendor pms.Vendor) (*Case, error)
	ListByClinic(ctx context.Context, clinicID uuid.UUID, status string, limit, offset int) ([]*Case, int, error)
	// SetManualStatus records a sticky user override with its audit trail.
	SetManualStatus(ctx context.Context, id uuid.UUID, status, setBy string) error
	// ClearManualOverride removes the override so the next derivation run
	// reclassifies the case.
	ClearManualOverride(ctx context.Context, id uuid.UUID) error
}
