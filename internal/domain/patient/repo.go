package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/pms"
)

// Repository is the persistence boundary for mirrored patients.
type Repository interface {
	// Upsert inserts or updates by (clinic_id, vendor, vendor_patient_id)
	// and fills in the local id either way. Re-ingesting an unchanged
	// record is a content no-op.
	Upsert(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByVendorID(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor, vendorPatientID string) (*Patient, error)
	ListByClinic(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Patient, int, error)
	// CountByClinicVendor feeds the batch strategy's bootstrap page
	// inference.
	CountByClinicVendor(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (int, error)
	// ListWithAppointments returns the patients the case deriver must
	// visit: those with at least one stored appointment.
	ListWithAppointments(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) ([]*Patient, error)
	UpdateQuotaState(ctx context.Context, id uuid.UUID, quota, sessionsUsed int) error
}
