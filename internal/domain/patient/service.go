package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/pms"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Upsert validates and stores a mirrored patient.
func (s *Service) Upsert(ctx context.Context, p *Patient) error {
	if p.ClinicID == uuid.Nil {
		return fmt.Errorf("clinic_id is required")
	}
	if p.Vendor == "" {
		return fmt.Errorf("vendor is required")
	}
	if p.VendorPatientID == "" {
		return &pms.ValidationError{Field: "vendor_patient_id", Reason: "is required"}
	}
	return s.repo.Upsert(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByVendorID(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor, vendorPatientID string) (*Patient, error) {
	return s.repo.GetByVendorID(ctx, clinicID, vendor, vendorPatientID)
}

func (s *Service) ListByClinic(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	return s.repo.ListByClinic(ctx, clinicID, limit, offset)
}

func (s *Service) CountByClinicVendor(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (int, error) {
	return s.repo.CountByClinicVendor(ctx, clinicID, vendor)
}

func (s *Service) ListWithAppointments(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) ([]*Patient, error) {
	return s.repo.ListWithAppointments(ctx, clinicID, vendor)
}

// UpdateQuotaState caches the deriver's latest quota projection on the
// patient row.
func (s *Service) UpdateQuotaState(ctx context.Context, id uuid.UUID, quota, sessionsUsed int) error {
	return s.repo.UpdateQuotaState(ctx, id, quota, sessionsUsed)
}
