package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/pms"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Upsert validates and stores a mirrored appointment.
func (s *Service) Upsert(ctx context.Context, a *Appointment) error {
	if a.ClinicID == uuid.Nil {
		return fmt.Errorf("clinic_id is required")
	}
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.VendorAppointmentID == "" {
		return &pms.ValidationError{Field: "vendor_appointment_id", Reason: "is required"}
	}
	if a.StartsAt.IsZero() {
		return &pms.ValidationError{VendorRecordID: a.VendorAppointmentID, Field: "starts_at", Reason: "is required"}
	}
	return s.repo.Upsert(ctx, a)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) LatestForPatient(ctx context.Context, patientID uuid.UUID) (*Appointment, error) {
	return s.repo.LatestForPatient(ctx, patientID)
}

func (s *Service) LatestCompletedForClinic(ctx context.Context, clinicID uuid.UUID) (*Appointment, error) {
	return s.repo.LatestCompletedForClinic(ctx, clinicID)
}

func (s *Service) CountTagged(ctx context.Context, patientID uuid.UUID, tag string, statuses []string, from, to *time.Time) (int, error) {
	return s.repo.CountTagged(ctx, patientID, tag, statuses, from, to)
}

func (s *Service) CountAll(ctx context.Context, patientID uuid.UUID) (int, error) {
	return s.repo.CountAll(ctx, patientID)
}
