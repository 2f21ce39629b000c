package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence boundary for mirrored appointments. The
// count methods back the session quota calculator.
type Repository interface {
	// Upsert inserts or updates by (clinic_id, vendor, vendor_appointment_id).
	Upsert(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	// LatestForPatient returns the patient's most recent appointment for
	// case attribution, or nil when none exist.
	LatestForPatient(ctx context.Context, patientID uuid.UUID) (*Appointment, error)
	// LatestCompletedForClinic anchors the clinic's active year.
	LatestCompletedForClinic(ctx context.Context, clinicID uuid.UUID) (*Appointment, error)
	// CountTagged counts a patient's appointments whose type contains the
	// scheme tag, optionally filtered by completion statuses and a start
	// window. Nil bounds mean unbounded; empty statuses means no status
	// filter.
	CountTagged(ctx context.Context, patientID uuid.UUID, tag string, statuses []string, from, to *time.Time) (int, error)
	// CountAll is the degraded fallback: every stored appointment for the
	// patient, no filters.
	CountAll(ctx context.Context, patientID uuid.UUID) (int, error)
}
