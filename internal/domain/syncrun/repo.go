package syncrun

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/pms"
)

// ErrAlreadyRunning is returned by Create when another run is in flight for
// the same clinic+vendor. The unique partial index on running runs makes the
// guard atomic; callers treat it as "skip", not as a failure.
var ErrAlreadyRunning = errors.New("sync run already in flight for clinic and vendor")

// Repository is the persistence boundary for the sync log.
type Repository interface {
	// Create inserts a running run, or returns ErrAlreadyRunning when one
	// exists for the clinic+vendor.
	Create(ctx context.Context, r *Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*Run, error)
	// FindRunning returns the in-flight run for a clinic+vendor, or nil.
	// The orchestrator's concurrency guard.
	FindRunning(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (*Run, error)
	// LatestProgress returns the most recent persisted progress for a
	// clinic+vendor, or nil when no batch run has recorded any. The batch
	// strategy resumes from it.
	LatestProgress(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (*Progress, error)
	// UpdateProgress persists the cursor mid-run, once per fully
	// processed page.
	UpdateProgress(ctx context.Context, id uuid.UUID, p *Progress) error
	// Finalize writes the terminal status, counts and issue list.
	Finalize(ctx context.Context, r *Run) error
	List(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Run, int, error)
}
