package cases

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Case, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByClinic(ctx context.Context, clinicID uuid.UUID, status string, limit, offset int) ([]*Case, int, error) {
	if status != "" && !validStatus(status) {
		return nil, 0, fmt.Errorf("invalid status filter: %s", status)
	}
	return s.repo.ListByClinic(ctx, clinicID, status, limit, offset)
}

// SetManualStatus applies a sticky user override. Only the manual statuses
// are allowed; derived statuses come from the deriver alone.
func (s *Service) SetManualStatus(ctx context.Context, id uuid.UUID, status, setBy string) error {
	if !IsManualStatus(status) {
		return fmt.Errorf("status %q cannot be set manually (allowed: %s, %s)",
			status, StatusPending, StatusArchived)
	}
	if setBy == "" {
		return fmt.Errorf("set_by is required")
	}
	return s.repo.SetManualStatus(ctx, id, status, setBy)
}

// Reactivate clears a manual override so the next derivation run
// reclassifies the case from quota state.
func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) error {
	return s.repo.ClearManualOverride(ctx, id)
}

func validStatus(s string) bool {
	switch s {
	case StatusActive, StatusWarning, StatusCritical, StatusPending, StatusArchived:
		return true
	}
	return false
}
