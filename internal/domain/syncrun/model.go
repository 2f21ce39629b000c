// Package syncrun is the durable log of orchestrator executions: one row per
// clinic+vendor run, carrying the resumable pagination progress and the
// per-record issue list.
package syncrun

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/pms"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	StrategyIncremental = "incremental"
	StrategyBatch       = "batch"
)

// Progress is the paginated batch strategy's resumable cursor, persisted as
// JSONB. NextPage only advances and Total is fixed once observed; a force
// full sync starts over with a fresh Progress.
type Progress struct {
	NextPage  int  `json:"next_page"`
	Total     int  `json:"total"`
	Processed int  `json:"processed"`
	HasMore   bool `json:"has_more"`
}

// Issue records one skipped record or recovered failure within a run.
type Issue struct {
	RecordID string `json:"record_id,omitempty"`
	Stage    string `json:"stage"`
	Message  string `json:"message"`
}

// Run maps to the sync_runs table.
type Run struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	ClinicID              uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	Vendor                pms.Vendor `db:"vendor" json:"vendor"`
	Strategy              string     `db:"strategy" json:"strategy"`
	Status                string     `db:"status" json:"status"`
	StartedAt             time.Time  `db:"started_at" json:"started_at"`
	CompletedAt           *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	PatientsProcessed     int        `db:"patients_processed" json:"patients_processed"`
	AppointmentsProcessed int        `db:"appointments_processed" json:"appointments_processed"`
	CasesCreated          int        `db:"cases_created" json:"cases_created"`
	CasesUpdated          int        `db:"cases_updated" json:"cases_updated"`
	ErrorMessage          string     `db:"error_message" json:"error_message,omitempty"`
	Progress              *Progress  `db:"progress" json:"progress,omitempty"`
	Issues                []Issue    `db:"issues" json:"issues,omitempty"`
}
