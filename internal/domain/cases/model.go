// Package cases holds the clinic-facing aggregate: one funding episode per
// patient, re-derived from quota state on every sync run unless a manual
// override is in place.
package cases

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/pms"
)

// Derived statuses, assigned by the deriver from quota thresholds.
const (
	StatusActive   = "active"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Manual statuses, set by a user and sticky across derivation runs.
const (
	StatusPending  = "pending"
	StatusArchived = "archived"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// overrideAlert replaces the threshold alert while a manual status holds.
const overrideAlert = "Manually managed"

// IsManualStatus reports whether s is a user-set status that derivation
// must not override.
func IsManualStatus(s string) bool {
	return s == StatusPending || s == StatusArchived
}

// Case maps to the cases table. Exactly one row exists per
// (clinic_id, patient_id, vendor).
type Case struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	ClinicID          uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	Vendor            pms.Vendor `db:"vendor" json:"vendor"`
	Scheme            pms.Scheme `db:"scheme" json:"scheme"`
	Quota             int        `db:"quota" json:"quota"`
	SessionsUsed      int        `db:"sessions_used" json:"sessions_used"`
	SessionsRemaining int        `db:"sessions_remaining" json:"sessions_remaining"`
	Status            string     `db:"status" json:"status"`
	Priority          string     `db:"priority" json:"priority"`
	AlertMessage      string     `db:"alert_message" json:"alert_message,omitempty"`
	Practitioner      string     `db:"practitioner" json:"practitioner,omitempty"`
	Location          string     `db:"location" json:"location,omitempty"`
	AppointmentType   string     `db:"appointment_type" json:"appointment_type,omitempty"`
	// ManualOverride marks a sticky user-set status. OverrideSetBy and
	// OverrideSetAt are the audit trail for it.
	ManualOverride bool       `db:"manual_override" json:"manual_override"`
	OverrideSetBy  string     `db:"override_set_by" json:"override_set_by,omitempty"`
	OverrideSetAt  *time.Time `db:"override_set_at" json:"override_set_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
