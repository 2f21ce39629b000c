// Package quota computes per-patient session usage against funding-scheme
// rules. The calculator is deterministic given the patient's scheme, the
// clinic's appointment-type tag, and the active year, with counting
// delegated to a Counter so it stays free of storage concerns.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicsync/clinicsync/internal/pms"
)

const (
	// EPCQuota is the per-calendar-year session allowance for the EPC scheme.
	EPCQuota = 5
	// WCQuota is the flat session allowance for the WC scheme. Injury-age
	// based reduction is deliberately not implemented; the business rule
	// is unconfirmed.
	WCQuota = 8
)

// CompletedStatuses are the completion states counted as delivered sessions.
var CompletedStatuses = []string{"completed", "attended", "finished"}

// Counter supplies filtered appointment counts for one patient.
type Counter interface {
	// CountTagged counts appointments whose type contains tag, optionally
	// filtered by completion status and start window.
	CountTagged(ctx context.Context, patientID uuid.UUID, tag string, statuses []string, from, to *time.Time) (int, error)
	// CountAll counts every stored appointment for the patient.
	CountAll(ctx context.Context, patientID uuid.UUID) (int, error)
}

// Result is the calculator's output.
type Result struct {
	SessionsUsed      int `json:"sessions_used"`
	Quota             int `json:"quota"`
	SessionsRemaining int `json:"sessions_remaining"`
	// UsedFallback is set when the status-filtered count was zero and the
	// unfiltered recount was used instead.
	UsedFallback bool `json:"used_fallback,omitempty"`
	// Degraded is set when counting failed and the result is a raw
	// unfiltered appointment count.
	Degraded bool `json:"degraded,omitempty"`
}

type Calculator struct {
	counter Counter
	logger  zerolog.Logger
}

func NewCalculator(counter Counter, logger zerolog.Logger) *Calculator {
	return &Calculator{counter: counter, logger: logger}
}

// ActiveYearFrom derives the clinic's active year: the calendar year of the
// most recent completed appointment, or the current year when none exists.
func ActiveYearFrom(latestCompleted *time.Time, now time.Time) int {
	if latestCompleted == nil {
		return now.Year()
	}
	return latestCompleted.Year()
}

// YearBounds returns the [start, end) window of a calendar year in UTC.
func YearBounds(year int) (time.Time, time.Time) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0)
}

// Calculate computes the quota state for one patient.
//
// EPC counts tag-matched completed appointments within the active year
// against a 5-session allowance. WC counts all tag-matched completed
// appointments against a flat 8-session allowance. If the status-filtered
// count is zero, the count is retried without the status filter, which
// handles vendors that never populate completion status. If counting fails
// outright, the result degrades to a raw appointment count rather than
// aborting the run.
func (c *Calculator) Calculate(ctx context.Context, patientID uuid.UUID, scheme pms.Scheme, tag string, activeYear int) (Result, error) {
	var allowance int
	var from, to *time.Time

	switch scheme {
	case pms.SchemeEPC:
		allowance = EPCQuota
		start, end := YearBounds(activeYear)
		from, to = &start, &end
	case pms.SchemeWC:
		allowance = WCQuota
	default:
		return Result{}, fmt.Errorf("cannot calculate quota for scheme %q", scheme)
	}

	used, usedFallback, err := c.countSessions(ctx, patientID, tag, from, to)
	if err != nil {
		raw, rawErr := c.counter.CountAll(ctx, patientID)
		if rawErr != nil {
			return Result{}, &pms.QuotaError{PatientID: patientID.String(), Err: rawErr}
		}
		c.logger.Warn().
			Str("patient_id", patientID.String()).
			Str("scheme", string(scheme)).
			Err(err).
			Msg("quota count failed, degrading to raw appointment count")
		return newResult(raw, allowance, false, true), nil
	}

	if usedFallback {
		c.logger.Info().
			Str("patient_id", patientID.String()).
			Str("scheme", string(scheme)).
			Msg("status-filtered count was zero, used unfiltered recount")
	}
	return newResult(used, allowance, usedFallback, false), nil
}

// countSessions applies the status filter first and recounts without it
// when the filtered count is zero.
func (c *Calculator) countSessions(ctx context.Context, patientID uuid.UUID, tag string, from, to *time.Time) (int, bool, error) {
	n, err := c.counter.CountTagged(ctx, patientID, tag, CompletedStatuses, from, to)
	if err != nil {
		return 0, false, err
	}
	if n > 0 {
		return n, false, nil
	}

	n, err = c.counter.CountTagged(ctx, patientID, tag, nil, from, to)
	if err != nil {
		return 0, false, err
	}
	return n, n > 0, nil
}

func newResult(used, allowance int, usedFallback, degraded bool) Result {
	remaining := allowance - used
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		SessionsUsed:      used,
		Quota:             allowance,
		SessionsRemaining: remaining,
		UsedFallback:      usedFallback,
		Degraded:          degraded,
	}
}
