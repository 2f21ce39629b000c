package cases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicsync/clinicsync/internal/domain/appointment"
	"github.com/clinicsync/clinicsync/internal/domain/patient"
	"github.com/clinicsync/clinicsync/internal/pms"
	"github.com/clinicsync/clinicsync/internal/quota"
)

// PatientSource supplies the patients a derivation run must visit.
type PatientSource interface {
	ListWithAppointments(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) ([]*patient.Patient, error)
	UpdateQuotaState(ctx context.Context, id uuid.UUID, quotaVal, sessionsUsed int) error
}

// AppointmentSource supplies attribution and active-year anchors.
type AppointmentSource interface {
	LatestForPatient(ctx context.Context, patientID uuid.UUID) (*appointment.Appointment, error)
	LatestCompletedForClinic(ctx context.Context, clinicID uuid.UUID) (*appointment.Appointment, error)
}

// Deriver turns quota state into clinic-facing cases.
type Deriver struct {
	calc     *quota.Calculator
	cases    Repository
	patients PatientSource
	appts    AppointmentSource
	logger   zerolog.Logger
	now      func() time.Time
}

func NewDeriver(calc *quota.Calculator, repo Repository, patients PatientSource, appts AppointmentSource, logger zerolog.Logger) *Deriver {
	return &Deriver{
		calc:     calc,
		cases:    repo,
		patients: patients,
		appts:    appts,
		logger:   logger,
		now:      time.Now,
	}
}

// DeriveResult summarizes one derivation pass over a clinic.
type DeriveResult struct {
	CasesCreated int
	CasesUpdated int
	// AlertCases are the cases now in critical or warning, for the
	// notification boundary.
	AlertCases []*Case
	Issues     []string
}

// DeriveAll re-derives the case for every patient of the clinic+vendor that
// has at least one stored appointment. Per-patient failures are collected
// as issues and never abort the pass.
func (d *Deriver) DeriveAll(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor, epcTag, wcTag string) (*DeriveResult, error) {
	patients, err := d.patients.ListWithAppointments(ctx, clinicID, vendor)
	if err != nil {
		return nil, fmt.Errorf("listing patients for derivation: %w", err)
	}

	latestCompleted, err := d.appts.LatestCompletedForClinic(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("resolving active year: %w", err)
	}
	var anchor *time.Time
	if latestCompleted != nil {
		anchor = &latestCompleted.StartsAt
	}
	activeYear := quota.ActiveYearFrom(anchor, d.now())

	res := &DeriveResult{}
	for _, p := range patients {
		if err := d.deriveOne(ctx, p, activeYear, epcTag, wcTag, res); err != nil {
			res.Issues = append(res.Issues, fmt.Sprintf("patient %s: %v", p.ID, err))
			d.logger.Warn().
				Str("clinic_id", clinicID.String()).
				Str("patient_id", p.ID.String()).
				Err(err).
				Msg("case derivation failed for patient")
		}
	}
	return res, nil
}

func (d *Deriver) deriveOne(ctx context.Context, p *patient.Patient, activeYear int, epcTag, wcTag string, res *DeriveResult) error {
	var tag string
	switch p.Scheme {
	case pms.SchemeEPC:
		tag = epcTag
	case pms.SchemeWC:
		tag = wcTag
	default:
		// Unknown scheme: nothing to derive.
		return nil
	}

	q, err := d.calc.Calculate(ctx, p.ID, p.Scheme, tag, activeYear)
	if err != nil {
		return err
	}

	latest, err := d.appts.LatestForPatient(ctx, p.ID)
	if err != nil {
		return err
	}

	existing, err := d.cases.GetByPatient(ctx, p.ClinicID, p.ID, p.Vendor)
	if err != nil {
		return err
	}

	c := buildCase(p, q, latest, existing)
	if existing == nil {
		if err := d.cases.Create(ctx, c); err != nil {
			return err
		}
		res.CasesCreated++
	} else {
		if err := d.cases.Update(ctx, c); err != nil {
			return err
		}
		res.CasesUpdated++
	}

	if err := d.patients.UpdateQuotaState(ctx, p.ID, q.Quota, q.SessionsUsed); err != nil {
		return err
	}

	if !c.ManualOverride && (c.Status == StatusCritical || c.Status == StatusWarning) {
		res.AlertCases = append(res.AlertCases, c)
	}
	return nil
}

// buildCase assembles the next case state. A manual override keeps its
// status and priority untouched; only the quota projection moves.
func buildCase(p *patient.Patient, q quota.Result, latest *appointment.Appointment, existing *Case) *Case {
	c := &Case{
		ClinicID:          p.ClinicID,
		PatientID:         p.ID,
		Vendor:            p.Vendor,
		Scheme:            p.Scheme,
		Quota:             q.Quota,
		SessionsUsed:      q.SessionsUsed,
		SessionsRemaining: q.SessionsRemaining,
	}
	if latest != nil {
		c.Practitioner = latest.Practitioner
		c.Location = latest.Location
		c.AppointmentType = latest.AppointmentType
	}
	if existing != nil {
		c.ID = existing.ID
		c.ManualOverride = existing.ManualOverride
		c.OverrideSetBy = existing.OverrideSetBy
		c.OverrideSetAt = existing.OverrideSetAt
		if existing.ManualOverride {
			c.Status = existing.Status
			c.Priority = existing.Priority
			c.AlertMessage = overrideAlert
			return c
		}
	}

	c.Status, c.Priority, c.AlertMessage = Classify(q)
	return c
}

// Classify maps a quota result to status, priority and alert text.
// Evaluated top to bottom, first match wins.
func Classify(q quota.Result) (status, priority, alert string) {
	switch {
	case q.SessionsRemaining <= 0:
		return StatusCritical, PriorityUrgent,
			fmt.Sprintf("%d of %d sessions used. No sessions remaining.", q.SessionsUsed, q.Quota)
	case q.SessionsRemaining <= 2:
		return StatusWarning, PriorityHigh,
			fmt.Sprintf("%d of %d sessions used. Only %d remaining.", q.SessionsUsed, q.Quota, q.SessionsRemaining)
	case q.SessionsRemaining <= 3:
		return StatusWarning, PriorityNormal,
			fmt.Sprintf("%d of %d sessions used. %d remaining.", q.SessionsUsed, q.Quota, q.SessionsRemaining)
	default:
		return StatusActive, PriorityLow, ""
	}
}
