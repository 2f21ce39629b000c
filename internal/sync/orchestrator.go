package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicsync/clinicsync/internal/domain/cases"
	"github.com/clinicsync/clinicsync/internal/domain/credential"
	"github.com/clinicsync/clinicsync/internal/domain/syncrun"
	"github.com/clinicsync/clinicsync/internal/platform/notification"
	"github.com/clinicsync/clinicsync/internal/pms"
)

// CredentialStore is the slice of the credential service the engine needs.
type CredentialStore interface {
	ListActive(ctx context.Context) ([]*credential.Credential, error)
	GetByClinicVendor(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (*credential.Credential, error)
	Client(cred *credential.Credential, opts pms.Options) (pms.Client, error)
	RecordAuthFailure(ctx context.Context, id uuid.UUID) (bool, error)
	RecordSyncSuccess(ctx context.Context, id uuid.UUID, runStartedAt time.Time) error
}

// CaseDeriver re-derives cases after a run's ingestion phase.
type CaseDeriver interface {
	DeriveAll(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor, epcTag, wcTag string) (*cases.DeriveResult, error)
}

// Orchestrator drives full sync cycles across all active credentials.
type Orchestrator struct {
	creds    CredentialStore
	patients PatientStore
	appts    AppointmentStore
	runs     syncrun.Repository
	deriver  CaseDeriver
	notifier notification.Notifier
	opts     pms.Options
	logger   zerolog.Logger
}

func NewOrchestrator(
	creds CredentialStore,
	patients PatientStore,
	appts AppointmentStore,
	runs syncrun.Repository,
	deriver CaseDeriver,
	notifier notification.Notifier,
	opts pms.Options,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		creds:    creds,
		patients: patients,
		appts:    appts,
		runs:     runs,
		deriver:  deriver,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
	}
}

// TriggerOptions narrows a cycle to one clinic or vendor. Zero values mean
// "all".
type TriggerOptions struct {
	ClinicID  uuid.UUID
	Vendor    pms.Vendor
	ForceFull bool
}

// ClinicResult summarizes one credential's outcome within a cycle.
type ClinicResult struct {
	ClinicID              uuid.UUID  `json:"clinic_id"`
	Vendor                pms.Vendor `json:"vendor"`
	RunID                 uuid.UUID  `json:"run_id,omitempty"`
	Status                string     `json:"status"`
	Skipped               bool       `json:"skipped,omitempty"`
	Error                 string     `json:"error,omitempty"`
	PatientsProcessed     int        `json:"patients_processed"`
	AppointmentsProcessed int        `json:"appointments_processed"`
	CasesCreated          int        `json:"cases_created"`
	CasesUpdated          int        `json:"cases_updated"`
	Issues                int        `json:"issues"`
}

// Trigger runs one sync cycle. A failing clinic never blocks the others; the
// per-credential outcomes are always returned, never an aggregate error.
func (o *Orchestrator) Trigger(ctx context.Context, opts TriggerOptions) []ClinicResult {
	creds, err := o.creds.ListActive(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("listing active credentials failed")
		return []ClinicResult{{Status: syncrun.StatusFailed, Error: fmt.Sprintf("listing credentials: %v", err)}}
	}

	var results []ClinicResult
	for _, cred := range creds {
		if opts.ClinicID != uuid.Nil && cred.ClinicID != opts.ClinicID {
			continue
		}
		if opts.Vendor != "" && cred.Vendor != opts.Vendor {
			continue
		}
		results = append(results, o.syncOne(ctx, cred, opts.ForceFull))
	}
	return results
}

func (o *Orchestrator) syncOne(ctx context.Context, cred *credential.Credential, forceFull bool) ClinicResult {
	out := ClinicResult{ClinicID: cred.ClinicID, Vendor: cred.Vendor}
	log := o.logger.With().
		Str("clinic_id", cred.ClinicID.String()).
		Str("vendor", string(cred.Vendor)).
		Logger()

	running, err := o.runs.FindRunning(ctx, cred.ClinicID, cred.Vendor)
	if err != nil {
		out.Status = syncrun.StatusFailed
		out.Error = fmt.Sprintf("checking running state: %v", err)
		return out
	}
	if running != nil {
		log.Info().Str("run_id", running.ID.String()).Msg("sync already running, skipping")
		out.Skipped = true
		out.Status = syncrun.StatusRunning
		out.RunID = running.ID
		return out
	}

	client, err := o.creds.Client(cred, o.opts)
	if err != nil {
		out.Status = syncrun.StatusFailed
		out.Error = fmt.Sprintf("building vendor client: %v", err)
		return out
	}

	strat := o.selectStrategy(client)
	if strat == nil {
		out.Status = syncrun.StatusFailed
		out.Error = fmt.Sprintf("vendor %s supports no sync strategy", cred.Vendor)
		return out
	}

	run := &syncrun.Run{
		ClinicID: cred.ClinicID,
		Vendor:   cred.Vendor,
		Strategy: strat.Name(),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		// The insert races against concurrent triggers; the database's
		// unique index on running runs is the authoritative guard.
		if errors.Is(err, syncrun.ErrAlreadyRunning) {
			log.Info().Msg("sync already running, skipping")
			out.Skipped = true
			out.Status = syncrun.StatusRunning
			return out
		}
		out.Status = syncrun.StatusFailed
		out.Error = fmt.Sprintf("creating run record: %v", err)
		return out
	}
	out.RunID = run.ID
	log = log.With().Str("run_id", run.ID.String()).Str("strategy", strat.Name()).Logger()
	log.Info().Msg("sync run started")

	res, err := strat.Execute(ctx, &Job{Credential: cred, Client: client, Run: run, ForceFull: forceFull})
	if res != nil {
		run.PatientsProcessed = res.PatientsProcessed
		run.AppointmentsProcessed = res.AppointmentsProcessed
		run.Issues = res.Issues
		run.Progress = res.Progress
		out.PatientsProcessed = res.PatientsProcessed
		out.AppointmentsProcessed = res.AppointmentsProcessed
	}
	if err != nil {
		return o.failRun(ctx, cred, run, out, err, log)
	}

	derived, err := o.deriver.DeriveAll(ctx, cred.ClinicID, cred.Vendor, cred.EPCTag, cred.WCTag)
	if err != nil {
		return o.failRun(ctx, cred, run, out, fmt.Errorf("deriving cases: %w", err), log)
	}
	run.CasesCreated = derived.CasesCreated
	run.CasesUpdated = derived.CasesUpdated
	for _, msg := range derived.Issues {
		run.Issues = append(run.Issues, syncrun.Issue{Stage: "derive", Message: msg})
	}
	out.CasesCreated = derived.CasesCreated
	out.CasesUpdated = derived.CasesUpdated

	// Alerts are best effort: a failed email never fails the run.
	if len(derived.AlertCases) > 0 && cred.ContactEmail != "" {
		alerts := o.buildAlerts(ctx, derived.AlertCases)
		if err := o.notifier.NotifyQuotaAlerts(ctx, cred.ContactEmail, alerts); err != nil {
			log.Warn().Err(err).Msg("quota alert notification failed")
		}
	}

	// The cursor advances to the run's start so changes made while the run
	// was in flight are picked up next time.
	if err := o.creds.RecordSyncSuccess(ctx, cred.ID, run.StartedAt); err != nil {
		log.Error().Err(err).Msg("recording sync success failed")
	}

	run.Status = syncrun.StatusCompleted
	if err := o.runs.Finalize(ctx, run); err != nil {
		log.Error().Err(err).Msg("finalizing run failed")
	}
	log.Info().
		Int("patients", run.PatientsProcessed).
		Int("appointments", run.AppointmentsProcessed).
		Int("cases_created", run.CasesCreated).
		Int("cases_updated", run.CasesUpdated).
		Int("issues", len(run.Issues)).
		Msg("sync run completed")

	out.Status = syncrun.StatusCompleted
	out.Issues = len(run.Issues)
	return out
}

func (o *Orchestrator) failRun(ctx context.Context, cred *credential.Credential, run *syncrun.Run, out ClinicResult, runErr error, log zerolog.Logger) ClinicResult {
	run.Status = syncrun.StatusFailed
	run.ErrorMessage = runErr.Error()
	if err := o.runs.Finalize(ctx, run); err != nil {
		log.Error().Err(err).Msg("finalizing failed run")
	}
	log.Error().Err(runErr).Msg("sync run failed")

	if pms.IsCredential(runErr) {
		deactivated, err := o.creds.RecordAuthFailure(ctx, cred.ID)
		if err != nil {
			log.Error().Err(err).Msg("recording auth failure failed")
		} else if deactivated {
			log.Warn().Msg("credential deactivated after repeated auth failures")
			if cred.ContactEmail != "" {
				if err := o.notifier.NotifyCredentialDeactivated(ctx, cred.ContactEmail, string(cred.Vendor)); err != nil {
					log.Warn().Err(err).Msg("credential deactivation notice failed")
				}
			}
		}
	}

	out.Status = syncrun.StatusFailed
	out.Error = runErr.Error()
	out.Issues = len(run.Issues)
	return out
}

// selectStrategy prefers incremental when the vendor supports change
// tracking, falling back to paged enumeration.
func (o *Orchestrator) selectStrategy(client pms.Client) Strategy {
	ing := &ingester{patients: o.patients, appts: o.appts, logger: o.logger}
	if _, ok := client.(pms.CursorClient); ok {
		return &Incremental{ing: ing}
	}
	if _, ok := client.(pms.PageClient); ok {
		pageSize := o.opts.PageSize
		if pageSize <= 0 {
			pageSize = pms.DefaultPageSize
		}
		return &Batch{ing: ing, runs: o.runs, pageSize: pageSize}
	}
	return nil
}

// buildAlerts enriches alert cases with patient names for the email digest.
func (o *Orchestrator) buildAlerts(ctx context.Context, alertCases []*cases.Case) []notification.Alert {
	alerts := make([]notification.Alert, 0, len(alertCases))
	for _, c := range alertCases {
		name := c.PatientID.String()
		if p, err := o.patients.Get(ctx, c.PatientID); err == nil && p != nil {
			name = p.FirstName + " " + p.LastName
		}
		alerts = append(alerts, notification.Alert{
			PatientName:       name,
			Scheme:            string(c.Scheme),
			Status:            c.Status,
			Priority:          c.Priority,
			SessionsUsed:      c.SessionsUsed,
			Quota:             c.Quota,
			SessionsRemaining: c.SessionsRemaining,
			Message:           c.AlertMessage,
		})
	}
	return alerts
}
