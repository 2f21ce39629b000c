// Package sync runs the ingestion engine: it pulls patients and appointments
// from vendor APIs, mirrors them locally and hands the result to case
// derivation. One run covers one clinic+vendor credential.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicsync/clinicsync/internal/domain/appointment"
	"github.com/clinicsync/clinicsync/internal/domain/credential"
	"github.com/clinicsync/clinicsync/internal/domain/patient"
	"github.com/clinicsync/clinicsync/internal/domain/syncrun"
	"github.com/clinicsync/clinicsync/internal/pms"
)

// PatientStore is the slice of the patient service the engine needs.
type PatientStore interface {
	Upsert(ctx context.Context, p *patient.Patient) error
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	CountByClinicVendor(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (int, error)
}

// AppointmentStore is the slice of the appointment service the engine needs.
type AppointmentStore interface {
	Upsert(ctx context.Context, a *appointment.Appointment) error
}

// Job carries everything one strategy execution needs.
type Job struct {
	Credential *credential.Credential
	Client     pms.Client
	Run        *syncrun.Run
	// ForceFull discards the incremental cursor or batch progress and
	// starts over from the beginning.
	ForceFull bool
}

// Result is what a strategy reports back to the orchestrator.
type Result struct {
	PatientsProcessed     int
	AppointmentsProcessed int
	Issues                []syncrun.Issue
	Progress              *syncrun.Progress
}

// Strategy is one way of walking a vendor's patient population.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, job *Job) (*Result, error)
}

// ingester is the per-patient pipeline shared by both strategies: classify
// the funding scheme, mirror the patient, mirror their appointments.
type ingester struct {
	patients PatientStore
	appts    AppointmentStore
	logger   zerolog.Logger
}

// ingestPatient processes one remote patient. Validation failures and
// exhausted transient errors become issues on the result; credential errors
// propagate so the orchestrator can count them against the key.
func (g *ingester) ingestPatient(ctx context.Context, job *Job, remote pms.RemotePatient, apptsSince *time.Time, res *Result) error {
	cred := job.Credential

	if remote.VendorPatientID == "" {
		res.Issues = append(res.Issues, syncrun.Issue{
			Stage:   "patient",
			Message: "skipped record with empty vendor patient id",
		})
		return nil
	}

	var scheme pms.Scheme
	err := pms.Retry(ctx, pms.DefaultMaxAttempts, func() error {
		var cerr error
		scheme, cerr = job.Client.ClassifyScheme(ctx, remote, cred.EPCTag, cred.WCTag)
		return cerr
	})
	if err != nil {
		if pms.IsCredential(err) {
			return err
		}
		res.Issues = append(res.Issues, syncrun.Issue{
			RecordID: remote.VendorPatientID,
			Stage:    "classify",
			Message:  err.Error(),
		})
		return nil
	}

	p := patient.FromRemote(cred.ClinicID, cred.Vendor, scheme, remote)
	if err := g.patients.Upsert(ctx, p); err != nil {
		if pms.IsValidation(err) {
			res.Issues = append(res.Issues, syncrun.Issue{
				RecordID: remote.VendorPatientID,
				Stage:    "patient",
				Message:  err.Error(),
			})
			return nil
		}
		return fmt.Errorf("upserting patient %s: %w", remote.VendorPatientID, err)
	}
	res.PatientsProcessed++

	var remoteAppts []pms.RemoteAppointment
	err = pms.Retry(ctx, pms.DefaultMaxAttempts, func() error {
		var cerr error
		remoteAppts, cerr = job.Client.GetAppointments(ctx, remote.VendorPatientID, apptsSince)
		return cerr
	})
	if err != nil {
		if pms.IsCredential(err) {
			return err
		}
		res.Issues = append(res.Issues, syncrun.Issue{
			RecordID: remote.VendorPatientID,
			Stage:    "appointments",
			Message:  err.Error(),
		})
		return nil
	}

	for _, ra := range remoteAppts {
		completed := job.Client.IsCompletedAppointment(ra)
		a := appointment.FromRemote(cred.ClinicID, p.ID, cred.Vendor, completed, ra)
		if err := g.appts.Upsert(ctx, a); err != nil {
			if pms.IsValidation(err) {
				res.Issues = append(res.Issues, syncrun.Issue{
					RecordID: ra.VendorAppointmentID,
					Stage:    "appointment",
					Message:  err.Error(),
				})
				continue
			}
			return fmt.Errorf("upserting appointment %s: %w", ra.VendorAppointmentID, err)
		}
		res.AppointmentsProcessed++
	}
	return nil
}
