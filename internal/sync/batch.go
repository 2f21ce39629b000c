package sync

import (
	"context"
	"fmt"

	"github.com/clinicsync/clinicsync/internal/domain/syncrun"
	"github.com/clinicsync/clinicsync/internal/pms"
)

// Batch walks the full patient population page by page for vendors without
// change tracking. Progress is persisted after every fully processed page so
// an interrupted run resumes where it stopped instead of re-fetching.
type Batch struct {
	ing      *ingester
	runs     syncrun.Repository
	pageSize int
}

func (s *Batch) Name() string { return syncrun.StrategyBatch }

func (s *Batch) Execute(ctx context.Context, job *Job) (*Result, error) {
	pc, ok := job.Client.(pms.PageClient)
	if !ok {
		return nil, fmt.Errorf("vendor %s does not support batch sync", job.Client.Vendor())
	}

	progress, err := s.resolveProgress(ctx, job, pc)
	if err != nil {
		return nil, err
	}

	res := &Result{Progress: progress}
	for progress.HasMore {
		var remotes []pms.RemotePatient
		err := pms.Retry(ctx, pms.DefaultMaxAttempts, func() error {
			var cerr error
			remotes, cerr = pc.GetPatientsPage(ctx, progress.NextPage, s.pageSize)
			return cerr
		})
		if err != nil {
			return res, fmt.Errorf("fetching patient page %d: %w", progress.NextPage, err)
		}
		if len(remotes) == 0 {
			progress.HasMore = false
			break
		}

		for _, rp := range remotes {
			if err := s.ing.ingestPatient(ctx, job, rp, nil, res); err != nil {
				return res, err
			}
		}

		progress.Processed += len(remotes)
		progress.NextPage++
		progress.HasMore = len(remotes) == s.pageSize && progress.Processed < progress.Total
		if err := s.runs.UpdateProgress(ctx, job.Run.ID, progress); err != nil {
			return res, fmt.Errorf("persisting batch progress: %w", err)
		}
	}
	return res, nil
}

// resolveProgress resumes from the last persisted cursor when one exists,
// otherwise bootstraps from the remote total and the local mirror count so a
// partially mirrored population is not re-fetched from page one.
func (s *Batch) resolveProgress(ctx context.Context, job *Job, pc pms.PageClient) (*syncrun.Progress, error) {
	cred := job.Credential

	if job.ForceFull {
		total, err := s.fetchTotal(ctx, pc)
		if err != nil {
			return nil, err
		}
		return &syncrun.Progress{NextPage: 1, Total: total, HasMore: total > 0}, nil
	}

	p, err := s.runs.LatestProgress(ctx, cred.ClinicID, cred.Vendor)
	if err != nil {
		return nil, fmt.Errorf("loading batch progress: %w", err)
	}
	if p != nil && p.HasMore {
		return p, nil
	}
	// No cursor, or the population was already walked once: bootstrap from
	// the remote total and the local mirror count so nothing mirrored is
	// re-fetched.
	return s.bootstrap(ctx, job, pc)
}

func (s *Batch) fetchTotal(ctx context.Context, pc pms.PageClient) (int, error) {
	var total int
	err := pms.Retry(ctx, pms.DefaultMaxAttempts, func() error {
		var cerr error
		total, cerr = pc.GetTotalPatientCount(ctx)
		return cerr
	})
	if err != nil {
		return 0, fmt.Errorf("fetching patient total: %w", err)
	}
	return total, nil
}

func (s *Batch) bootstrap(ctx context.Context, job *Job, pc pms.PageClient) (*syncrun.Progress, error) {
	cred := job.Credential

	total, err := s.fetchTotal(ctx, pc)
	if err != nil {
		return nil, err
	}

	existing, err := s.ing.patients.CountByClinicVendor(ctx, cred.ClinicID, cred.Vendor)
	if err != nil {
		return nil, fmt.Errorf("counting mirrored patients: %w", err)
	}

	page, processed := 1, 0
	if existing > 0 {
		page = existing/s.pageSize + 1
		processed = existing
	}
	return &syncrun.Progress{
		NextPage:  page,
		Total:     total,
		Processed: processed,
		HasMore:   processed < total,
	}, nil
}
