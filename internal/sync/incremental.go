package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicsync/clinicsync/internal/domain/syncrun"
	"github.com/clinicsync/clinicsync/internal/pms"
)

// Incremental walks only the patients modified since the credential's cursor.
// It requires a vendor that supports "modified since" queries.
type Incremental struct {
	ing *ingester
}

func (s *Incremental) Name() string { return syncrun.StrategyIncremental }

func (s *Incremental) Execute(ctx context.Context, job *Job) (*Result, error) {
	cc, ok := job.Client.(pms.CursorClient)
	if !ok {
		return nil, fmt.Errorf("vendor %s does not support incremental sync", job.Client.Vendor())
	}

	// A nil cursor (first run or force full) pulls the full population.
	var since *time.Time
	if !job.ForceFull {
		since = job.Credential.LastSyncAt
	}

	var remotes []pms.RemotePatient
	err := pms.Retry(ctx, pms.DefaultMaxAttempts, func() error {
		var cerr error
		remotes, cerr = cc.GetPatients(ctx, since)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching modified patients: %w", err)
	}

	res := &Result{}
	for _, rp := range remotes {
		if err := s.ing.ingestPatient(ctx, job, rp, since, res); err != nil {
			return res, err
		}
	}
	return res, nil
}
