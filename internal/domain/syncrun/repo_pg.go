package syncrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicsync/clinicsync/internal/pms"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const runCols = `id, clinic_id, vendor, strategy, status, started_at, completed_at,
	patients_processed, appointments_processed, cases_created, cases_updated,
	error_message, progress, issues`

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	var progress, issues []byte
	err := row.Scan(&r.ID, &r.ClinicID, &r.Vendor, &r.Strategy, &r.Status, &r.StartedAt,
		&r.CompletedAt, &r.PatientsProcessed, &r.AppointmentsProcessed, &r.CasesCreated,
		&r.CasesUpdated, &r.ErrorMessage, &progress, &issues)
	if err != nil {
		return nil, err
	}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &r.Progress); err != nil {
			return nil, fmt.Errorf("decoding run progress: %w", err)
		}
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &r.Issues); err != nil {
			return nil, fmt.Errorf("decoding run issues: %w", err)
		}
	}
	return &r, nil
}

func (r *repoPG) Create(ctx context.Context, run *Run) error {
	run.ID = uuid.New()
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	progress, err := marshalJSON(run.Progress)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO sync_runs (id, clinic_id, vendor, strategy, status, started_at, progress)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		run.ID, run.ClinicID, run.Vendor, run.Strategy, run.Status, run.StartedAt, progress)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// Unique partial index on running runs: someone beat us to it.
		return ErrAlreadyRunning
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	return scanRun(r.pool.QueryRow(ctx, `SELECT `+runCols+` FROM sync_runs WHERE id = $1`, id))
}

func (r *repoPG) FindRunning(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (*Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `
		SELECT `+runCols+` FROM sync_runs
		WHERE clinic_id = $1 AND vendor = $2 AND status = $3
		ORDER BY started_at DESC LIMIT 1`,
		clinicID, vendor, StatusRunning))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (r *repoPG) LatestProgress(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (*Progress, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT progress FROM sync_runs
		WHERE clinic_id = $1 AND vendor = $2 AND progress IS NOT NULL
		ORDER BY started_at DESC LIMIT 1`,
		clinicID, vendor).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding latest progress: %w", err)
	}
	return &p, nil
}

func (r *repoPG) UpdateProgress(ctx context.Context, id uuid.UUID, p *Progress) error {
	progress, err := marshalJSON(p)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE sync_runs SET progress = $2 WHERE id = $1`, id, progress)
	return err
}

func (r *repoPG) Finalize(ctx context.Context, run *Run) error {
	progress, err := marshalJSON(run.Progress)
	if err != nil {
		return err
	}
	issues, err := marshalJSON(run.Issues)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	run.CompletedAt = &now
	_, err = r.pool.Exec(ctx, `
		UPDATE sync_runs SET status=$2, completed_at=$3, patients_processed=$4,
			appointments_processed=$5, cases_created=$6, cases_updated=$7,
			error_message=$8, progress=$9, issues=$10
		WHERE id = $1`,
		run.ID, run.Status, run.CompletedAt, run.PatientsProcessed,
		run.AppointmentsProcessed, run.CasesCreated, run.CasesUpdated,
		run.ErrorMessage, progress, issues)
	return err
}

func (r *repoPG) List(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Run, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_runs WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+runCols+` FROM sync_runs
		WHERE clinic_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, run)
	}
	return items, total, rows.Err()
}

// marshalJSON encodes a value for a JSONB column, mapping nil and empty to
// SQL NULL.
func marshalJSON(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case *Progress:
		if val == nil {
			return nil, nil
		}
	case []Issue:
		if len(val) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding jsonb value: %w", err)
	}
	return b, nil
}
