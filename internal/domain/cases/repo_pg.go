package cases

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicsync/clinicsync/internal/pms"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const caseCols = `id, clinic_id, patient_id, vendor, scheme, quota, sessions_used,
	sessions_remaining, status, priority, alert_message, practitioner, location,
	appointment_type, manual_override, override_set_by, override_set_at, created_at, updated_at`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.ClinicID, &c.PatientID, &c.Vendor, &c.Scheme, &c.Quota,
		&c.SessionsUsed, &c.SessionsRemaining, &c.Status, &c.Priority, &c.AlertMessage,
		&c.Practitioner, &c.Location, &c.AppointmentType, &c.ManualOverride,
		&c.OverrideSetBy, &c.OverrideSetAt, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Case) error {
	c.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO cases (id, clinic_id, patient_id, vendor, scheme, quota, sessions_used,
			sessions_remaining, status, priority, alert_message, practitioner, location,
			appointment_type, manual_override, override_set_by, override_set_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		c.ID, c.ClinicID, c.PatientID, c.Vendor, c.Scheme, c.Quota, c.SessionsUsed,
		c.SessionsRemaining, c.Status, c.Priority, c.AlertMessage, c.Practitioner,
		c.Location, c.AppointmentType, c.ManualOverride, c.OverrideSetBy, c.OverrideSetAt)
	return err
}

// Update rewrites the derived fields. The override audit columns are only
// touched through SetManualStatus and ClearManualOverride.
func (r *repoPG) Update(ctx context.Context, c *Case) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE cases SET scheme=$2, quota=$3, sessions_used=$4, sessions_remaining=$5,
			status=$6, priority=$7, alert_message=$8, practitioner=$9, location=$10,
			appointment_type=$11, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Scheme, c.Quota, c.SessionsUsed, c.SessionsRemaining,
		c.Status, c.Priority, c.AlertMessage, c.Practitioner, c.Location, c.AppointmentType)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(r.pool.QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE id = $1`, id))
}

func (r *repoPG) GetByPatient(ctx context.Context, clinicID, patientID uuid.UUID, vendor pms.Vendor) (*Case, error) {
	c, err := scanCase(r.pool.QueryRow(ctx, `
		SELECT `+caseCols+` FROM cases
		WHERE clinic_id = $1 AND patient_id = $2 AND vendor = $3`,
		clinicID, patientID, vendor))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *repoPG) ListByClinic(ctx context.Context, clinicID uuid.UUID, status string, limit, offset int) ([]*Case, int, error) {
	where := ` WHERE clinic_id = $1`
	args := []interface{}{clinicID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cases`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + caseCols + ` FROM cases` + where +
		fmt.Sprintf(` ORDER BY
			CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END,
			updated_at DESC
		LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) SetManualStatus(ctx context.Context, id uuid.UUID, status, setBy string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE cases SET status=$2, manual_override=TRUE, override_set_by=$3,
			override_set_at=NOW(), updated_at=NOW()
		WHERE id = $1`, id, status, setBy)
	return err
}

func (r *repoPG) ClearManualOverride(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE cases SET manual_override=FALSE, override_set_by='',
			override_set_at=NULL, updated_at=NOW()
		WHERE id = $1`, id)
	return err
}
