package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const apptCols = `id, clinic_id, patient_id, vendor, vendor_appointment_id, appointment_type,
	status, practitioner, location, starts_at, completed, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ClinicID, &a.PatientID, &a.Vendor, &a.VendorAppointmentID,
		&a.AppointmentType, &a.Status, &a.Practitioner, &a.Location, &a.StartsAt,
		&a.Completed, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) Upsert(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, clinic_id, patient_id, vendor, vendor_appointment_id,
			appointment_type, status, practitioner, location, starts_at, completed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (clinic_id, vendor, vendor_appointment_id) DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			appointment_type = EXCLUDED.appointment_type,
			status = EXCLUDED.status,
			practitioner = EXCLUDED.practitioner,
			location = EXCLUDED.location,
			starts_at = EXCLUDED.starts_at,
			completed = EXCLUDED.completed,
			updated_at = NOW()
		RETURNING id`,
		a.ID, a.ClinicID, a.PatientID, a.Vendor, a.VendorAppointmentID,
		a.AppointmentType, a.Status, a.Practitioner, a.Location, a.StartsAt, a.Completed).Scan(&a.ID)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE patient_id = $1 ORDER BY starts_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) LatestForPatient(ctx context.Context, patientID uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE patient_id = $1 ORDER BY starts_at DESC LIMIT 1`, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *repoPG) LatestCompletedForClinic(ctx context.Context, clinicID uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE clinic_id = $1 AND completed ORDER BY starts_at DESC LIMIT 1`, clinicID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *repoPG) CountTagged(ctx context.Context, patientID uuid.UUID, tag string, statuses []string, from, to *time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM appointments WHERE patient_id = $1 AND appointment_type ILIKE '%' || $2 || '%'`
	args := []interface{}{patientID, tag}
	idx := 3

	if len(statuses) > 0 {
		query += ` AND (status = ANY($3) OR (status = '' AND completed))`
		args = append(args, statuses)
		idx++
	}
	if from != nil {
		query += fmt.Sprintf(` AND starts_at >= $%d`, idx)
		args = append(args, *from)
		idx++
	}
	if to != nil {
		query += fmt.Sprintf(` AND starts_at < $%d`, idx)
		args = append(args, *to)
	}

	var n int
	err := r.pool.QueryRow(ctx, query, args...).Scan(&n)
	return n, err
}

func (r *repoPG) CountAll(ctx context.Context, patientID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE patient_id = $1`, patientID).Scan(&n)
	return n, err
}
