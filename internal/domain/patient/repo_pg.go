package patient

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicsync/clinicsync/internal/pms"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const patientCols = `id, clinic_id, vendor, vendor_patient_id, first_name, last_name,
	email, phone, date_of_birth, scheme, quota, sessions_used, archived, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.ClinicID, &p.Vendor, &p.VendorPatientID, &p.FirstName,
		&p.LastName, &p.Email, &p.Phone, &p.DateOfBirth, &p.Scheme, &p.Quota,
		&p.SessionsUsed, &p.Archived, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Upsert(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	// Scheme, quota and session counts are owned by the deriver, so the
	// conflict branch leaves them alone unless the incoming row carries a
	// known scheme.
	return r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, clinic_id, vendor, vendor_patient_id, first_name,
			last_name, email, phone, date_of_birth, scheme, archived)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (clinic_id, vendor, vendor_patient_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			date_of_birth = EXCLUDED.date_of_birth,
			scheme = CASE WHEN EXCLUDED.scheme <> '' THEN EXCLUDED.scheme ELSE patients.scheme END,
			archived = EXCLUDED.archived,
			updated_at = NOW()
		RETURNING id`,
		p.ID, p.ClinicID, p.Vendor, p.VendorPatientID, p.FirstName, p.LastName,
		p.Email, p.Phone, p.DateOfBirth, p.Scheme, p.Archived).Scan(&p.ID)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *repoPG) GetByVendorID(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor, vendorPatientID string) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE clinic_id = $1 AND vendor = $2 AND vendor_patient_id = $3`,
		clinicID, vendor, vendorPatientID))
}

func (r *repoPG) ListByClinic(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE clinic_id = $1 ORDER BY last_name, first_name LIMIT $2 OFFSET $3`,
		clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CountByClinicVendor(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE clinic_id = $1 AND vendor = $2`,
		clinicID, vendor).Scan(&n)
	return n, err
}

func (r *repoPG) ListWithAppointments(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) ([]*Patient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT p.id, p.clinic_id, p.vendor, p.vendor_patient_id, p.first_name,
			p.last_name, p.email, p.phone, p.date_of_birth, p.scheme, p.quota,
			p.sessions_used, p.archived, p.created_at, p.updated_at
		FROM patients p
		JOIN appointments a ON a.patient_id = p.id
		WHERE p.clinic_id = $1 AND p.vendor = $2`,
		clinicID, vendor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *repoPG) UpdateQuotaState(ctx context.Context, id uuid.UUID, quota, sessionsUsed int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE patients SET quota=$2, sessions_used=$3, updated_at=NOW() WHERE id = $1`,
		id, quota, sessionsUsed)
	return err
}
