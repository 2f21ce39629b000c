package credential

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicsync/clinicsync/internal/pms"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const credCols = `id, clinic_id, vendor, encrypted_secret, base_url, epc_tag, wc_tag,
	contact_email, active, auth_failures, last_sync_at, created_at, updated_at`

func scanCredential(row pgx.Row) (*Credential, error) {
	var c Credential
	err := row.Scan(&c.ID, &c.ClinicID, &c.Vendor, &c.EncryptedSecret, &c.BaseURL,
		&c.EPCTag, &c.WCTag, &c.ContactEmail, &c.Active, &c.AuthFailures,
		&c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Credential) error {
	c.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO credentials (id, clinic_id, vendor, encrypted_secret, base_url,
			epc_tag, wc_tag, contact_email, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.ClinicID, c.Vendor, c.EncryptedSecret, c.BaseURL,
		c.EPCTag, c.WCTag, c.ContactEmail, c.Active)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Credential, error) {
	return scanCredential(r.pool.QueryRow(ctx, `SELECT `+credCols+` FROM credentials WHERE id = $1`, id))
}

func (r *repoPG) GetByClinicVendor(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (*Credential, error) {
	return scanCredential(r.pool.QueryRow(ctx,
		`SELECT `+credCols+` FROM credentials WHERE clinic_id = $1 AND vendor = $2`, clinicID, vendor))
}

func (r *repoPG) ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*Credential, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+credCols+` FROM credentials WHERE clinic_id = $1 ORDER BY created_at`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *repoPG) ListActive(ctx context.Context) ([]*Credential, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+credCols+` FROM credentials WHERE active ORDER BY clinic_id, vendor`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Credential, error) {
	var items []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, c *Credential) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE credentials SET encrypted_secret=$2, base_url=$3, epc_tag=$4, wc_tag=$5,
			contact_email=$6, active=$7, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.EncryptedSecret, c.BaseURL, c.EPCTag, c.WCTag, c.ContactEmail, c.Active)
	return err
}

func (r *repoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE credentials SET active=$2, updated_at=NOW() WHERE id = $1`, id, active)
	return err
}

func (r *repoPG) IncrementAuthFailures(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		UPDATE credentials SET auth_failures = auth_failures + 1, updated_at=NOW()
		WHERE id = $1
		RETURNING auth_failures`, id).Scan(&n)
	return n, err
}

func (r *repoPG) ResetAuthFailures(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE credentials SET auth_failures = 0, updated_at=NOW() WHERE id = $1`, id)
	return err
}

func (r *repoPG) UpdateLastSyncAt(ctx context.Context, id uuid.UUID, t time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE credentials SET last_sync_at=$2, updated_at=NOW() WHERE id = $1`, id, t)
	return err
}
