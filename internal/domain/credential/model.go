// Package credential manages a clinic's link to one PMS vendor: the
// encrypted API secret, the clinic's scheme tags, the incremental sync
// cursor, and the consecutive-auth-failure counter.
package credential

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/pms"
)

// Credential maps to the credentials table.
type Credential struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	ClinicID        uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	Vendor          pms.Vendor `db:"vendor" json:"vendor"`
	EncryptedSecret string     `db:"encrypted_secret" json:"-"`
	BaseURL         string     `db:"base_url" json:"base_url,omitempty"`
	// EPCTag and WCTag are the clinic's custom appointment-type tags used
	// to classify funding schemes.
	EPCTag       string     `db:"epc_tag" json:"epc_tag"`
	WCTag        string     `db:"wc_tag" json:"wc_tag"`
	ContactEmail string     `db:"contact_email" json:"contact_email,omitempty"`
	Active       bool       `db:"active" json:"active"`
	AuthFailures int        `db:"auth_failures" json:"auth_failures"`
	// LastSyncAt is the incremental strategy's cursor. Nil means no
	// successful incremental run has completed yet.
	LastSyncAt *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
