package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/platform/secrets"
	"github.com/clinicsync/clinicsync/internal/pms"
)

// MaxAuthFailures is the consecutive-credential-failure threshold after
// which a credential is deactivated instead of retried forever.
const MaxAuthFailures = 3

type Service struct {
	repo   Repository
	cipher *secrets.Cipher
}

func NewService(repo Repository, cipher *secrets.Cipher) *Service {
	return &Service{repo: repo, cipher: cipher}
}

// ConnectInput is the payload for linking a clinic to a vendor.
type ConnectInput struct {
	ClinicID     uuid.UUID `json:"clinic_id"`
	Vendor       string    `json:"vendor"`
	APIKey       string    `json:"api_key"`
	BaseURL      string    `json:"base_url"`
	EPCTag       string    `json:"epc_tag"`
	WCTag        string    `json:"wc_tag"`
	ContactEmail string    `json:"contact_email"`
}

// Connect stores an encrypted credential for a clinic+vendor after
// verifying the key against the vendor API.
func (s *Service) Connect(ctx context.Context, in ConnectInput) (*Credential, error) {
	if in.ClinicID == uuid.Nil {
		return nil, fmt.Errorf("clinic_id is required")
	}
	if in.APIKey == "" {
		return nil, fmt.Errorf("api_key is required")
	}
	vendor, err := pms.ParseVendor(in.Vendor)
	if err != nil {
		return nil, err
	}
	if in.EPCTag == "" && in.WCTag == "" {
		return nil, fmt.Errorf("at least one scheme tag (epc_tag or wc_tag) is required")
	}

	client, err := pms.New(vendor, pms.Credentials{APIKey: in.APIKey, BaseURL: in.BaseURL}, pms.Options{})
	if err != nil {
		return nil, err
	}
	if err := client.TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("vendor connection test failed: %w", err)
	}

	encrypted, err := s.cipher.Encrypt(in.APIKey)
	if err != nil {
		return nil, fmt.Errorf("encrypting secret: %w", err)
	}

	cred := &Credential{
		ClinicID:        in.ClinicID,
		Vendor:          vendor,
		EncryptedSecret: encrypted,
		BaseURL:         in.BaseURL,
		EPCTag:          in.EPCTag,
		WCTag:           in.WCTag,
		ContactEmail:    in.ContactEmail,
		Active:          true,
	}
	if err := s.repo.Create(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Credential, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByClinicVendor(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (*Credential, error) {
	return s.repo.GetByClinicVendor(ctx, clinicID, vendor)
}

func (s *Service) ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*Credential, error) {
	return s.repo.ListByClinic(ctx, clinicID)
}

func (s *Service) ListActive(ctx context.Context) ([]*Credential, error) {
	return s.repo.ListActive(ctx)
}

// Decrypt returns the plaintext connection details for a credential.
// Decryption failure is fatal by policy: a credential whose secret cannot be
// recovered must never fall back to an empty key.
func (s *Service) Decrypt(cred *Credential) (pms.Credentials, error) {
	apiKey, err := s.cipher.Decrypt(cred.EncryptedSecret)
	if err != nil {
		return pms.Credentials{}, fmt.Errorf("decrypting secret for credential %s: %w", cred.ID, err)
	}
	return pms.Credentials{APIKey: apiKey, BaseURL: cred.BaseURL}, nil
}

// Client builds a vendor client from a stored credential.
func (s *Service) Client(cred *Credential, opts pms.Options) (pms.Client, error) {
	creds, err := s.Decrypt(cred)
	if err != nil {
		return nil, err
	}
	return pms.New(cred.Vendor, creds, opts)
}

// Pause marks a credential inactive without deleting it. Idempotent.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetActive(ctx, id, false)
}

// Resume re-enables a paused credential. Idempotent.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetActive(ctx, id, true)
}

// RecordAuthFailure advances the consecutive-failure counter and
// deactivates the credential once the threshold is reached. It reports
// whether the credential was deactivated.
func (s *Service) RecordAuthFailure(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := s.repo.IncrementAuthFailures(ctx, id)
	if err != nil {
		return false, err
	}
	if n >= MaxAuthFailures {
		if err := s.repo.SetActive(ctx, id, false); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// RecordSyncSuccess resets the failure counter and advances the incremental
// cursor to the given run start time.
func (s *Service) RecordSyncSuccess(ctx context.Context, id uuid.UUID, runStartedAt time.Time) error {
	if err := s.repo.ResetAuthFailures(ctx, id); err != nil {
		return err
	}
	return s.repo.UpdateLastSyncAt(ctx, id, runStartedAt)
}
