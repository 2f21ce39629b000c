package credential

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/platform/secrets"
	"github.com/clinicsync/clinicsync/internal/pms"
)

// fakeClient satisfies pms.Client with controllable connection results.
type fakeClient struct {
	vendor  pms.Vendor
	connErr error
}

func (f *fakeClient) Vendor() pms.Vendor                        { return f.vendor }
func (f *fakeClient) TestConnection(ctx context.Context) error  { return f.connErr }
func (f *fakeClient) GetAppointments(ctx context.Context, id string, since *time.Time) ([]pms.RemoteAppointment, error) {
	return nil, nil
}
func (f *fakeClient) ClassifyScheme(ctx context.Context, p pms.RemotePatient, epcTag, wcTag string) (pms.Scheme, error) {
	return pms.SchemeUnknown, nil
}
func (f *fakeClient) IsCompletedAppointment(a pms.RemoteAppointment) bool { return false }

var connectResult = &fakeClient{vendor: pms.VendorCliniko}

func init() {
	pms.Register(pms.VendorCliniko, func(creds pms.Credentials, opts pms.Options) (pms.Client, error) {
		return connectResult, nil
	})
}

// mockRepo is an in-memory Repository for service tests.
type mockRepo struct {
	creds map[uuid.UUID]*Credential
}

func newMockRepo() *mockRepo {
	return &mockRepo{creds: make(map[uuid.UUID]*Credential)}
}

func (m *mockRepo) Create(ctx context.Context, c *Credential) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	m.creds[c.ID] = c
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Credential, error) {
	c, ok := m.creds[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

func (m *mockRepo) GetByClinicVendor(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (*Credential, error) {
	for _, c := range m.creds {
		if c.ClinicID == clinicID && c.Vendor == vendor {
			return c, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *mockRepo) ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*Credential, error) {
	var out []*Credential
	for _, c := range m.creds {
		if c.ClinicID == clinicID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockRepo) ListActive(ctx context.Context) ([]*Credential, error) {
	var out []*Credential
	for _, c := range m.creds {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockRepo) Update(ctx context.Context, c *Credential) error {
	m.creds[c.ID] = c
	return nil
}

func (m *mockRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	c, ok := m.creds[id]
	if !ok {
		return errors.New("not found")
	}
	c.Active = active
	return nil
}

func (m *mockRepo) IncrementAuthFailures(ctx context.Context, id uuid.UUID) (int, error) {
	c, ok := m.creds[id]
	if !ok {
		return 0, errors.New("not found")
	}
	c.AuthFailures++
	return c.AuthFailures, nil
}

func (m *mockRepo) ResetAuthFailures(ctx context.Context, id uuid.UUID) error {
	c, ok := m.creds[id]
	if !ok {
		return errors.New("not found")
	}
	c.AuthFailures = 0
	return nil
}

func (m *mockRepo) UpdateLastSyncAt(ctx context.Context, id uuid.UUID, t time.Time) error {
	c, ok := m.creds[id]
	if !ok {
		return errors.New("not found")
	}
	c.LastSyncAt = &t
	return nil
}

func newTestService(t *testing.T) (*Service, *mockRepo) {
	t.Helper()
	cipher, err := secrets.NewCipher(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	repo := newMockRepo()
	return NewService(repo, cipher), repo
}

func validInput() ConnectInput {
	return ConnectInput{
		ClinicID: uuid.New(),
		Vendor:   "cliniko",
		APIKey:   "sk-test-123",
		EPCTag:   "EPC",
		WCTag:    "WC",
	}
}

func TestConnect_StoresEncryptedSecret(t *testing.T) {
	svc, repo := newTestService(t)
	connectResult.connErr = nil

	cred, err := svc.Connect(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !cred.Active {
		t.Error("new credential should be active")
	}
	if cred.EncryptedSecret == "sk-test-123" {
		t.Error("secret must not be stored in plaintext")
	}
	if len(repo.creds) != 1 {
		t.Fatalf("got %d stored credentials, want 1", len(repo.creds))
	}

	creds, err := svc.Decrypt(cred)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if creds.APIKey != "sk-test-123" {
		t.Errorf("round trip gave %q, want original key", creds.APIKey)
	}
}

func TestConnect_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	connectResult.connErr = nil

	tests := []struct {
		name   string
		mutate func(*ConnectInput)
	}{
		{"missing clinic id", func(in *ConnectInput) { in.ClinicID = uuid.Nil }},
		{"missing api key", func(in *ConnectInput) { in.APIKey = "" }},
		{"bad vendor", func(in *ConnectInput) { in.Vendor = "unknown" }},
		{"no scheme tags", func(in *ConnectInput) { in.EPCTag = ""; in.WCTag = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			if _, err := svc.Connect(context.Background(), in); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConnect_RejectedByVendor(t *testing.T) {
	svc, repo := newTestService(t)
	connectResult.connErr = &pms.CredentialError{Vendor: pms.VendorCliniko, Err: errors.New("401")}
	defer func() { connectResult.connErr = nil }()

	if _, err := svc.Connect(context.Background(), validInput()); err == nil {
		t.Fatal("expected error when vendor rejects the key")
	}
	if len(repo.creds) != 0 {
		t.Error("rejected credential must not be stored")
	}
}

func TestDecrypt_FailsClosed(t *testing.T) {
	svc, _ := newTestService(t)
	cred := &Credential{ID: uuid.New(), EncryptedSecret: "not-a-ciphertext"}
	if _, err := svc.Decrypt(cred); err == nil {
		t.Fatal("expected decryption failure to surface as an error")
	}
}

func TestPauseResume_Idempotent(t *testing.T) {
	svc, repo := newTestService(t)
	connectResult.connErr = nil
	cred, err := svc.Connect(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := svc.Pause(ctx, cred.ID); err != nil {
			t.Fatalf("Pause #%d: %v", i+1, err)
		}
	}
	if repo.creds[cred.ID].Active {
		t.Error("credential should be inactive after pause")
	}

	for i := 0; i < 2; i++ {
		if err := svc.Resume(ctx, cred.ID); err != nil {
			t.Fatalf("Resume #%d: %v", i+1, err)
		}
	}
	if !repo.creds[cred.ID].Active {
		t.Error("credential should be active after resume")
	}
}

func TestRecordAuthFailure_DeactivatesAtThreshold(t *testing.T) {
	svc, repo := newTestService(t)
	connectResult.connErr = nil
	cred, err := svc.Connect(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx := context.Background()
	for i := 1; i < MaxAuthFailures; i++ {
		deactivated, err := svc.RecordAuthFailure(ctx, cred.ID)
		if err != nil {
			t.Fatalf("RecordAuthFailure #%d: %v", i, err)
		}
		if deactivated {
			t.Fatalf("deactivated after %d failures, threshold is %d", i, MaxAuthFailures)
		}
	}

	deactivated, err := svc.RecordAuthFailure(ctx, cred.ID)
	if err != nil {
		t.Fatalf("RecordAuthFailure at threshold: %v", err)
	}
	if !deactivated {
		t.Error("expected deactivation at the failure threshold")
	}
	if repo.creds[cred.ID].Active {
		t.Error("credential should be inactive after repeated auth failures")
	}
}

func TestRecordSyncSuccess_ResetsFailuresAndAdvancesCursor(t *testing.T) {
	svc, repo := newTestService(t)
	connectResult.connErr = nil
	cred, err := svc.Connect(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx := context.Background()
	if _, err := svc.RecordAuthFailure(ctx, cred.ID); err != nil {
		t.Fatal(err)
	}

	runStart := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	if err := svc.RecordSyncSuccess(ctx, cred.ID, runStart); err != nil {
		t.Fatalf("RecordSyncSuccess: %v", err)
	}

	stored := repo.creds[cred.ID]
	if stored.AuthFailures != 0 {
		t.Errorf("auth_failures = %d, want 0", stored.AuthFailures)
	}
	if stored.LastSyncAt == nil || !stored.LastSyncAt.Equal(runStart) {
		t.Errorf("last_sync_at = %v, want run start %v", stored.LastSyncAt, runStart)
	}
}
