package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/pms"
)

type upsertKey struct {
	clinicID uuid.UUID
	vendor   pms.Vendor
	vendorID string
}

// mockRepo is an in-memory Repository keyed like the real upsert constraint.
type mockRepo struct {
	byKey map[upsertKey]*Patient
	byID  map[uuid.UUID]*Patient
}

func newMockRepo() *mockRepo {
	return &mockRepo{byKey: make(map[upsertKey]*Patient), byID: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) Upsert(ctx context.Context, p *Patient) error {
	key := upsertKey{p.ClinicID, p.Vendor, p.VendorPatientID}
	if existing, ok := m.byKey[key]; ok {
		p.ID = existing.ID
	} else if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	m.byKey[key] = &cp
	m.byID[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

func (m *mockRepo) GetByVendorID(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor, vendorPatientID string) (*Patient, error) {
	p, ok := m.byKey[upsertKey{clinicID, vendor, vendorPatientID}]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

func (m *mockRepo) ListByClinic(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.byKey {
		if p.ClinicID == clinicID {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) CountByClinicVendor(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (int, error) {
	n := 0
	for _, p := range m.byKey {
		if p.ClinicID == clinicID && p.Vendor == vendor {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) ListWithAppointments(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) ([]*Patient, error) {
	return nil, nil
}

func (m *mockRepo) UpdateQuotaState(ctx context.Context, id uuid.UUID, quota, sessionsUsed int) error {
	p, ok := m.byID[id]
	if !ok {
		return errors.New("not found")
	}
	p.Quota = quota
	p.SessionsUsed = sessionsUsed
	return nil
}

func TestUpsert_Validation(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()
	clinicID := uuid.New()

	tests := []struct {
		name string
		p    *Patient
	}{
		{"missing clinic", &Patient{Vendor: pms.VendorCliniko, VendorPatientID: "1"}},
		{"missing vendor", &Patient{ClinicID: clinicID, VendorPatientID: "1"}},
		{"missing vendor patient id", &Patient{ClinicID: clinicID, Vendor: pms.VendorCliniko}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Upsert(ctx, tt.p); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestUpsert_SameRemoteRecordIsNotADuplicate(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()
	clinicID := uuid.New()

	remote := pms.RemotePatient{VendorPatientID: "101", FirstName: "Ann", LastName: "Lee"}

	first := FromRemote(clinicID, pms.VendorCliniko, pms.SchemeEPC, remote)
	if err := svc.Upsert(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second := FromRemote(clinicID, pms.VendorCliniko, pms.SchemeEPC, remote)
	if err := svc.Upsert(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if len(repo.byKey) != 1 {
		t.Errorf("got %d rows, want 1 (idempotent upsert)", len(repo.byKey))
	}
	if first.ID != second.ID {
		t.Errorf("second upsert resolved id %s, want %s", second.ID, first.ID)
	}
}

func TestFromRemote(t *testing.T) {
	clinicID := uuid.New()
	dob := time.Date(1980, 4, 2, 0, 0, 0, 0, time.UTC)
	remote := pms.RemotePatient{
		VendorPatientID: "101",
		FirstName:       "Ann",
		LastName:        "Lee",
		Email:           "ann@example.com",
		Phone:           "0400000000",
		DateOfBirth:     &dob,
		Archived:        true,
	}

	p := FromRemote(clinicID, pms.VendorNookal, pms.SchemeWC, remote)

	if p.ClinicID != clinicID || p.Vendor != pms.VendorNookal {
		t.Errorf("unexpected identity fields: %+v", p)
	}
	if p.Scheme != pms.SchemeWC {
		t.Errorf("scheme = %q, want wc", p.Scheme)
	}
	if p.VendorPatientID != "101" || p.FirstName != "Ann" || !p.Archived {
		t.Errorf("fields not mapped: %+v", p)
	}
	if p.DateOfBirth == nil || !p.DateOfBirth.Equal(dob) {
		t.Errorf("date of birth not mapped: %v", p.DateOfBirth)
	}
}
