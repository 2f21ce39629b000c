package cases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicsync/clinicsync/internal/domain/appointment"
	"github.com/clinicsync/clinicsync/internal/domain/patient"
	"github.com/clinicsync/clinicsync/internal/pms"
	"github.com/clinicsync/clinicsync/internal/quota"
)

type caseKey struct {
	clinicID  uuid.UUID
	patientID uuid.UUID
	vendor    pms.Vendor
}

// mockCaseRepo is an in-memory Repository for deriver and service tests.
type mockCaseRepo struct {
	byKey map[caseKey]*Case
}

func newMockCaseRepo() *mockCaseRepo {
	return &mockCaseRepo{byKey: make(map[caseKey]*Case)}
}

func (m *mockCaseRepo) key(c *Case) caseKey {
	return caseKey{c.ClinicID, c.PatientID, c.Vendor}
}

func (m *mockCaseRepo) Create(ctx context.Context, c *Case) error {
	c.ID = uuid.New()
	cp := *c
	m.byKey[m.key(c)] = &cp
	return nil
}

func (m *mockCaseRepo) Update(ctx context.Context, c *Case) error {
	existing, ok := m.byKey[m.key(c)]
	if !ok {
		return errors.New("not found")
	}
	c.ManualOverride = existing.ManualOverride || c.ManualOverride
	cp := *c
	m.byKey[m.key(c)] = &cp
	return nil
}

func (m *mockCaseRepo) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	for _, c := range m.byKey {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *mockCaseRepo) GetByPatient(ctx context.Context, clinicID, patientID uuid.UUID, vendor pms.Vendor) (*Case, error) {
	c, ok := m.byKey[caseKey{clinicID, patientID, vendor}]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (m *mockCaseRepo) ListByClinic(ctx context.Context, clinicID uuid.UUID, status string, limit, offset int) ([]*Case, int, error) {
	var out []*Case
	for _, c := range m.byKey {
		if c.ClinicID == clinicID && (status == "" || c.Status == status) {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (m *mockCaseRepo) SetManualStatus(ctx context.Context, id uuid.UUID, status, setBy string) error {
	c, err := m.GetByID(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	c.Status = status
	c.ManualOverride = true
	c.OverrideSetBy = setBy
	c.OverrideSetAt = &now
	return nil
}

func (m *mockCaseRepo) ClearManualOverride(ctx context.Context, id uuid.UUID) error {
	c, err := m.GetByID(ctx, id)
	if err != nil {
		return err
	}
	c.ManualOverride = false
	c.OverrideSetBy = ""
	c.OverrideSetAt = nil
	return nil
}

// fixedCounter returns a fixed session count per patient.
type fixedCounter struct {
	counts map[uuid.UUID]int
}

func (f *fixedCounter) CountTagged(ctx context.Context, patientID uuid.UUID, tag string, statuses []string, from, to *time.Time) (int, error) {
	return f.counts[patientID], nil
}

func (f *fixedCounter) CountAll(ctx context.Context, patientID uuid.UUID) (int, error) {
	return f.counts[patientID], nil
}

// mockPatientSource serves a fixed patient list.
type mockPatientSource struct {
	patients   []*patient.Patient
	quotaState map[uuid.UUID][2]int
}

func (m *mockPatientSource) ListWithAppointments(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) ([]*patient.Patient, error) {
	return m.patients, nil
}

func (m *mockPatientSource) UpdateQuotaState(ctx context.Context, id uuid.UUID, quotaVal, sessionsUsed int) error {
	if m.quotaState == nil {
		m.quotaState = make(map[uuid.UUID][2]int)
	}
	m.quotaState[id] = [2]int{quotaVal, sessionsUsed}
	return nil
}

// mockApptSource serves a fixed latest appointment per patient.
type mockApptSource struct {
	latest          map[uuid.UUID]*appointment.Appointment
	latestCompleted *appointment.Appointment
}

func (m *mockApptSource) LatestForPatient(ctx context.Context, patientID uuid.UUID) (*appointment.Appointment, error) {
	return m.latest[patientID], nil
}

func (m *mockApptSource) LatestCompletedForClinic(ctx context.Context, clinicID uuid.UUID) (*appointment.Appointment, error) {
	return m.latestCompleted, nil
}

type deriverFixture struct {
	deriver  *Deriver
	repo     *mockCaseRepo
	patients *mockPatientSource
	appts    *mockApptSource
	counter  *fixedCounter
	clinicID uuid.UUID
}

func newFixture() *deriverFixture {
	counter := &fixedCounter{counts: make(map[uuid.UUID]int)}
	repo := newMockCaseRepo()
	patients := &mockPatientSource{}
	appts := &mockApptSource{latest: make(map[uuid.UUID]*appointment.Appointment)}
	calc := quota.NewCalculator(counter, zerolog.Nop())
	return &deriverFixture{
		deriver:  NewDeriver(calc, repo, patients, appts, zerolog.Nop()),
		repo:     repo,
		patients: patients,
		appts:    appts,
		counter:  counter,
		clinicID: uuid.New(),
	}
}

func (f *deriverFixture) addPatient(scheme pms.Scheme, sessionsUsed int) *patient.Patient {
	p := &patient.Patient{
		ID:       uuid.New(),
		ClinicID: f.clinicID,
		Vendor:   pms.VendorCliniko,
		Scheme:   scheme,
	}
	f.patients.patients = append(f.patients.patients, p)
	f.counter.counts[p.ID] = sessionsUsed
	return p
}

func (f *deriverFixture) derive(t *testing.T) *DeriveResult {
	t.Helper()
	res, err := f.deriver.DeriveAll(context.Background(), f.clinicID, pms.VendorCliniko, "EPC", "WC")
	if err != nil {
		t.Fatalf("DeriveAll: %v", err)
	}
	return res
}

func (f *deriverFixture) caseFor(t *testing.T, p *patient.Patient) *Case {
	t.Helper()
	c, err := f.repo.GetByPatient(context.Background(), f.clinicID, p.ID, pms.VendorCliniko)
	if err != nil {
		t.Fatalf("GetByPatient: %v", err)
	}
	if c == nil {
		t.Fatalf("no case derived for patient %s", p.ID)
	}
	return c
}

func TestClassify_Thresholds(t *testing.T) {
	tests := []struct {
		name         string
		used, quotaN int
		wantStatus   string
		wantPriority string
	}{
		{"quota exhausted", 5, 5, StatusCritical, PriorityUrgent},
		{"over quota", 7, 5, StatusCritical, PriorityUrgent},
		{"two remaining", 3, 5, StatusWarning, PriorityHigh},
		{"three remaining", 5, 8, StatusWarning, PriorityNormal},
		{"plenty remaining", 1, 5, StatusActive, PriorityLow},
		{"untouched quota", 0, 5, StatusActive, PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remaining := tt.quotaN - tt.used
			if remaining < 0 {
				remaining = 0
			}
			status, priority, _ := Classify(quota.Result{
				SessionsUsed:      tt.used,
				Quota:             tt.quotaN,
				SessionsRemaining: remaining,
			})
			if status != tt.wantStatus || priority != tt.wantPriority {
				t.Errorf("Classify(%d/%d) = %s/%s, want %s/%s",
					tt.used, tt.quotaN, status, priority, tt.wantStatus, tt.wantPriority)
			}
		})
	}
}

func TestDeriveAll_WCQuotaExhausted(t *testing.T) {
	f := newFixture()
	p := f.addPatient(pms.SchemeWC, 8)

	res := f.derive(t)

	if res.CasesCreated != 1 {
		t.Fatalf("cases created = %d, want 1", res.CasesCreated)
	}
	c := f.caseFor(t, p)
	if c.SessionsRemaining != 0 {
		t.Errorf("sessions_remaining = %d, want 0", c.SessionsRemaining)
	}
	if c.Status != StatusCritical || c.Priority != PriorityUrgent {
		t.Errorf("status/priority = %s/%s, want critical/urgent", c.Status, c.Priority)
	}
	if len(res.AlertCases) != 1 {
		t.Errorf("alert cases = %d, want 1", len(res.AlertCases))
	}
}

func TestDeriveAll_SkipsUnknownScheme(t *testing.T) {
	f := newFixture()
	f.addPatient(pms.SchemeUnknown, 3)

	res := f.derive(t)

	if res.CasesCreated != 0 {
		t.Errorf("cases created = %d, want 0 for unknown scheme", res.CasesCreated)
	}
	if len(res.Issues) != 0 {
		t.Errorf("unknown scheme is a skip, not an issue: %v", res.Issues)
	}
}

func TestDeriveAll_SecondRunUpdatesInPlace(t *testing.T) {
	f := newFixture()
	p := f.addPatient(pms.SchemeEPC, 1)

	first := f.derive(t)
	if first.CasesCreated != 1 || first.CasesUpdated != 0 {
		t.Fatalf("first run: created=%d updated=%d", first.CasesCreated, first.CasesUpdated)
	}
	firstID := f.caseFor(t, p).ID

	second := f.derive(t)
	if second.CasesCreated != 0 || second.CasesUpdated != 1 {
		t.Errorf("second run: created=%d updated=%d, want 0/1", second.CasesCreated, second.CasesUpdated)
	}
	if f.caseFor(t, p).ID != firstID {
		t.Error("re-derivation must keep the same case row")
	}
	if len(f.repo.byKey) != 1 {
		t.Errorf("got %d case rows, want 1", len(f.repo.byKey))
	}
}

func TestDeriveAll_ManualOverrideIsSticky(t *testing.T) {
	f := newFixture()
	p := f.addPatient(pms.SchemeEPC, 1)
	f.derive(t)

	c := f.caseFor(t, p)
	if err := f.repo.SetManualStatus(context.Background(), c.ID, StatusPending, "user-1"); err != nil {
		t.Fatalf("SetManualStatus: %v", err)
	}

	// Quota now exhausted: without the override this would classify critical.
	f.counter.counts[p.ID] = 5
	f.derive(t)

	c = f.caseFor(t, p)
	if c.Status != StatusPending {
		t.Errorf("status = %s, want sticky pending", c.Status)
	}
	if c.AlertMessage != overrideAlert {
		t.Errorf("alert = %q, want override text", c.AlertMessage)
	}
	if c.SessionsUsed != 5 {
		t.Errorf("sessions_used = %d, want quota projection still updated", c.SessionsUsed)
	}
}

func TestDeriveAll_ReactivateRestoresDerivedStatus(t *testing.T) {
	f := newFixture()
	p := f.addPatient(pms.SchemeEPC, 5)
	f.derive(t)

	c := f.caseFor(t, p)
	if err := f.repo.SetManualStatus(context.Background(), c.ID, StatusArchived, "user-1"); err != nil {
		t.Fatal(err)
	}
	if err := f.repo.ClearManualOverride(context.Background(), c.ID); err != nil {
		t.Fatal(err)
	}

	f.derive(t)
	c = f.caseFor(t, p)
	if c.Status != StatusCritical {
		t.Errorf("status = %s, want critical after reactivation", c.Status)
	}
}

func TestDeriveAll_AttributionFromLatestAppointment(t *testing.T) {
	f := newFixture()
	p := f.addPatient(pms.SchemeEPC, 2)
	f.appts.latest[p.ID] = &appointment.Appointment{
		Practitioner:    "J. Smith",
		Location:        "North Clinic",
		AppointmentType: "EPC Review",
	}

	f.derive(t)

	c := f.caseFor(t, p)
	if c.Practitioner != "J. Smith" || c.Location != "North Clinic" || c.AppointmentType != "EPC Review" {
		t.Errorf("attribution not mapped: %+v", c)
	}
}

func TestDeriveAll_UpdatesPatientQuotaProjection(t *testing.T) {
	f := newFixture()
	p := f.addPatient(pms.SchemeWC, 6)

	f.derive(t)

	state, ok := f.patients.quotaState[p.ID]
	if !ok {
		t.Fatal("patient quota projection not updated")
	}
	if state[0] != quota.WCQuota || state[1] != 6 {
		t.Errorf("projection = %v, want [%d 6]", state, quota.WCQuota)
	}
}

func TestDeriveAll_ActiveYearFromLatestCompleted(t *testing.T) {
	f := newFixture()
	// Latest completed appointment in 2025: the active year is 2025, so an
	// EPC count window of 2025 applies. The fixed counter ignores windows,
	// but the calculator must still succeed with the derived year.
	f.appts.latestCompleted = &appointment.Appointment{
		StartsAt:  time.Date(2025, 12, 20, 9, 0, 0, 0, time.UTC),
		Completed: true,
	}
	f.addPatient(pms.SchemeEPC, 2)

	res := f.derive(t)
	if res.CasesCreated != 1 {
		t.Errorf("cases created = %d, want 1", res.CasesCreated)
	}
}
