package nookal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clinicsync/clinicsync/internal/pms"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(
		pms.Credentials{APIKey: "test-key", BaseURL: srv.URL},
		pms.Options{HTTPClient: srv.Client()},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(pms.Credentials{}, pms.Options{}); err == nil {
		t.Error("expected error for missing api key")
	}
}

func TestTestConnection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getLocations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("api_key"); got != "test-key" {
			t.Errorf("api_key = %q, want test-key", got)
		}
		fmt.Fprint(w, `{"status":"success","data":{"results":{"locations":[]}},"details":{}}`)
	})

	if err := c.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}

func TestTestConnection_InvalidKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"failure","details":{"errorMessage":"invalid API key"}}`)
	})

	err := c.TestConnection(context.Background())
	if !pms.IsCredential(err) {
		t.Errorf("expected credential error, got %v", err)
	}
}

func TestGetTotalPatientCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page_length"); got != "1" {
			t.Errorf("page_length = %q, want 1", got)
		}
		fmt.Fprint(w, `{"status":"success","data":{"results":{"patients":[]}},"details":{"totalItems":"450"}}`)
	})

	total, err := c.GetTotalPatientCount(context.Background())
	if err != nil {
		t.Fatalf("GetTotalPatientCount: %v", err)
	}
	if total != 450 {
		t.Errorf("total = %d, want 450", total)
	}
}

func TestGetPatientsPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q, want 2", got)
		}
		if got := r.URL.Query().Get("page_length"); got != "200" {
			t.Errorf("page_length = %q, want 200", got)
		}
		fmt.Fprint(w, `{"status":"success","data":{"results":{"patients":[
			{"ID":"301","FirstName":"Cara","LastName":"Ng","Email":"cara@example.com",
			 "DOB":"1975-09-12","Active":"1","DateModified":"2026-02-01 10:00:00"},
			{"ID":"302","FirstName":"Dan","LastName":"Oh","DOB":"bad-date","Active":"0"}
		]}},"details":{"totalItems":"450"}}`)
	})

	patients, err := c.GetPatientsPage(context.Background(), 2, 200)
	if err != nil {
		t.Fatalf("GetPatientsPage: %v", err)
	}
	if len(patients) != 2 {
		t.Fatalf("got %d patients, want 2", len(patients))
	}
	if patients[0].VendorPatientID != "301" || patients[0].FirstName != "Cara" {
		t.Errorf("unexpected first patient: %+v", patients[0])
	}
	if patients[0].DateOfBirth == nil {
		t.Error("expected parsed date of birth")
	}
	if patients[1].DateOfBirth != nil {
		t.Error("unparsable date of birth should become nil")
	}
	if !patients[1].Archived {
		t.Error("Active=0 should mark the patient archived")
	}
}

func TestGetPatientsPage_EmptyPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"results":{"patients":[]}},"details":{"totalItems":"450"}}`)
	})

	patients, err := c.GetPatientsPage(context.Background(), 99, 200)
	if err != nil {
		t.Fatalf("GetPatientsPage: %v", err)
	}
	if len(patients) != 0 {
		t.Errorf("got %d patients, want 0", len(patients))
	}
}

func TestGetPatientsPage_InvalidPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.GetPatientsPage(context.Background(), 0, 200)
	if !pms.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGetAppointments_LocalSinceFilter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("patient_id"); got != "301" {
			t.Errorf("patient_id = %q, want 301", got)
		}
		fmt.Fprint(w, `{"status":"success","data":{"results":{"appointments":[
			{"ID":"1","patientID":"301","appointmentDate":"2026-01-05","appointmentStartTime":"09:00:00",
			 "appointmentType":"EPC Session","cancelled":"0","arrived":"1",
			 "practitionerName":"A. Kim","locationName":"North Clinic","lastModified":"2026-01-05 10:00:00"},
			{"ID":"2","patientID":"301","appointmentDate":"2026-02-05","appointmentStartTime":"09:00:00",
			 "appointmentType":"EPC Session","cancelled":"1","lastModified":"2026-02-05 10:00:00"}
		]}},"details":{}}`)
	})

	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	appts, err := c.GetAppointments(context.Background(), "301", &since)
	if err != nil {
		t.Fatalf("GetAppointments: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("got %d appointments after local since filter, want 1", len(appts))
	}
	if appts[0].VendorAppointmentID != "2" {
		t.Errorf("unexpected appointment: %+v", appts[0])
	}
	if !appts[0].Cancelled {
		t.Error("cancelled=1 should mark the appointment cancelled")
	}
}

func TestGetAppointments_ArrivedMapsToAttended(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"results":{"appointments":[
			{"ID":"1","patientID":"301","appointmentDate":"2026-01-05","appointmentStartTime":"09:00:00",
			 "appointmentType":"WC Session","cancelled":"0","arrived":"1"}
		]}},"details":{}}`)
	})

	appts, err := c.GetAppointments(context.Background(), "301", nil)
	if err != nil {
		t.Fatalf("GetAppointments: %v", err)
	}
	if appts[0].Status != "attended" {
		t.Errorf("status = %q, want attended", appts[0].Status)
	}
	if !c.IsCompletedAppointment(appts[0]) {
		t.Error("arrived appointment should count as completed")
	}
}

func TestGetAppointments_ServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.GetAppointments(context.Background(), "301", nil)
	if !pms.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestClassifyScheme(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"results":{"appointments":[
			{"ID":"1","patientID":"301","appointmentDate":"2026-01-05","appointmentStartTime":"09:00:00",
			 "appointmentType":"EPC Initial","cancelled":"0"}
		]}},"details":{}}`)
	})

	scheme, err := c.ClassifyScheme(context.Background(), pms.RemotePatient{VendorPatientID: "301"}, "EPC", "WC")
	if err != nil {
		t.Fatalf("ClassifyScheme: %v", err)
	}
	if scheme != pms.SchemeEPC {
		t.Errorf("scheme = %q, want epc", scheme)
	}
}

func TestIsCompletedAppointment(t *testing.T) {
	c := &Client{}
	past := time.Now().Add(-24 * time.Hour)
	future := time.Now().Add(24 * time.Hour)

	tests := []struct {
		name string
		appt pms.RemoteAppointment
		want bool
	}{
		{"completed status", pms.RemoteAppointment{Status: "completed", StartsAt: future}, true},
		{"missed", pms.RemoteAppointment{Status: "missed", StartsAt: past}, false},
		{"cancelled", pms.RemoteAppointment{StartsAt: past, Cancelled: true}, false},
		{"past unknown status", pms.RemoteAppointment{StartsAt: past}, true},
		{"zero start time", pms.RemoteAppointment{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsCompletedAppointment(tt.appt); got != tt.want {
				t.Errorf("IsCompletedAppointment = %v, want %v", got, tt.want)
			}
		})
	}
}
