// Package nookal implements the enumeration-only vendor adapter for the
// Nookal practice management API. Nookal has no "modified since" queries, so
// the paginated batch sync strategy applies: the engine walks the full
// patient listing page by page with a persisted cursor.
package nookal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/clinicsync/clinicsync/internal/pms"
)

func init() {
	pms.Register(pms.VendorNookal, func(creds pms.Credentials, opts pms.Options) (pms.Client, error) {
		return New(creds, opts)
	})
}

const defaultBaseURL = "https://api.nookal.com/production/v2"

// Client talks to the Nookal REST API for one clinic.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ pms.PageClient = (*Client)(nil)

// New builds a Nookal client from decrypted credentials.
func New(creds pms.Credentials, opts pms.Options) (*Client, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("nookal: api key is required")
	}
	base := strings.TrimRight(creds.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{baseURL: base, apiKey: creds.APIKey, http: httpClient}, nil
}

func (c *Client) Vendor() pms.Vendor { return pms.VendorNookal }

// envelope is the common Nookal response wrapper. Nookal reports API-level
// failures with HTTP 200 and status "failure".
type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Details struct {
		TotalItems   json.Number `json:"totalItems"`
		ErrorMessage string      `json:"errorMessage"`
	} `json:"details"`
}

// TestConnection verifies the credentials by fetching the locations listing.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.get(ctx, "/getLocations", nil)
	return err
}

// GetTotalPatientCount returns the remote total from a minimal listing
// request. The batch strategy records it once per run.
func (c *Client) GetTotalPatientCount(ctx context.Context) (int, error) {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("page_length", "1")
	env, err := c.get(ctx, "/getPatients", q)
	if err != nil {
		return 0, err
	}
	total, err := env.Details.TotalItems.Int64()
	if err != nil {
		return 0, fmt.Errorf("nookal: bad totalItems %q: %w", env.Details.TotalItems, err)
	}
	return int(total), nil
}

type nookalPatient struct {
	ID           json.Number `json:"ID"`
	FirstName    string      `json:"FirstName"`
	LastName     string      `json:"LastName"`
	Email        string      `json:"Email"`
	Mobile       string      `json:"Mobile"`
	DOB          string      `json:"DOB"`
	Active       string      `json:"Active"`
	DateModified string      `json:"DateModified"`
}

// GetPatientsPage returns one page of the full patient listing. An empty
// page means the listing is exhausted.
func (c *Client) GetPatientsPage(ctx context.Context, page, pageSize int) ([]pms.RemotePatient, error) {
	if page < 1 {
		return nil, &pms.ValidationError{Field: "page", Reason: "must be >= 1"}
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_length", strconv.Itoa(pageSize))
	env, err := c.get(ctx, "/getPatients", q)
	if err != nil {
		return nil, err
	}

	var data struct {
		Results struct {
			Patients []nookalPatient `json:"patients"`
		} `json:"results"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("nookal: decoding patients page: %w", err)
	}

	patients := make([]pms.RemotePatient, 0, len(data.Results.Patients))
	for _, p := range data.Results.Patients {
		patients = append(patients, toRemotePatient(p))
	}
	return patients, nil
}

type nookalAppointment struct {
	ID           json.Number `json:"ID"`
	PatientID    json.Number `json:"patientID"`
	Date         string      `json:"appointmentDate"`
	StartTime    string      `json:"appointmentStartTime"`
	Type         string      `json:"appointmentType"`
	Status       string      `json:"status"`
	Cancelled    string      `json:"cancelled"`
	Arrived      string      `json:"arrived"`
	Practitioner string      `json:"practitionerName"`
	Location     string      `json:"locationName"`
	LastModified string      `json:"lastModified"`
}

// GetAppointments returns one patient's appointments. Nookal cannot filter
// by modification time server-side, so a non-nil since is applied locally.
func (c *Client) GetAppointments(ctx context.Context, vendorPatientID string, since *time.Time) ([]pms.RemoteAppointment, error) {
	if vendorPatientID == "" {
		return nil, &pms.ValidationError{Field: "vendor_patient_id", Reason: "is required"}
	}
	q := url.Values{}
	q.Set("patient_id", vendorPatientID)
	env, err := c.get(ctx, "/getAppointments", q)
	if err != nil {
		return nil, err
	}

	var data struct {
		Results struct {
			Appointments []nookalAppointment `json:"appointments"`
		} `json:"results"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("nookal: decoding appointments: %w", err)
	}

	appts := make([]pms.RemoteAppointment, 0, len(data.Results.Appointments))
	for _, a := range data.Results.Appointments {
		out := toRemoteAppointment(a, vendorPatientID)
		if since != nil && !out.UpdatedAt.IsZero() && out.UpdatedAt.Before(*since) {
			continue
		}
		appts = append(appts, out)
	}
	return appts, nil
}

// ClassifyScheme inspects the patient's appointment type names for the
// clinic's configured scheme tags.
func (c *Client) ClassifyScheme(ctx context.Context, patient pms.RemotePatient, epcTag, wcTag string) (pms.Scheme, error) {
	appts, err := c.GetAppointments(ctx, patient.VendorPatientID, nil)
	if err != nil {
		return pms.SchemeUnknown, err
	}
	return pms.SchemeFromAppointments(appts, epcTag, wcTag), nil
}

// IsCompletedAppointment reports whether the appointment counts as a
// delivered session.
func (c *Client) IsCompletedAppointment(appt pms.RemoteAppointment) bool {
	if appt.Cancelled {
		return false
	}
	switch strings.ToLower(appt.Status) {
	case "completed", "attended", "finished", "arrived":
		return true
	case "did_not_arrive", "cancelled", "missed":
		return false
	}
	return !appt.StartsAt.IsZero() && appt.StartsAt.Before(time.Now())
}

// get performs an authenticated GET, unwraps the Nookal envelope, and
// classifies failures into the engine's error taxonomy.
func (c *Client) get(ctx context.Context, path string, q url.Values) (*envelope, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("api_key", c.apiKey)

	u := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("nookal: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &pms.TransientError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &pms.CredentialError{Vendor: pms.VendorNookal, Err: fmt.Errorf("GET %s returned %d", path, resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &pms.TransientError{Op: "GET " + path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("nookal: GET %s returned unexpected status %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("nookal: decoding %s response: %w", path, err)
	}
	if env.Status != "success" {
		msg := env.Details.ErrorMessage
		if strings.Contains(strings.ToLower(msg), "key") {
			return nil, &pms.CredentialError{Vendor: pms.VendorNookal, Err: fmt.Errorf("%s", msg)}
		}
		return nil, fmt.Errorf("nookal: GET %s failed: %s", path, msg)
	}
	return &env, nil
}

func toRemotePatient(p nookalPatient) pms.RemotePatient {
	out := pms.RemotePatient{
		VendorPatientID: p.ID.String(),
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Email:           p.Email,
		Phone:           p.Mobile,
		Archived:        p.Active == "0",
	}
	if dob, err := time.Parse("2006-01-02", p.DOB); err == nil {
		out.DateOfBirth = &dob
	}
	if mod, err := time.Parse("2006-01-02 15:04:05", p.DateModified); err == nil {
		out.UpdatedAt = mod
	}
	return out
}

func toRemoteAppointment(a nookalAppointment, patientID string) pms.RemoteAppointment {
	if a.PatientID.String() != "" {
		patientID = a.PatientID.String()
	}
	out := pms.RemoteAppointment{
		VendorAppointmentID: a.ID.String(),
		VendorPatientID:     patientID,
		AppointmentType:     a.Type,
		Status:              a.Status,
		Practitioner:        a.Practitioner,
		Location:            a.Location,
		Cancelled:           a.Cancelled != "" && a.Cancelled != "0",
	}
	if a.Arrived == "1" && out.Status == "" {
		out.Status = "attended"
	}
	if starts, err := time.Parse("2006-01-02 15:04:05", a.Date+" "+a.StartTime); err == nil {
		out.StartsAt = starts
	} else if d, err := time.Parse("2006-01-02", a.Date); err == nil {
		out.StartsAt = d
	}
	if mod, err := time.Parse("2006-01-02 15:04:05", a.LastModified); err == nil {
		out.UpdatedAt = mod
	}
	return out
}
