// Package cliniko implements the cursor-capable vendor adapter for the
// Cliniko practice management API. Cliniko supports "modified since" queries
// via q[updated_at] filters, so the incremental sync strategy applies.
package cliniko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clinicsync/clinicsync/internal/pms"
)

func init() {
	pms.Register(pms.VendorCliniko, func(creds pms.Credentials, opts pms.Options) (pms.Client, error) {
		return New(creds, opts)
	})
}

const defaultBaseURL = "https://api.cliniko.com/v1"

// completedStatuses are the Cliniko appointment states the engine counts as
// a delivered session.
var completedStatuses = map[string]bool{
	"completed": true,
	"attended":  true,
	"finished":  true,
}

// Client talks to the Cliniko REST API for one clinic.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	pageSize int
}

var _ pms.CursorClient = (*Client)(nil)

// New builds a Cliniko client from decrypted credentials.
func New(creds pms.Credentials, opts pms.Options) (*Client, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("cliniko: api key is required")
	}
	base := strings.TrimRight(creds.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = pms.DefaultPageSize
	}
	return &Client{
		baseURL:  base,
		apiKey:   creds.APIKey,
		http:     httpClient,
		pageSize: pageSize,
	}, nil
}

func (c *Client) Vendor() pms.Vendor { return pms.VendorCliniko }

// TestConnection verifies the credentials by fetching the account endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	var out struct {
		Name string `json:"name"`
	}
	return c.get(ctx, "/account", nil, &out)
}

// patientPage is one page of the Cliniko patients listing.
type patientPage struct {
	Patients []clinikoPatient `json:"patients"`
	Links    struct {
		Next string `json:"next"`
	} `json:"links"`
}

type clinikoPatient struct {
	ID          json.Number `json:"id"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	Email       string      `json:"email"`
	PhoneNumber string      `json:"phone_number"`
	DateOfBirth string      `json:"date_of_birth"`
	ArchivedAt  *string     `json:"archived_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// GetPatients returns patients modified since the given time, following the
// API's next-page links until exhausted.
func (c *Client) GetPatients(ctx context.Context, since *time.Time) ([]pms.RemotePatient, error) {
	q := url.Values{}
	q.Set("per_page", fmt.Sprintf("%d", c.pageSize))
	q.Set("sort", "updated_at")
	if since != nil {
		q.Set("q[updated_at]", ">"+since.UTC().Format(time.RFC3339))
	}

	var patients []pms.RemotePatient
	path := "/patients"
	for {
		var page patientPage
		if err := c.get(ctx, path, q, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Patients {
			patients = append(patients, toRemotePatient(p))
		}
		if page.Links.Next == "" {
			return patients, nil
		}
		next, err := c.relativize(page.Links.Next)
		if err != nil {
			return nil, err
		}
		path, q = next, nil
	}
}

type appointmentPage struct {
	Appointments []clinikoAppointment `json:"individual_appointments"`
	Links        struct {
		Next string `json:"next"`
	} `json:"links"`
}

type clinikoAppointment struct {
	ID              json.Number `json:"id"`
	StartsAt        time.Time   `json:"starts_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	CancelledAt     *string     `json:"cancelled_at"`
	DidNotArrive    bool        `json:"did_not_arrive"`
	AppointmentType struct {
		Name string `json:"name"`
	} `json:"appointment_type"`
	Practitioner struct {
		Name string `json:"display_name"`
	} `json:"practitioner"`
	Business struct {
		Name string `json:"business_name"`
	} `json:"business"`
	Patient struct {
		ID json.Number `json:"id"`
	} `json:"patient"`
}

// GetAppointments returns one patient's appointments, optionally limited to
// those modified since the given time.
func (c *Client) GetAppointments(ctx context.Context, vendorPatientID string, since *time.Time) ([]pms.RemoteAppointment, error) {
	if vendorPatientID == "" {
		return nil, &pms.ValidationError{Field: "vendor_patient_id", Reason: "is required"}
	}
	q := url.Values{}
	q.Set("per_page", fmt.Sprintf("%d", c.pageSize))
	q.Set("q[patient_id]", vendorPatientID)
	if since != nil {
		q.Set("q[updated_at]", ">"+since.UTC().Format(time.RFC3339))
	}

	var appts []pms.RemoteAppointment
	path := "/individual_appointments"
	for {
		var page appointmentPage
		if err := c.get(ctx, path, q, &page); err != nil {
			return nil, err
		}
		for _, a := range page.Appointments {
			appts = append(appts, toRemoteAppointment(a, vendorPatientID))
		}
		if page.Links.Next == "" {
			return appts, nil
		}
		next, err := c.relativize(page.Links.Next)
		if err != nil {
			return nil, err
		}
		path, q = next, nil
	}
}

// ClassifyScheme inspects the patient's appointment type names for the
// clinic's configured scheme tags. The most recent tagged appointment wins;
// patients with no tagged appointments are Unknown and skipped upstream.
func (c *Client) ClassifyScheme(ctx context.Context, patient pms.RemotePatient, epcTag, wcTag string) (pms.Scheme, error) {
	appts, err := c.GetAppointments(ctx, patient.VendorPatientID, nil)
	if err != nil {
		return pms.SchemeUnknown, err
	}
	return pms.SchemeFromAppointments(appts, epcTag, wcTag), nil
}

// IsCompletedAppointment reports whether the appointment counts as a
// delivered session: not cancelled, not a no-show, and either explicitly
// marked complete or already in the past.
func (c *Client) IsCompletedAppointment(appt pms.RemoteAppointment) bool {
	if appt.Cancelled {
		return false
	}
	status := strings.ToLower(appt.Status)
	if status == "did_not_arrive" || status == "cancelled" {
		return false
	}
	if completedStatuses[status] {
		return true
	}
	return status == "" && appt.StartsAt.Before(time.Now())
}

// get performs an authenticated GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("cliniko: building request: %w", err)
	}
	// Cliniko uses HTTP basic auth with the API key as the username.
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &pms.TransientError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, path); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cliniko: decoding %s response: %w", path, err)
	}
	return nil
}

// relativize strips the base URL from an absolute next-page link so it can be
// passed back through get.
func (c *Client) relativize(link string) (string, error) {
	if strings.HasPrefix(link, c.baseURL) {
		return strings.TrimPrefix(link, c.baseURL), nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("cliniko: bad next link %q: %w", link, err)
	}
	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path, nil
}

func classifyStatus(status int, path string) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &pms.CredentialError{Vendor: pms.VendorCliniko, Err: fmt.Errorf("GET %s returned %d", path, status)}
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return &pms.TransientError{Op: "GET " + path, Err: fmt.Errorf("status %d", status)}
	default:
		return fmt.Errorf("cliniko: GET %s returned unexpected status %d", path, status)
	}
}

func toRemotePatient(p clinikoPatient) pms.RemotePatient {
	out := pms.RemotePatient{
		VendorPatientID: p.ID.String(),
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Email:           p.Email,
		Phone:           p.PhoneNumber,
		Archived:        p.ArchivedAt != nil,
		UpdatedAt:       p.UpdatedAt,
	}
	// Unparsable birth dates become null rather than failing the record.
	if dob, err := time.Parse("2006-01-02", p.DateOfBirth); err == nil {
		out.DateOfBirth = &dob
	}
	return out
}

func toRemoteAppointment(a clinikoAppointment, patientID string) pms.RemoteAppointment {
	status := ""
	if a.DidNotArrive {
		status = "did_not_arrive"
	}
	if a.Patient.ID.String() != "" {
		patientID = a.Patient.ID.String()
	}
	return pms.RemoteAppointment{
		VendorAppointmentID: a.ID.String(),
		VendorPatientID:     patientID,
		AppointmentType:     a.AppointmentType.Name,
		Status:              status,
		Practitioner:        a.Practitioner.Name,
		Location:            a.Business.Name,
		StartsAt:            a.StartsAt,
		Cancelled:           a.CancelledAt != nil,
		UpdatedAt:           a.UpdatedAt,
	}
}
