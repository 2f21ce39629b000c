// Package patient mirrors remote PMS patients locally. Rows are upserted by
// every sync run and never hard-deleted.
package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/pms"
)

// Patient maps to the patients table. The upsert key is
// (clinic_id, vendor, vendor_patient_id).
type Patient struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	ClinicID        uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	Vendor          pms.Vendor `db:"vendor" json:"vendor"`
	VendorPatientID string     `db:"vendor_patient_id" json:"vendor_patient_id"`
	FirstName       string     `db:"first_name" json:"first_name"`
	LastName        string     `db:"last_name" json:"last_name"`
	Email           string     `db:"email" json:"email,omitempty"`
	Phone           string     `db:"phone" json:"phone,omitempty"`
	DateOfBirth     *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Scheme          pms.Scheme `db:"scheme" json:"scheme"`
	Quota           int        `db:"quota" json:"quota"`
	SessionsUsed    int        `db:"sessions_used" json:"sessions_used"`
	Archived        bool       `db:"archived" json:"archived"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// FromRemote builds a local patient from a normalized vendor record.
func FromRemote(clinicID uuid.UUID, vendor pms.Vendor, scheme pms.Scheme, r pms.RemotePatient) *Patient {
	return &Patient{
		ClinicID:        clinicID,
		Vendor:          vendor,
		VendorPatientID: r.VendorPatientID,
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		Email:           r.Email,
		Phone:           r.Phone,
		DateOfBirth:     r.DateOfBirth,
		Scheme:          scheme,
		Archived:        r.Archived,
	}
}
