// Package appointment mirrors remote PMS appointments locally. Rows are
// upserted by every sync run and are append-only in practice.
package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicsync/clinicsync/internal/pms"
)

// Appointment maps to the appointments table. The upsert key is
// (clinic_id, vendor, vendor_appointment_id). PatientID is the local
// patient row, resolved through the patient upsert key before writing.
type Appointment struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	ClinicID            uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	PatientID           uuid.UUID  `db:"patient_id" json:"patient_id"`
	Vendor              pms.Vendor `db:"vendor" json:"vendor"`
	VendorAppointmentID string     `db:"vendor_appointment_id" json:"vendor_appointment_id"`
	AppointmentType     string     `db:"appointment_type" json:"appointment_type"`
	Status              string     `db:"status" json:"status,omitempty"`
	Practitioner        string     `db:"practitioner" json:"practitioner,omitempty"`
	Location            string     `db:"location" json:"location,omitempty"`
	StartsAt            time.Time  `db:"starts_at" json:"starts_at"`
	Completed           bool       `db:"completed" json:"completed"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// FromRemote builds a local appointment from a normalized vendor record.
func FromRemote(clinicID, patientID uuid.UUID, vendor pms.Vendor, completed bool, r pms.RemoteAppointment) *Appointment {
	return &Appointment{
		ClinicID:            clinicID,
		PatientID:           patientID,
		Vendor:              vendor,
		VendorAppointmentID: r.VendorAppointmentID,
		AppointmentType:     r.AppointmentType,
		Status:              r.Status,
		Practitioner:        r.Practitioner,
		Location:            r.Location,
		StartsAt:            r.StartsAt,
		Completed:           completed,
	}
}
