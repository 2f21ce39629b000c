package pms

import (
	"errors"
	"fmt"
)

// CredentialError indicates the vendor rejected the clinic's credentials.
// It is a run-level failure: the whole sync run fails and the credential's
// consecutive-failure counter advances.
type CredentialError struct {
	Vendor Vendor
	Err    error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s rejected credentials: %v", e.Vendor, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// TransientError indicates a timeout or upstream 5xx. Reads wrapped in it
// are safe to retry with bounded backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError indicates a single remote record is malformed (bad date,
// missing id). The record is skipped and the error is appended to the run's
// issue list; processing continues.
type ValidationError struct {
	VendorRecordID string
	Field          string
	Reason         string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record %s: %s %s", e.VendorRecordID, e.Field, e.Reason)
}

// QuotaError indicates the quota calculation could not complete normally.
// Callers degrade to an unfiltered count rather than aborting.
type QuotaError struct {
	PatientID string
	Err       error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota calculation for patient %s: %v", e.PatientID, e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// IsCredential reports whether err is (or wraps) a CredentialError.
func IsCredential(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
