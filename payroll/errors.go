/*
errors.go - Error types for the payroll engine

ERROR CATEGORIES:
  1. NotFound   - staff, monthly entry, project or period missing
  2. NoRateData - a rate window with no stored rates
  3. Validation - malformed input (bad month, bad dates)
  4. Duplicate  - recalculating an already-paid month under the reject policy

All of these abort the calculation before anything is written. None are
worth retrying without changing the underlying data.

SEE ALSO:
  - engine.go: where these surface
  - api/handlers.go: HTTP status mapping
*/
package payroll

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoRateData is returned when a rate window contains no stored rates.
	ErrNoRateData = errors.New("no rate data")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicatePayment is returned when a payment already exists for the
	// staff-month and the engine is configured to reject recalculation.
	ErrDuplicatePayment = errors.New("payment already recorded for period")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record. Message is shown to users verbatim.
type NotFoundError struct {
	Entity  string
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func StaffNotFound(id int64) error {
	return &NotFoundError{Entity: "staff", Message: fmt.Sprintf("Staff not found: %d", id)}
}

func EntryNotFound(staffID int64, year int, month time.Month) error {
	return &NotFoundError{
		Entity:  "monthly_entry",
		Message: fmt.Sprintf("No entry found for staff %d, %d-%d", staffID, year, int(month)),
	}
}

func ProjectNotFound(id int64) error {
	return &NotFoundError{Entity: "project", Message: fmt.Sprintf("Project not found: %d", id)}
}

func PeriodNotFound(projectID int64, periodNumber int) error {
	return &NotFoundError{
		Entity:  "project_period",
		Message: fmt.Sprintf("Project period not found: project %d period %d", projectID, periodNumber),
	}
}

// NoRateDataError reports an empty rate window.
type NoRateDataError struct {
	Start Date
	End   Date
}

func (e *NoRateDataError) Error() string {
	return fmt.Sprintf("No ECB rates found between %s and %s", e.Start, e.End)
}

func (e *NoRateDataError) Unwrap() error { return ErrNoRateData }

// ValidationError reports a malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// DuplicatePaymentError identifies the payment that blocked a recalculation.
type DuplicatePaymentError struct {
	StaffID   int64
	Year      int
	Month     time.Month
	PaymentID int64
}

func (e *DuplicatePaymentError) Error() string {
	return fmt.Sprintf("payment %d already recorded for staff %d, %s",
		e.PaymentID, e.StaffID, periodKey(e.Year, e.Month))
}

func (e *DuplicatePaymentError) Unwrap() error { return ErrDuplicatePayment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if fixing the request or the stored data,
// rather than retrying, is what resolves the error.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNoRateData) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrDuplicatePayment)
}
