package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValidationError represents malformed or under-specified input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// InvalidNavError is returned when a derivation needs a positive NAV
type InvalidNavError struct {
	NAV decimal.Decimal
}

func (e *InvalidNavError) Error() string {
	return fmt.Sprintf("invalid nav %s: must be greater than zero", e.NAV.String())
}

// InsufficientPositionError is returned when a sell asks for more shares than are held
type InsufficientPositionError struct {
	AssetCode string
	Requested decimal.Decimal
	Held      decimal.Decimal
}

func (e *InsufficientPositionError) Error() string {
	return fmt.Sprintf("insufficient position in %s: requested %s shares, held %s",
		e.AssetCode, e.Requested.String(), e.Held.String())
}

// OverdraftError is raised by the aggregator when a sell exceeds running shares
type OverdraftError struct {
	AssetCode   string
	OperationID int64
	Date        time.Time
	Sold        decimal.Decimal
	Held        decimal.Decimal
}

func (e *OverdraftError) Error() string {
	return fmt.Sprintf("overdraft in %s: operation %d on %s sells %s shares, held %s",
		e.AssetCode, e.OperationID, e.Date.Format(time.DateOnly), e.Sold.String(), e.Held.String())
}

// InvalidRangeError represents a plan whose dates do not form a valid range
type InvalidRangeError struct {
	Message string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: %s", e.Message)
}

// AlreadyProcessedError guards terminal dividend resolution
type AlreadyProcessedError struct {
	OperationID int64
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("operation %d is already processed", e.OperationID)
}

// NavUnavailableError is a transient gap in provider data
type NavUnavailableError struct {
	AssetCode string
	Date      time.Time
	Err       error
}

func (e *NavUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nav unavailable for %s on %s: %v", e.AssetCode, e.Date.Format(time.DateOnly), e.Err)
	}
	return fmt.Sprintf("nav unavailable for %s on %s", e.AssetCode, e.Date.Format(time.DateOnly))
}

func (e *NavUnavailableError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a storage failure
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned when a referenced record does not exist
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ConfirmationRequiredError is returned by destructive operations called without confirmation
type ConfirmationRequiredError struct {
	Action   string
	Affected int
}

func (e *ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("%s requires confirmation: %d operations would be removed", e.Action, e.Affected)
}

// Persistence wraps err in a PersistenceError unless it is nil or already typed.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
