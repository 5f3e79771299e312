package registry

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Common registry errors that can be checked with errors.Is().
var (
	// ErrNoServers is returned when selection runs against an empty registry.
	ErrNoServers = errors.New("no servers configured")

	// ErrServerNotFound is returned when an operation references a server
	// id that does not exist.
	ErrServerNotFound = errors.New("server not found")

	// ErrInvalidAmount is returned when a usage amount is zero or negative.
	ErrInvalidAmount = errors.New("invalid usage amount")

	// ErrInvalidServer is returned when a CRUD operation receives a record
	// missing required fields.
	ErrInvalidServer = errors.New("invalid server record")
)

// ServerNotFoundError is returned when an operation references a server id
// that does not exist in the store.
type ServerNotFoundError struct {
	// ID is the requested server id.
	ID int64
}

// Error implements the error interface.
func (e *ServerNotFoundError) Error() string {
	return fmt.Sprintf("server %d not found", e.ID)
}

// Is implements error matching for errors.Is().
func (e *ServerNotFoundError) Is(target error) bool {
	return target == ErrServerNotFound
}

// InvalidAmountError is returned when a reported usage amount is not a
// positive monetary value. The registry rejects the call before any state
// is mutated.
type InvalidAmountError struct {
	// Amount is the rejected value.
	Amount decimal.Decimal
}

// Error implements the error interface.
func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("usage amount must be positive, got %s", e.Amount)
}

// Is implements error matching for errors.Is().
func (e *InvalidAmountError) Is(target error) bool {
	return target == ErrInvalidAmount
}

// InvalidServerError is returned when a server record fails validation.
type InvalidServerError struct {
	// Field is the name of the offending field.
	Field string

	// Reason describes why the field is invalid.
	Reason string
}

// Error implements the error interface.
func (e *InvalidServerError) Error() string {
	return fmt.Sprintf("invalid server record: field %q %s", e.Field, e.Reason)
}

// Is implements error matching for errors.Is().
func (e *InvalidServerError) Is(target error) bool {
	return target == ErrInvalidServer
}
