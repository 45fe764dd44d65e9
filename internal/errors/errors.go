// Package errors consolidates sentinel error definitions for velostore.
//
// The taxonomy mirrors how callers are expected to react:
//   - validation errors: the sample is wrong, fix and resubmit, never retried
//   - conflict errors: duplicate or out-of-order keys, surfaced to the caller
//   - not-found errors: unknown station for lookups and spatial queries
//   - transient storage errors: background managers retry on the next tick
package errors

import (
	"errors"
	"fmt"
)

var (
	// Validation errors. Local to a single write, never retried by the
	// engine; the caller must correct the input.
	ErrInvalidSample  = errors.New("invalid sample")
	ErrUnknownStation = errors.New("unknown station")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingField   = errors.New("missing required field")

	// Conflict errors.
	ErrDuplicateKey  = errors.New("duplicate sample key")
	ErrOutOfOrder    = errors.New("sample older than retention boundary")
	ErrDuplicateCode = errors.New("duplicate station code")
	ErrStationInUse  = errors.New("station still referenced by stored samples")

	// Not-found errors.
	ErrStationNotFound  = errors.New("station not found")
	ErrNotFound         = errors.New("not found")
	ErrModelRunNotFound = errors.New("model run not found")

	// State errors.
	ErrInvalidTransition = errors.New("invalid chunk state transition")
	ErrChunkQuarantined  = errors.New("chunk quarantined")
	ErrClosed            = errors.New("store is closed")

	// Transient errors. Background managers log, skip the chunk and retry
	// on the next scheduled tick. The ingest path surfaces them immediately.
	ErrStorage = errors.New("storage error")
)

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidSample) ||
		errors.Is(err, ErrUnknownStation) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsConflict returns true if err is a key conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrOutOfOrder) ||
		errors.Is(err, ErrDuplicateCode) ||
		errors.Is(err, ErrStationInUse)
}

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStationNotFound) ||
		errors.Is(err, ErrModelRunNotFound)
}

// IsTransient returns true if the error is retriable on a later tick.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrChunkQuarantined)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewInvalidSample creates a validation error with the failing rule.
func NewInvalidSample(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrInvalidSample)
}

// NewUnknownStation creates an unknown-station error.
func NewUnknownStation(stationID uint64) error {
	return fmt.Errorf("station %d: %w", stationID, ErrUnknownStation)
}

// NewStorage wraps an underlying I/O failure as a transient storage error.
func NewStorage(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrStorage)
}
