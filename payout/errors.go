/*
errors.go - Centralized error types for the payout engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is against the sentinels; structured errors
  carry context and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Recoverable per-item problems (malformed percentage, unresolvable
     address) - surfaced as Warnings, never abort a batch
  2. Fatal to one call (empty import, period locked, invalid transition,
     forbidden, not found, stale version)
  3. Internal consistency (aggregate drift) - repaired, not user-facing

SEE ALSO:
  - versions.go: returns most of these
  - api/errors.go: maps Kind to HTTP status and the result envelope
*/
package payout

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrMalformedPercentage = errors.New("malformed percentage")
	ErrUnresolvableAddress = errors.New("unresolvable address")

	// ErrEmptyImport is returned when an incoming feed has no parseable rows.
	// No version is created.
	ErrEmptyImport = errors.New("import contains no rows")

	// ErrPeriodLocked is returned when a mutation targets a period whose
	// status does not allow it.
	ErrPeriodLocked = errors.New("period locked")

	ErrInvalidTransition = errors.New("invalid period status transition")

	// ErrAggregateDrift means stored worker totals differ from the projection
	// of the version's lines. It triggers a forced recalculation.
	ErrAggregateDrift = errors.New("worker totals drifted from line items")

	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrInvalidField = errors.New("invalid field")

	// ErrStaleVersion is returned when a reconciliation was diffed against a
	// version that is no longer the latest of its period.
	ErrStaleVersion = errors.New("previous version is no longer the latest")

	// ErrInvalidState is returned on an illegal reconciliation attempt step.
	ErrInvalidState = errors.New("invalid reconciliation state")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type MalformedPercentageError struct {
	Raw string
}

func (e *MalformedPercentageError) Error() string {
	return fmt.Sprintf("malformed percentage %q", e.Raw)
}

func (e *MalformedPercentageError) Unwrap() error { return ErrMalformedPercentage }

type UnresolvableAddressError struct {
	Address string
	Cause   error
}

func (e *UnresolvableAddressError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unresolvable address %q: %v", e.Address, e.Cause)
	}
	return fmt.Sprintf("unresolvable address %q", e.Address)
}

func (e *UnresolvableAddressError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrUnresolvableAddress}
	}
	return []error{ErrUnresolvableAddress, e.Cause}
}

type PeriodLockedError struct {
	PeriodID PeriodID
	Status   PeriodStatus
}

func (e *PeriodLockedError) Error() string {
	return fmt.Sprintf("period %s is %s", e.PeriodID, e.Status)
}

func (e *PeriodLockedError) Unwrap() error { return ErrPeriodLocked }

type InvalidTransitionError struct {
	From PeriodStatus
	To   PeriodStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move period from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// AggregateDriftError lists the workers whose stored totals disagreed with
// the projection.
type AggregateDriftError struct {
	VersionID VersionID
	Workers   []string
}

func (e *AggregateDriftError) Error() string {
	return fmt.Sprintf("version %s: totals drifted for %d worker(s)", e.VersionID, len(e.Workers))
}

func (e *AggregateDriftError) Unwrap() error { return ErrAggregateDrift }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// KINDS - Machine-readable classification for result envelopes
// =============================================================================

type Kind string

const (
	KindMalformedPercentage Kind = "malformed_percentage"
	KindUnresolvableAddress Kind = "unresolvable_address"
	KindEmptyImport         Kind = "empty_import"
	KindPeriodLocked        Kind = "period_locked"
	KindAggregateDrift      Kind = "aggregate_drift"
	KindInvalidTransition   Kind = "invalid_transition"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindInvalidInput        Kind = "invalid_input"
	KindConflict            Kind = "conflict"
	KindInternal            Kind = "internal"
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedPercentage):
		return KindMalformedPercentage
	case errors.Is(err, ErrUnresolvableAddress):
		return KindUnresolvableAddress
	case errors.Is(err, ErrEmptyImport):
		return KindEmptyImport
	case errors.Is(err, ErrPeriodLocked):
		return KindPeriodLocked
	case errors.Is(err, ErrAggregateDrift):
		return KindAggregateDrift
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidField):
		return KindInvalidInput
	case errors.Is(err, ErrStaleVersion), errors.Is(err, ErrInvalidState):
		return KindConflict
	}
	return KindInternal
}

// IsClientError returns true if the error is due to the caller's input or
// permissions rather than a failure of the engine.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case "", KindInternal, KindAggregateDrift:
		return false
	}
	return true
}

// =============================================================================
// WARNINGS - Recoverable per-item problems attached to a batch result
// =============================================================================

type Warning struct {
	Kind     Kind   `json:"kind"`
	OrderKey string `json:"order_key,omitempty"`
	Message  string `json:"message"`
}

// WarningFrom turns a recoverable error into a warning for the given line.
func WarningFrom(orderKey string, err error) Warning {
	return Warning{Kind: KindOf(err), OrderKey: orderKey, Message: err.Error()}
}
