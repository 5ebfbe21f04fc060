/*
Package payout provides the core payout bookkeeping engine.

PURPOSE:
  This package owns the entity graph of a payout run (period -> version ->
  order -> calculation -> manual edit), the per-worker aggregate projection
  and the Version Store that keeps the two consistent on every write.

KEY CONCEPTS IN THIS FILE (types.go):
  - Period: a named pay interval with a draft/sent/paid lifecycle
  - Version: one snapshot of a computation run for a period
  - Order + Calculation: one billable line item and its computed payout
  - WorkerTotal: cached aggregate, always re-derivable from the lines
  - ManualEdit / ChangeEntry: append-only audit records

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal, never a float
  2. Derived data is derived: WorkerTotal is recomputed, never patched
  3. One source of truth: IsClientPayment is a plain field, nothing parses
     the worker name to guess it
  4. Isolation: each version owns its own copy of every line item

SEE ALSO:
  - projection.go: the Aggregator
  - versions.go: the Version Store
  - store.go: persistence interfaces
*/
package payout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PeriodID string
type VersionID string
type OrderID string
type CalculationID string
type EditID string

// =============================================================================
// PERIOD - Named pay interval
// =============================================================================

type PeriodStatus string

const (
	StatusDraft PeriodStatus = "draft" // editable by managers and admins
	StatusSent  PeriodStatus = "sent"  // statements sent to workers
	StatusPaid  PeriodStatus = "paid"  // paid out
)

// Valid reports whether s is one of the known statuses.
func (s PeriodStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid:
		return true
	}
	return false
}

type Period struct {
	ID        PeriodID
	Name      string // human label, e.g. "01-15.11.25"
	Month     time.Month
	Year      int
	Status    PeriodStatus
	SentAt    *time.Time
	PaidAt    *time.Time
	CreatedAt time.Time
}

// =============================================================================
// VERSION - One computation run for a period (historically "upload")
// =============================================================================

type Version struct {
	ID        VersionID
	PeriodID  PeriodID
	Sequence  int // 1, 2, 3... per period
	Config    VersionConfig
	CreatedBy string
	CreatedAt time.Time
}

// VersionConfig is the configuration blob a version was computed with.
// Tariff is kept opaque here so the fee package owns its own schema.
type VersionConfig struct {
	Tariff         json.RawMessage            `json:"tariff,omitempty"`
	FuelDeductions map[string]decimal.Decimal `json:"fuel_deductions,omitempty"`
}

// =============================================================================
// ORDER - One unit of billable work
// =============================================================================

type Order struct {
	ID        OrderID
	VersionID VersionID

	// Worker is the base name. Payment responsibility lives in
	// IsClientPayment and nowhere else.
	Worker string

	// Key is the natural key used for diffing across versions. For feed rows
	// it is derived once at import; manual rows get a synthetic key at
	// creation that never changes afterwards.
	Key string

	OrderCode   string
	Description string
	Address     string
	OrderDate   *time.Time
	DaysOnSite  int

	RevenueTotal       decimal.Decimal
	RevenueServices    decimal.Decimal
	Diagnostic         decimal.Decimal
	DiagnosticPayment  decimal.Decimal
	SpecialistFee      decimal.Decimal
	AdditionalExpenses decimal.Decimal
	ServicePayment     decimal.Decimal

	Percent      string          // raw, as received ("30,00 %")
	PercentValue decimal.Decimal // parsed; zero when malformed

	ManagerComment string

	IsClientPayment bool
	IsOverThreshold bool
	IsManualRow     bool
}

// =============================================================================
// CALCULATION - Computed payout for exactly one order
// =============================================================================

type Calculation struct {
	ID                   CalculationID
	OrderID              OrderID
	VersionID            VersionID
	FuelPayment          decimal.Decimal
	Transport            decimal.Decimal
	DiagnosticAdjustment decimal.Decimal
	Total                decimal.Decimal
}

// CalcField names a reviewer-editable calculation field.
type CalcField string

const (
	FieldFuelPayment          CalcField = "fuel_payment"
	FieldTransport            CalcField = "transport"
	FieldDiagnosticAdjustment CalcField = "diagnostic_adjustment"
	FieldTotal                CalcField = "total"

	// FieldAdded marks the edit record written when a reviewer adds a manual row.
	FieldAdded CalcField = "added"
)

// Get returns the value of a calculation field.
func (c Calculation) Get(field CalcField) (decimal.Decimal, error) {
	switch field {
	case FieldFuelPayment:
		return c.FuelPayment, nil
	case FieldTransport:
		return c.Transport, nil
	case FieldDiagnosticAdjustment:
		return c.DiagnosticAdjustment, nil
	case FieldTotal:
		return c.Total, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidField, field)
}

// Set overrides a single calculation field. Other fields are left untouched.
func (c *Calculation) Set(field CalcField, value decimal.Decimal) error {
	switch field {
	case FieldFuelPayment:
		c.FuelPayment = value
	case FieldTransport:
		c.Transport = value
	case FieldDiagnosticAdjustment:
		c.DiagnosticAdjustment = value
	case FieldTotal:
		c.Total = value
	default:
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	return nil
}

// Line is an order joined to its calculation.
type Line struct {
	Order       Order
	Calculation Calculation
}

// =============================================================================
// WORKER TOTAL - Cached aggregate per (version, base name)
// =============================================================================

type WorkerTotal struct {
	VersionID          VersionID
	Worker             string
	OrdersCount        int
	CompanyOrdersCount int
	ClientOrdersCount  int
	CompanyAmount      decimal.Decimal
	ClientAmount       decimal.Decimal
	TotalAmount        decimal.Decimal
	FuelTotal          decimal.Decimal
	TransportTotal     decimal.Decimal
}

// Equal compares every aggregate field. VersionID is ignored.
func (t WorkerTotal) Equal(o WorkerTotal) bool {
	return t.Worker == o.Worker &&
		t.OrdersCount == o.OrdersCount &&
		t.CompanyOrdersCount == o.CompanyOrdersCount &&
		t.ClientOrdersCount == o.ClientOrdersCount &&
		t.CompanyAmount.Equal(o.CompanyAmount) &&
		t.ClientAmount.Equal(o.ClientAmount) &&
		t.TotalAmount.Equal(o.TotalAmount) &&
		t.FuelTotal.Equal(o.FuelTotal) &&
		t.TransportTotal.Equal(o.TransportTotal)
}

// =============================================================================
// AUDIT RECORDS
// =============================================================================

// ManualEdit records one reviewer override. Append-only.
type ManualEdit struct {
	ID            EditID
	VersionID     VersionID
	OrderID       OrderID
	CalculationID CalculationID
	OrderKey      string
	Worker        string
	Field         CalcField
	OldValue      decimal.Decimal
	NewValue      decimal.Decimal
	ActorID       string
	ActorName     string
	PeriodStatus  PeriodStatus
	RestoredFrom  EditID // set when the edit re-applies one from a previous version
	CreatedAt     time.Time
}

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// ChangeEntry is one row of the per-materialize change log.
type ChangeEntry struct {
	ID            string
	VersionID     VersionID
	PrevVersionID VersionID
	Type          ChangeType
	OrderKey      string
	Worker        string
	Field         string // empty for added/deleted
	Before        string
	After         string
	CreatedAt     time.Time
}
