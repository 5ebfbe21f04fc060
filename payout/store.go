/*
store.go - Persistence interface for the payout entity graph

PURPOSE:
  Defines the interface between the Version Store and the database.
  Implementations only persist and load rows; every rule about who may
  write what, and keeping totals consistent, lives in versions.go.

KEY INTERFACES:
  Store:   Row-level persistence of periods, versions, lines, totals,
           manual edits and change log entries
  TxStore: Store plus WithTx for atomic multi-table writes

NOT-FOUND CONTRACT:
  Get* methods return a *NotFoundError (errors.Is(err, ErrNotFound)) when
  the row does not exist. Find* and List* methods return empty results.

CASCADES:
  DeletePeriod removes versions, orders, calculations, totals, edits and
  change entries of the period. DeleteOrder removes its calculation and
  its manual edits.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - payout/store/memory.go: In-memory for testing

SEE ALSO:
  - versions.go: the only writer
*/
package payout

import "context"

// =============================================================================
// STORE - Row persistence
// =============================================================================

type Store interface {
	// Periods
	CreatePeriod(ctx context.Context, p Period) error
	GetPeriod(ctx context.Context, id PeriodID) (*Period, error)
	FindPeriodByName(ctx context.Context, name string) (*Period, error) // nil when absent
	ListPeriods(ctx context.Context) ([]Period, error)                  // newest first
	UpdatePeriod(ctx context.Context, p Period) error
	DeletePeriod(ctx context.Context, id PeriodID) error

	// Versions
	CreateVersion(ctx context.Context, v Version) error
	GetVersion(ctx context.Context, id VersionID) (*Version, error)
	ListVersions(ctx context.Context, periodID PeriodID) ([]Version, error) // ascending Sequence

	// Orders and calculations
	InsertLine(ctx context.Context, line Line) error
	GetOrder(ctx context.Context, id OrderID) (*Order, error)
	UpdateOrder(ctx context.Context, o Order) error
	DeleteOrder(ctx context.Context, id OrderID) error
	GetCalculation(ctx context.Context, id CalculationID) (*Calculation, error)
	CalculationForOrder(ctx context.Context, orderID OrderID) (*Calculation, error)
	UpdateCalculation(ctx context.Context, c Calculation) error
	Lines(ctx context.Context, versionID VersionID) ([]Line, error) // ordered by worker, key

	// Cached aggregates
	ReplaceTotals(ctx context.Context, versionID VersionID, totals []WorkerTotal) error
	Totals(ctx context.Context, versionID VersionID) ([]WorkerTotal, error) // ordered by worker

	// Audit
	AppendEdit(ctx context.Context, e ManualEdit) error
	Edits(ctx context.Context, versionID VersionID) ([]ManualEdit, error) // ordered by CreatedAt, ID
	GetEdit(ctx context.Context, id EditID) (*ManualEdit, error)
	AppendChanges(ctx context.Context, entries []ChangeEntry) error
	Changes(ctx context.Context, versionID VersionID) ([]ChangeEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
