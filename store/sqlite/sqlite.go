/*
Package sqlite provides a SQLite-backed implementation of payout.TxStore.

PURPOSE:
  Persists the payout entity graph (periods, versions, orders,
  calculations, cached worker totals, manual edits and the change log).
  The Version Store in package payout is the only writer; this package
  only maps rows.

KEY TABLES:
  periods:        Named pay intervals, unique by name
  versions:       One row per computation run, unique (period_id, sequence)
  orders:         Line items, owned by exactly one version
  calculations:   One per order
  worker_totals:  Cached per-worker aggregates, replaced wholesale
  manual_edits:   Append-only reviewer overrides
  changes:        Append-only change log, one batch per materialize

CASCADES:
  Foreign keys cascade period -> versions -> everything the version owns.
  DeleteOrder removes the order's edits explicitly since restored edits
  may outlive the order they were first recorded on.

MONEY:
  Amounts are stored as TEXT decimal strings and read back with
  decimal.NewFromString. Never REAL.

CONCURRENCY:
  The pool is limited to one connection. A transaction holds it for its
  whole duration, so readers outside the transaction wait rather than see
  partial writes. Callers must use the Store passed to WithTx's fn, never
  the outer one, while inside fn.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for crash recovery.

USAGE:
  store, err := sqlite.New("./data/payout.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  versions := payout.NewVersionStore(store)

SEE ALSO:
  - payout/store.go: Interface definitions
  - payout/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/payout-engine/payout"
)

// timeLayout sorts lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements payout.TxStore using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

var (
	_ payout.TxStore = (*Store)(nil)
	_ payout.Store   = (*queries)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{q: db}, db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS periods (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		status TEXT NOT NULL,
		sent_at TEXT,
		paid_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS versions (
		id TEXT PRIMARY KEY,
		period_id TEXT NOT NULL REFERENCES periods(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		config_json TEXT NOT NULL,
		created_by TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (period_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		version_id TEXT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
		worker TEXT NOT NULL,
		natural_key TEXT NOT NULL,
		order_code TEXT,
		description TEXT,
		address TEXT,
		order_date TEXT,
		days_on_site INTEGER NOT NULL DEFAULT 0,
		revenue_total TEXT NOT NULL,
		revenue_services TEXT NOT NULL,
		diagnostic TEXT NOT NULL,
		diagnostic_payment TEXT NOT NULL,
		specialist_fee TEXT NOT NULL,
		additional_expenses TEXT NOT NULL,
		service_payment TEXT NOT NULL,
		percent TEXT,
		percent_value TEXT NOT NULL,
		manager_comment TEXT,
		is_client_payment INTEGER NOT NULL,
		is_over_threshold INTEGER NOT NULL,
		is_manual_row INTEGER NOT NULL
	);

	-- Hot path: Lines(version) ordered by worker, key
	CREATE INDEX IF NOT EXISTS idx_orders_version_worker_key
		ON orders(version_id, worker, natural_key);

	CREATE TABLE IF NOT EXISTS calculations (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
		version_id TEXT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
		fuel_payment TEXT NOT NULL,
		transport TEXT NOT NULL,
		diagnostic_adjustment TEXT NOT NULL,
		total TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS worker_totals (
		version_id TEXT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
		worker TEXT NOT NULL,
		orders_count INTEGER NOT NULL,
		company_orders_count INTEGER NOT NULL,
		client_orders_count INTEGER NOT NULL,
		company_amount TEXT NOT NULL,
		client_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		fuel_total TEXT NOT NULL,
		transport_total TEXT NOT NULL,
		PRIMARY KEY (version_id, worker)
	);

	CREATE TABLE IF NOT EXISTS manual_edits (
		id TEXT PRIMARY KEY,
		version_id TEXT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
		order_id TEXT NOT NULL,
		calculation_id TEXT,
		order_key TEXT,
		worker TEXT,
		field TEXT NOT NULL,
		old_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		actor_id TEXT,
		actor_name TEXT,
		period_status TEXT,
		restored_from TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_manual_edits_version
		ON manual_edits(version_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_manual_edits_order
		ON manual_edits(order_id);

	CREATE TABLE IF NOT EXISTS changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		version_id TEXT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
		prev_version_id TEXT,
		change_type TEXT NOT NULL,
		order_key TEXT,
		worker TEXT,
		field TEXT,
		before_value TEXT,
		after_value TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_changes_version
		ON changes(version_id, seq);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(payout.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// queries implements payout.Store over either the pool or a transaction.
type queries struct {
	q querier
}

// =============================================================================
// PERIODS
// =============================================================================

const periodColumns = `id, name, month, year, status, sent_at, paid_at, created_at`

func (s *queries) CreatePeriod(ctx context.Context, p payout.Period) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO periods (`+periodColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, int(p.Month), p.Year, p.Status,
		nullTime(p.SentAt), nullTime(p.PaidAt), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create period: %w", err)
	}
	return nil
}

func (s *queries) GetPeriod(ctx context.Context, id payout.PeriodID) (*payout.Period, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM periods WHERE id = ?`, id)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("period", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *queries) FindPeriodByName(ctx context.Context, name string) (*payout.Period, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM periods WHERE name = ?`, name)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *queries) ListPeriods(ctx context.Context) ([]payout.Period, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+periodColumns+` FROM periods ORDER BY created_at DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var out []payout.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *queries) UpdatePeriod(ctx context.Context, p payout.Period) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE periods SET name = ?, month = ?, year = ?, status = ?, sent_at = ?, paid_at = ? WHERE id = ?`,
		p.Name, int(p.Month), p.Year, p.Status, nullTime(p.SentAt), nullTime(p.PaidAt), p.ID,
	)
	return affected(res, err, "period", string(p.ID))
}

// DeletePeriod relies on ON DELETE CASCADE for everything below the period.
// Edits are attached to versions, so they go with them.
func (s *queries) DeletePeriod(ctx context.Context, id payout.PeriodID) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM periods WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete period: %w", err)
	}
	return nil
}

// =============================================================================
// VERSIONS
// =============================================================================

const versionColumns = `id, period_id, sequence, config_json, created_by, created_at`

func (s *queries) CreateVersion(ctx context.Context, v payout.Version) error {
	cfg, err := json.Marshal(v.Config)
	if err != nil {
		return fmt.Errorf("failed to encode version config: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO versions (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.PeriodID, v.Sequence, string(cfg), v.CreatedBy, formatTime(v.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create version: %w", err)
	}
	return nil
}

func (s *queries) GetVersion(ctx context.Context, id payout.VersionID) (*payout.Version, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM versions WHERE id = ?`, id)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("version", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *queries) ListVersions(ctx context.Context, periodID payout.PeriodID) ([]payout.Version, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM versions WHERE period_id = ? ORDER BY sequence ASC`, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var out []payout.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// =============================================================================
// ORDERS AND CALCULATIONS
// =============================================================================

const orderColumns = `id, version_id, worker, natural_key, order_code, description, address,
	order_date, days_on_site, revenue_total, revenue_services, diagnostic, diagnostic_payment,
	specialist_fee, additional_expenses, service_payment, percent, percent_value,
	manager_comment, is_client_payment, is_over_threshold, is_manual_row`

const calcColumns = `id, order_id, version_id, fuel_payment, transport, diagnostic_adjustment, total`

func (s *queries) InsertLine(ctx context.Context, line payout.Line) error {
	o, c := line.Order, line.Calculation
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{o.ID}, orderValues(o)...)...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO calculations (`+calcColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrderID, c.VersionID,
		c.FuelPayment.String(), c.Transport.String(), c.DiagnosticAdjustment.String(), c.Total.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert calculation: %w", err)
	}
	return nil
}

func (s *queries) GetOrder(ctx context.Context, id payout.OrderID) (*payout.Order, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("order", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *queries) UpdateOrder(ctx context.Context, o payout.Order) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE orders SET version_id = ?, worker = ?, natural_key = ?, order_code = ?, description = ?,
			address = ?, order_date = ?, days_on_site = ?, revenue_total = ?, revenue_services = ?,
			diagnostic = ?, diagnostic_payment = ?, specialist_fee = ?, additional_expenses = ?,
			service_payment = ?, percent = ?, percent_value = ?, manager_comment = ?,
			is_client_payment = ?, is_over_threshold = ?, is_manual_row = ?
		WHERE id = ?`,
		append(orderValues(o), o.ID)...,
	)
	return affected(res, err, "order", string(o.ID))
}

// DeleteOrder removes edits, then the calculation, then the order.
func (s *queries) DeleteOrder(ctx context.Context, id payout.OrderID) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM manual_edits WHERE order_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete edits: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM calculations WHERE order_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete calculation: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	return affected(res, err, "order", string(id))
}

func (s *queries) GetCalculation(ctx context.Context, id payout.CalculationID) (*payout.Calculation, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+calcColumns+` FROM calculations WHERE id = ?`, id)
	c, err := scanCalculation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("calculation", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *queries) CalculationForOrder(ctx context.Context, orderID payout.OrderID) (*payout.Calculation, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+calcColumns+` FROM calculations WHERE order_id = ?`, orderID)
	c, err := scanCalculation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("calculation for order", string(orderID))
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *queries) UpdateCalculation(ctx context.Context, c payout.Calculation) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE calculations SET fuel_payment = ?, transport = ?, diagnostic_adjustment = ?, total = ?
		WHERE id = ?`,
		c.FuelPayment.String(), c.Transport.String(), c.DiagnosticAdjustment.String(), c.Total.String(), c.ID,
	)
	return affected(res, err, "calculation", string(c.ID))
}

// Lines joins orders to calculations; orders without one are skipped.
func (s *queries) Lines(ctx context.Context, versionID payout.VersionID) ([]payout.Line, error) {
	cols := "o." + strings.Join(strings.Fields(strings.ReplaceAll(orderColumns, ",", " ")), ", o.") +
		", c." + strings.Join(strings.Fields(strings.ReplaceAll(calcColumns, ",", " ")), ", c.")
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+cols+`
		FROM orders o JOIN calculations c ON c.order_id = o.id
		WHERE o.version_id = ?
		ORDER BY o.worker ASC, o.natural_key ASC`, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	var out []payout.Line
	for rows.Next() {
		var (
			o  orderRow
			cr calcRow
		)
		if err := rows.Scan(append(o.dest(), cr.dest()...)...); err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}
		order, err := o.order()
		if err != nil {
			return nil, err
		}
		calc, err := cr.calculation()
		if err != nil {
			return nil, err
		}
		out = append(out, payout.Line{Order: order, Calculation: calc})
	}
	return out, rows.Err()
}

// =============================================================================
// CACHED AGGREGATES
// =============================================================================

func (s *queries) ReplaceTotals(ctx context.Context, versionID payout.VersionID, totals []payout.WorkerTotal) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM worker_totals WHERE version_id = ?`, versionID); err != nil {
		return fmt.Errorf("failed to clear totals: %w", err)
	}
	for _, t := range totals {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO worker_totals
			(version_id, worker, orders_count, company_orders_count, client_orders_count,
			 company_amount, client_amount, total_amount, fuel_total, transport_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			versionID, t.Worker, t.OrdersCount, t.CompanyOrdersCount, t.ClientOrdersCount,
			t.CompanyAmount.String(), t.ClientAmount.String(), t.TotalAmount.String(),
			t.FuelTotal.String(), t.TransportTotal.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert total for %q: %w", t.Worker, err)
		}
	}
	return nil
}

func (s *queries) Totals(ctx context.Context, versionID payout.VersionID) ([]payout.WorkerTotal, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT version_id, worker, orders_count, company_orders_count, client_orders_count,
			company_amount, client_amount, total_amount, fuel_total, transport_total
		FROM worker_totals WHERE version_id = ? ORDER BY worker ASC`, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	var out []payout.WorkerTotal
	for rows.Next() {
		var (
			t                                       payout.WorkerTotal
			company, client, total, fuel, transport string
		)
		if err := rows.Scan(&t.VersionID, &t.Worker, &t.OrdersCount, &t.CompanyOrdersCount, &t.ClientOrdersCount,
			&company, &client, &total, &fuel, &transport); err != nil {
			return nil, fmt.Errorf("failed to scan total: %w", err)
		}
		if err := parseDecimals(
			field{company, &t.CompanyAmount}, field{client, &t.ClientAmount}, field{total, &t.TotalAmount},
			field{fuel, &t.FuelTotal}, field{transport, &t.TransportTotal},
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT
// =============================================================================

const editColumns = `id, version_id, order_id, calculation_id, order_key, worker, field,
	old_value, new_value, actor_id, actor_name, period_status, restored_from, created_at`

func (s *queries) AppendEdit(ctx context.Context, e payout.ManualEdit) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO manual_edits (`+editColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.VersionID, e.OrderID, e.CalculationID, e.OrderKey, e.Worker, e.Field,
		e.OldValue.String(), e.NewValue.String(), e.ActorID, e.ActorName, e.PeriodStatus,
		nullString(string(e.RestoredFrom)), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append edit: %w", err)
	}
	return nil
}

func (s *queries) Edits(ctx context.Context, versionID payout.VersionID) ([]payout.ManualEdit, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+editColumns+` FROM manual_edits WHERE version_id = ? ORDER BY created_at ASC, id ASC`, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edits: %w", err)
	}
	defer rows.Close()

	var out []payout.ManualEdit
	for rows.Next() {
		e, err := scanEdit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *queries) GetEdit(ctx context.Context, id payout.EditID) (*payout.ManualEdit, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+editColumns+` FROM manual_edits WHERE id = ?`, id)
	e, err := scanEdit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("manual edit", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *queries) AppendChanges(ctx context.Context, entries []payout.ChangeEntry) error {
	for _, c := range entries {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO changes
			(id, version_id, prev_version_id, change_type, order_key, worker, field, before_value, after_value, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.VersionID, nullString(string(c.PrevVersionID)), c.Type, c.OrderKey, c.Worker,
			c.Field, c.Before, c.After, formatTime(c.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to append change: %w", err)
		}
	}
	return nil
}

func (s *queries) Changes(ctx context.Context, versionID payout.VersionID) ([]payout.ChangeEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, version_id, prev_version_id, change_type, order_key, worker, field,
			before_value, after_value, created_at
		FROM changes WHERE version_id = ? ORDER BY seq ASC`, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var out []payout.ChangeEntry
	for rows.Next() {
		var (
			c                                     payout.ChangeEntry
			prev, key, worker, fld, before, after sql.NullString
			createdAt                             string
		)
		if err := rows.Scan(&c.ID, &c.VersionID, &prev, &c.Type, &key, &worker, &fld,
			&before, &after, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.PrevVersionID = payout.VersionID(prev.String)
		c.OrderKey, c.Worker, c.Field = key.String, worker.String, fld.String
		c.Before, c.After = before.String, after.String
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanPeriod(sc scanner) (payout.Period, error) {
	var (
		p              payout.Period
		month          int
		sentAt, paidAt sql.NullString
		createdAt      string
	)
	err := sc.Scan(&p.ID, &p.Name, &month, &p.Year, &p.Status, &sentAt, &paidAt, &createdAt)
	if err != nil {
		return p, err
	}
	p.Month = time.Month(month)
	p.SentAt = parseNullTime(sentAt)
	p.PaidAt = parseNullTime(paidAt)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

func scanVersion(sc scanner) (payout.Version, error) {
	var (
		v         payout.Version
		cfg       string
		createdBy sql.NullString
		createdAt string
	)
	if err := sc.Scan(&v.ID, &v.PeriodID, &v.Sequence, &cfg, &createdBy, &createdAt); err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(cfg), &v.Config); err != nil {
		return v, fmt.Errorf("failed to decode config of version %s: %w", v.ID, err)
	}
	v.CreatedBy = createdBy.String
	v.CreatedAt = parseTime(createdAt)
	return v, nil
}

// orderRow holds the raw column values of one orders row.
type orderRow struct {
	o                                            payout.Order
	code, desc, addr, date, percent, comment     sql.NullString
	total, services, diag, diagPay, fee, exp, pay string
	percentValue                                 string
	client, over, manual                         bool
}

func (r *orderRow) dest() []any {
	return []any{
		&r.o.ID, &r.o.VersionID, &r.o.Worker, &r.o.Key, &r.code, &r.desc, &r.addr,
		&r.date, &r.o.DaysOnSite, &r.total, &r.services, &r.diag, &r.diagPay,
		&r.fee, &r.exp, &r.pay, &r.percent, &r.percentValue,
		&r.comment, &r.client, &r.over, &r.manual,
	}
}

func (r *orderRow) order() (payout.Order, error) {
	o := r.o
	o.OrderCode, o.Description, o.Address = r.code.String, r.desc.String, r.addr.String
	o.Percent, o.ManagerComment = r.percent.String, r.comment.String
	o.OrderDate = parseNullTime(r.date)
	o.IsClientPayment, o.IsOverThreshold, o.IsManualRow = r.client, r.over, r.manual
	err := parseDecimals(
		field{r.total, &o.RevenueTotal}, field{r.services, &o.RevenueServices},
		field{r.diag, &o.Diagnostic}, field{r.diagPay, &o.DiagnosticPayment},
		field{r.fee, &o.SpecialistFee}, field{r.exp, &o.AdditionalExpenses},
		field{r.pay, &o.ServicePayment}, field{r.percentValue, &o.PercentValue},
	)
	if err != nil {
		return o, fmt.Errorf("order %s: %w", o.ID, err)
	}
	return o, nil
}

func scanOrder(sc scanner) (payout.Order, error) {
	var r orderRow
	if err := sc.Scan(r.dest()...); err != nil {
		return payout.Order{}, err
	}
	return r.order()
}

// orderValues lists every column after id, in orderColumns order.
func orderValues(o payout.Order) []any {
	return []any{
		o.VersionID, o.Worker, o.Key, o.OrderCode, o.Description, o.Address,
		nullTime(o.OrderDate), o.DaysOnSite,
		o.RevenueTotal.String(), o.RevenueServices.String(), o.Diagnostic.String(),
		o.DiagnosticPayment.String(), o.SpecialistFee.String(), o.AdditionalExpenses.String(),
		o.ServicePayment.String(), o.Percent, o.PercentValue.String(), o.ManagerComment,
		o.IsClientPayment, o.IsOverThreshold, o.IsManualRow,
	}
}

type calcRow struct {
	c                            payout.Calculation
	fuel, transport, diag, total string
}

func (r *calcRow) dest() []any {
	return []any{&r.c.ID, &r.c.OrderID, &r.c.VersionID, &r.fuel, &r.transport, &r.diag, &r.total}
}

func (r *calcRow) calculation() (payout.Calculation, error) {
	c := r.c
	err := parseDecimals(
		field{r.fuel, &c.FuelPayment}, field{r.transport, &c.Transport},
		field{r.diag, &c.DiagnosticAdjustment}, field{r.total, &c.Total},
	)
	if err != nil {
		return c, fmt.Errorf("calculation %s: %w", c.ID, err)
	}
	return c, nil
}

func scanCalculation(sc scanner) (payout.Calculation, error) {
	var r calcRow
	if err := sc.Scan(r.dest()...); err != nil {
		return payout.Calculation{}, err
	}
	return r.calculation()
}

func scanEdit(sc scanner) (payout.ManualEdit, error) {
	var (
		e                                   payout.ManualEdit
		calcID, key, worker, actorID, actor sql.NullString
		status, restored                    sql.NullString
		oldValue, newValue, createdAt       string
	)
	err := sc.Scan(&e.ID, &e.VersionID, &e.OrderID, &calcID, &key, &worker, &e.Field,
		&oldValue, &newValue, &actorID, &actor, &status, &restored, &createdAt)
	if err != nil {
		return e, err
	}
	e.CalculationID = payout.CalculationID(calcID.String)
	e.OrderKey, e.Worker = key.String, worker.String
	e.ActorID, e.ActorName = actorID.String, actor.String
	e.PeriodStatus = payout.PeriodStatus(status.String)
	e.RestoredFrom = payout.EditID(restored.String)
	e.CreatedAt = parseTime(createdAt)
	if err := parseDecimals(field{oldValue, &e.OldValue}, field{newValue, &e.NewValue}); err != nil {
		return e, fmt.Errorf("edit %s: %w", e.ID, err)
	}
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type field struct {
	raw  string
	dest *decimal.Decimal
}

func parseDecimals(fields ...field) error {
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("invalid stored amount %q: %w", f.raw, err)
		}
		*f.dest = d
	}
	return nil
}

func notFound(entity, id string) error {
	return &payout.NotFoundError{Entity: entity, ID: id}
}

// affected turns a zero-row UPDATE or DELETE into a NotFoundError.
func affected(res sql.Result, err error, entity, id string) error {
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
