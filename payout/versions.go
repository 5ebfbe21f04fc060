/*
versions.go - The Version Store

PURPOSE:
  The only writer of the entity graph. Every write path runs inside one
  TxStore transaction and enforces two standing rules:

  1. Any order or calculation mutation in version V is followed, in the same
     transaction, by a full re-projection of V's WorkerTotals. Totals are
     overwritten, never patched.
  2. Deleting an order cascades ManualEdits -> Calculation -> Order and is
     refused with ErrPeriodLocked unless the period is draft.

PERMISSIONS:
  Every mutating entry point takes an Actor and checks it against the
  owning period's status (see actor.go). ForceRecalculate is a repair
  operation and is allowed at any time.

CONCURRENCY:
  Writes to the same version are serialized with a per-version lock.
  Different versions proceed in parallel (subject to the backend).

EXAMPLE:
  vs := payout.NewVersionStore(sqliteStore)
  edit, err := vs.UpdateCalculationField(ctx, actor, calcID, payout.FieldTotal, decimal.NewFromInt(5000))
  if errors.Is(err, payout.ErrPeriodLocked) {
      // period already sent
  }

SEE ALSO:
  - projection.go: the projection used after every write
  - reconcile/materialize.go: builds NewVersion inputs
*/
package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type VersionStore struct {
	store TxStore
	locks keyedMutex

	// Now and NewID are swappable for tests.
	Now   func() time.Time
	NewID func() string
}

func NewVersionStore(store TxStore) *VersionStore {
	return &VersionStore{
		store: store,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// =============================================================================
// PERIODS
// =============================================================================

// PeriodRef identifies the period a new version belongs to: by ID, or by
// name for get-or-create on first import.
type PeriodRef struct {
	ID    PeriodID
	Name  string
	Month time.Month
	Year  int
}

func (vs *VersionStore) Period(ctx context.Context, id PeriodID) (*Period, error) {
	return vs.store.GetPeriod(ctx, id)
}

func (vs *VersionStore) Periods(ctx context.Context) ([]Period, error) {
	return vs.store.ListPeriods(ctx)
}

func (vs *VersionStore) FindPeriod(ctx context.Context, name string) (*Period, error) {
	return vs.store.FindPeriodByName(ctx, name)
}

// TransitionPeriod moves a period through its lifecycle. The current status
// is left unchanged on any error.
func (vs *VersionStore) TransitionPeriod(ctx context.Context, actor Actor, id PeriodID, to PeriodStatus) (*Period, error) {
	unlock := vs.locks.Lock("period:" + string(id))
	defer unlock()

	var out Period
	err := vs.store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(actor, p.ID, p.Status); err != nil {
			return err
		}
		next, err := p.Transition(to, vs.Now())
		if err != nil {
			return err
		}
		if err := s.UpdatePeriod(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePeriod removes a period and everything under it. Admin only.
func (vs *VersionStore) DeletePeriod(ctx context.Context, actor Actor, id PeriodID) error {
	if err := AuthorizeAdmin(actor); err != nil {
		return err
	}
	unlock := vs.locks.Lock("period:" + string(id))
	defer unlock()

	return vs.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetPeriod(ctx, id); err != nil {
			return err
		}
		return s.DeletePeriod(ctx, id)
	})
}

// =============================================================================
// VERSIONS
// =============================================================================

func (vs *VersionStore) Version(ctx context.Context, id VersionID) (*Version, error) {
	return vs.store.GetVersion(ctx, id)
}

func (vs *VersionStore) Versions(ctx context.Context, periodID PeriodID) ([]Version, error) {
	return vs.store.ListVersions(ctx, periodID)
}

// LatestVersion returns the highest-sequence version of a period, or nil
// when the period has none.
func (vs *VersionStore) LatestVersion(ctx context.Context, periodID PeriodID) (*Version, error) {
	versions, err := vs.store.ListVersions(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	latest := versions[len(versions)-1]
	return &latest, nil
}

// NewVersion is everything needed to persist one materialized version.
type NewVersion struct {
	Period PeriodRef

	// PrevVersionID is the version the lines were diffed against; empty for
	// the first import of a period. It must still be the latest version.
	PrevVersionID VersionID

	Config VersionConfig
	Lines  []Line

	// Edits are linked to their new line by OrderKey.
	Edits   []ManualEdit
	Changes []ChangeEntry
}

// CommitVersion persists a new version with its lines, edits, change log and
// projected totals in one transaction. IDs are assigned here; each version
// gets fresh copies of every line.
func (vs *VersionStore) CommitVersion(ctx context.Context, actor Actor, nv NewVersion) (*Version, error) {
	lockKey := "period:" + string(nv.Period.ID)
	if nv.Period.ID == "" {
		lockKey = "period-name:" + nv.Period.Name
	}
	unlock := vs.locks.Lock(lockKey)
	defer unlock()

	var out Version
	err := vs.store.WithTx(ctx, func(s Store) error {
		period, err := vs.ensurePeriod(ctx, s, actor, nv.Period)
		if err != nil {
			return err
		}
		if err := Authorize(actor, period.ID, period.Status); err != nil {
			return err
		}

		existing, err := s.ListVersions(ctx, period.ID)
		if err != nil {
			return err
		}
		seq := 1
		if n := len(existing); n > 0 {
			latest := existing[n-1]
			if latest.ID != nv.PrevVersionID {
				return fmt.Errorf("%w: diffed against %q, latest is %q", ErrStaleVersion, nv.PrevVersionID, latest.ID)
			}
			seq = latest.Sequence + 1
		} else if nv.PrevVersionID != "" {
			return fmt.Errorf("%w: period %s has no versions", ErrStaleVersion, period.ID)
		}

		now := vs.Now()
		out = Version{
			ID:        VersionID(vs.NewID()),
			PeriodID:  period.ID,
			Sequence:  seq,
			Config:    nv.Config,
			CreatedBy: actor.Name,
			CreatedAt: now,
		}
		if err := s.CreateVersion(ctx, out); err != nil {
			return err
		}

		byKey := make(map[string]Line, len(nv.Lines))
		for _, line := range nv.Lines {
			line = vs.cloneLine(line, out.ID)
			if err := s.InsertLine(ctx, line); err != nil {
				return err
			}
			byKey[line.Order.Key] = line
		}

		for _, e := range nv.Edits {
			line, ok := byKey[e.OrderKey]
			if !ok {
				return fmt.Errorf("edit %s: %w: no line with key %q", e.ID, ErrNotFound, e.OrderKey)
			}
			e.ID = EditID(vs.NewID())
			e.VersionID = out.ID
			e.OrderID = line.Order.ID
			e.CalculationID = line.Calculation.ID
			e.Worker = line.Order.Worker
			e.ActorID, e.ActorName = actor.ID, actor.Name
			e.PeriodStatus = period.Status
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			if err := s.AppendEdit(ctx, e); err != nil {
				return err
			}
		}

		changes := make([]ChangeEntry, len(nv.Changes))
		for i, c := range nv.Changes {
			c.ID = vs.NewID()
			c.VersionID = out.ID
			c.PrevVersionID = nv.PrevVersionID
			c.CreatedAt = now
			changes[i] = c
		}
		if len(changes) > 0 {
			if err := s.AppendChanges(ctx, changes); err != nil {
				return err
			}
		}

		return reproject(ctx, s, out.ID)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (vs *VersionStore) ensurePeriod(ctx context.Context, s Store, actor Actor, ref PeriodRef) (*Period, error) {
	if ref.ID != "" {
		return s.GetPeriod(ctx, ref.ID)
	}
	p, err := s.FindPeriodByName(ctx, ref.Name)
	if err != nil || p != nil {
		return p, err
	}
	if actor.Role == RoleViewer {
		return nil, fmt.Errorf("%w: %s is read-only", ErrForbidden, actor.Name)
	}
	created := Period{
		ID:        PeriodID(vs.NewID()),
		Name:      ref.Name,
		Month:     ref.Month,
		Year:      ref.Year,
		Status:    StatusDraft,
		CreatedAt: vs.Now(),
	}
	if err := s.CreatePeriod(ctx, created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (vs *VersionStore) cloneLine(line Line, versionID VersionID) Line {
	line.Order.ID = OrderID(vs.NewID())
	line.Order.VersionID = versionID
	line.Calculation.ID = CalculationID(vs.NewID())
	line.Calculation.OrderID = line.Order.ID
	line.Calculation.VersionID = versionID
	return line
}

// =============================================================================
// LINE MUTATIONS
// =============================================================================

// CreateOrderWithCalculation adds one computed line to an existing version.
func (vs *VersionStore) CreateOrderWithCalculation(ctx context.Context, actor Actor, versionID VersionID, order Order, calc Calculation) (*Line, error) {
	unlock := vs.locks.Lock(string(versionID))
	defer unlock()

	var out Line
	err := vs.store.WithTx(ctx, func(s Store) error {
		if _, _, err := authorizeVersion(ctx, s, actor, versionID); err != nil {
			return err
		}
		out = vs.cloneLine(Line{Order: order, Calculation: calc}, versionID)
		if out.Order.Key == "" {
			out.Order.Key = "line:" + string(out.Order.ID)
		}
		if err := s.InsertLine(ctx, out); err != nil {
			return err
		}
		return reproject(ctx, s, versionID)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ManualRow is a reviewer-added line with a fixed total.
type ManualRow struct {
	Worker          string
	OrderCode       string
	Description     string
	Address         string
	IsClientPayment bool
	Total           decimal.Decimal
}

// AddManualRow creates a manual line under a synthetic key and records the
// addition as a ManualEdit on field "added".
func (vs *VersionStore) AddManualRow(ctx context.Context, actor Actor, versionID VersionID, row ManualRow) (*Line, error) {
	unlock := vs.locks.Lock(string(versionID))
	defer unlock()

	var out Line
	err := vs.store.WithTx(ctx, func(s Store) error {
		_, period, err := authorizeVersion(ctx, s, actor, versionID)
		if err != nil {
			return err
		}
		order := Order{
			Worker:          row.Worker,
			Key:             ManualKeyPrefix + vs.NewID(),
			OrderCode:       row.OrderCode,
			Description:     row.Description,
			Address:         row.Address,
			ServicePayment:  row.Total,
			IsClientPayment: row.IsClientPayment,
			IsManualRow:     true,
		}
		out = vs.cloneLine(Line{Order: order, Calculation: Calculation{Total: row.Total}}, versionID)
		if err := s.InsertLine(ctx, out); err != nil {
			return err
		}
		edit := ManualEdit{
			ID:            EditID(vs.NewID()),
			VersionID:     versionID,
			OrderID:       out.Order.ID,
			CalculationID: out.Calculation.ID,
			OrderKey:      out.Order.Key,
			Worker:        out.Order.Worker,
			Field:         FieldAdded,
			OldValue:      decimal.Zero,
			NewValue:      row.Total,
			ActorID:       actor.ID,
			ActorName:     actor.Name,
			PeriodStatus:  period.Status,
			CreatedAt:     vs.Now(),
		}
		if err := s.AppendEdit(ctx, edit); err != nil {
			return err
		}
		return reproject(ctx, s, versionID)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ManualKeyPrefix marks synthetic natural keys of reviewer-added rows.
const ManualKeyPrefix = "manual:"

// UpdateCalculationField overrides one calculation field, records the
// ManualEdit and re-projects totals. Setting a field to its current value is
// a no-op and returns a nil edit.
func (vs *VersionStore) UpdateCalculationField(ctx context.Context, actor Actor, calcID CalculationID, field CalcField, value decimal.Decimal) (*ManualEdit, error) {
	probe, err := vs.store.GetCalculation(ctx, calcID)
	if err != nil {
		return nil, err
	}
	unlock := vs.locks.Lock(string(probe.VersionID))
	defer unlock()

	var out *ManualEdit
	err = vs.store.WithTx(ctx, func(s Store) error {
		calc, err := s.GetCalculation(ctx, calcID)
		if err != nil {
			return err
		}
		_, period, err := authorizeVersion(ctx, s, actor, calc.VersionID)
		if err != nil {
			return err
		}
		old, err := calc.Get(field)
		if err != nil {
			return err
		}
		if old.Equal(value) {
			return nil
		}
		order, err := s.GetOrder(ctx, calc.OrderID)
		if err != nil {
			return err
		}
		if err := calc.Set(field, value); err != nil {
			return err
		}
		if err := s.UpdateCalculation(ctx, *calc); err != nil {
			return err
		}
		edit := ManualEdit{
			ID:            EditID(vs.NewID()),
			VersionID:     calc.VersionID,
			OrderID:       order.ID,
			CalculationID: calc.ID,
			OrderKey:      order.Key,
			Worker:        order.Worker,
			Field:         field,
			OldValue:      old,
			NewValue:      value,
			ActorID:       actor.ID,
			ActorName:     actor.Name,
			PeriodStatus:  period.Status,
			CreatedAt:     vs.Now(),
		}
		if err := s.AppendEdit(ctx, edit); err != nil {
			return err
		}
		out = &edit
		return reproject(ctx, s, calc.VersionID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OrderInfo carries the reviewer-editable descriptive fields. Nil fields are
// left unchanged. The natural key is never re-derived from them.
type OrderInfo struct {
	OrderCode *string
	Address   *string
}

func (vs *VersionStore) UpdateOrderInfo(ctx context.Context, actor Actor, orderID OrderID, info OrderInfo) (*Order, error) {
	probe, err := vs.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	unlock := vs.locks.Lock(string(probe.VersionID))
	defer unlock()

	var out Order
	err = vs.store.WithTx(ctx, func(s Store) error {
		order, err := s.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if _, _, err := authorizeVersion(ctx, s, actor, order.VersionID); err != nil {
			return err
		}
		if info.OrderCode != nil {
			order.OrderCode = *info.OrderCode
		}
		if info.Address != nil {
			order.Address = *info.Address
		}
		if err := s.UpdateOrder(ctx, *order); err != nil {
			return err
		}
		out = *order
		return reproject(ctx, s, order.VersionID)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteOrder removes an order, its calculation and its manual edits, then
// re-projects. Only draft periods allow deletion, whatever the role.
func (vs *VersionStore) DeleteOrder(ctx context.Context, actor Actor, orderID OrderID) error {
	probe, err := vs.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	unlock := vs.locks.Lock(string(probe.VersionID))
	defer unlock()

	return vs.store.WithTx(ctx, func(s Store) error {
		order, err := s.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		_, period, err := authorizeVersion(ctx, s, actor, order.VersionID)
		if err != nil {
			return err
		}
		if period.Status != StatusDraft {
			return &PeriodLockedError{PeriodID: period.ID, Status: period.Status}
		}
		if err := s.DeleteOrder(ctx, order.ID); err != nil {
			return err
		}
		return reproject(ctx, s, order.VersionID)
	})
}

// =============================================================================
// AGGREGATE MAINTENANCE
// =============================================================================

// ForceRecalculate unconditionally re-projects and overwrites the totals of a
// version. Idempotent; callable at any time.
func (vs *VersionStore) ForceRecalculate(ctx context.Context, versionID VersionID) ([]WorkerTotal, error) {
	unlock := vs.locks.Lock(string(versionID))
	defer unlock()

	var out []WorkerTotal
	err := vs.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetVersion(ctx, versionID); err != nil {
			return err
		}
		lines, err := s.Lines(ctx, versionID)
		if err != nil {
			return err
		}
		out = ProjectVersion(versionID, lines)
		return s.ReplaceTotals(ctx, versionID, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyTotals compares stored totals with the projection. On drift it runs
// ForceRecalculate before returning the drift report, so callers always see
// consistent totals afterwards. A nil report means no drift.
func (vs *VersionStore) VerifyTotals(ctx context.Context, versionID VersionID) (*AggregateDriftError, error) {
	lines, err := vs.store.Lines(ctx, versionID)
	if err != nil {
		return nil, err
	}
	stored, err := vs.store.Totals(ctx, versionID)
	if err != nil {
		return nil, err
	}
	drifted := Drifted(stored, ProjectVersion(versionID, lines))
	if len(drifted) == 0 {
		return nil, nil
	}
	if _, err := vs.ForceRecalculate(ctx, versionID); err != nil {
		return nil, err
	}
	return &AggregateDriftError{VersionID: versionID, Workers: drifted}, nil
}

func reproject(ctx context.Context, s Store, versionID VersionID) error {
	lines, err := s.Lines(ctx, versionID)
	if err != nil {
		return err
	}
	return s.ReplaceTotals(ctx, versionID, ProjectVersion(versionID, lines))
}

func authorizeVersion(ctx context.Context, s Store, actor Actor, versionID VersionID) (*Version, *Period, error) {
	v, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.GetPeriod(ctx, v.PeriodID)
	if err != nil {
		return nil, nil, err
	}
	if err := Authorize(actor, p.ID, p.Status); err != nil {
		return nil, nil, err
	}
	return v, p, nil
}

// =============================================================================
// READS
// =============================================================================

func (vs *VersionStore) Lines(ctx context.Context, versionID VersionID) ([]Line, error) {
	return vs.store.Lines(ctx, versionID)
}

func (vs *VersionStore) Order(ctx context.Context, id OrderID) (*Order, error) {
	return vs.store.GetOrder(ctx, id)
}

func (vs *VersionStore) Calculation(ctx context.Context, id CalculationID) (*Calculation, error) {
	return vs.store.GetCalculation(ctx, id)
}

func (vs *VersionStore) Totals(ctx context.Context, versionID VersionID) ([]WorkerTotal, error) {
	return vs.store.Totals(ctx, versionID)
}

// WorkerTotal returns the totals of one base name within a version.
func (vs *VersionStore) WorkerTotal(ctx context.Context, versionID VersionID, worker string) (*WorkerTotal, error) {
	totals, err := vs.store.Totals(ctx, versionID)
	if err != nil {
		return nil, err
	}
	for _, t := range totals {
		if t.Worker == worker {
			return &t, nil
		}
	}
	return nil, &NotFoundError{Entity: "worker total", ID: worker}
}

func (vs *VersionStore) ManualEdits(ctx context.Context, versionID VersionID) ([]ManualEdit, error) {
	return vs.store.Edits(ctx, versionID)
}

func (vs *VersionStore) ManualEdit(ctx context.Context, id EditID) (*ManualEdit, error) {
	return vs.store.GetEdit(ctx, id)
}

func (vs *VersionStore) Changes(ctx context.Context, versionID VersionID) ([]ChangeEntry, error) {
	return vs.store.Changes(ctx, versionID)
}
