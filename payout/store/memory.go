// Package store provides in-memory payout.TxStore implementations.
package store

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a payout.TxStore kept in maps. Reads take the read lock; writes
// and transactions take the write lock.
type Memory struct {
	mu   sync.RWMutex
	data *tables
}

var (
	_ payout.TxStore = (*Memory)(nil)
	_ payout.Store   = (*tables)(nil)
)

func NewMemory() *Memory {
	return &Memory{data: newTables()}
}

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(payout.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(m.data); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (m *Memory) read(fn func(t *tables) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.data)
}

func (m *Memory) write(fn func(t *tables) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.data)
}

func (m *Memory) CreatePeriod(ctx context.Context, p payout.Period) error {
	return m.write(func(t *tables) error { return t.CreatePeriod(ctx, p) })
}

func (m *Memory) GetPeriod(ctx context.Context, id payout.PeriodID) (out *payout.Period, err error) {
	err = m.read(func(t *tables) error { out, err = t.GetPeriod(ctx, id); return err })
	return out, err
}

func (m *Memory) FindPeriodByName(ctx context.Context, name string) (out *payout.Period, err error) {
	err = m.read(func(t *tables) error { out, err = t.FindPeriodByName(ctx, name); return err })
	return out, err
}

func (m *Memory) ListPeriods(ctx context.Context) (out []payout.Period, err error) {
	err = m.read(func(t *tables) error { out, err = t.ListPeriods(ctx); return err })
	return out, err
}

func (m *Memory) UpdatePeriod(ctx context.Context, p payout.Period) error {
	return m.write(func(t *tables) error { return t.UpdatePeriod(ctx, p) })
}

func (m *Memory) DeletePeriod(ctx context.Context, id payout.PeriodID) error {
	return m.write(func(t *tables) error { return t.DeletePeriod(ctx, id) })
}

func (m *Memory) CreateVersion(ctx context.Context, v payout.Version) error {
	return m.write(func(t *tables) error { return t.CreateVersion(ctx, v) })
}

func (m *Memory) GetVersion(ctx context.Context, id payout.VersionID) (out *payout.Version, err error) {
	err = m.read(func(t *tables) error { out, err = t.GetVersion(ctx, id); return err })
	return out, err
}

func (m *Memory) ListVersions(ctx context.Context, periodID payout.PeriodID) (out []payout.Version, err error) {
	err = m.read(func(t *tables) error { out, err = t.ListVersions(ctx, periodID); return err })
	return out, err
}

func (m *Memory) InsertLine(ctx context.Context, line payout.Line) error {
	return m.write(func(t *tables) error { return t.InsertLine(ctx, line) })
}

func (m *Memory) GetOrder(ctx context.Context, id payout.OrderID) (out *payout.Order, err error) {
	err = m.read(func(t *tables) error { out, err = t.GetOrder(ctx, id); return err })
	return out, err
}

func (m *Memory) UpdateOrder(ctx context.Context, o payout.Order) error {
	return m.write(func(t *tables) error { return t.UpdateOrder(ctx, o) })
}

func (m *Memory) DeleteOrder(ctx context.Context, id payout.OrderID) error {
	return m.write(func(t *tables) error { return t.DeleteOrder(ctx, id) })
}

func (m *Memory) GetCalculation(ctx context.Context, id payout.CalculationID) (out *payout.Calculation, err error) {
	err = m.read(func(t *tables) error { out, err = t.GetCalculation(ctx, id); return err })
	return out, err
}

func (m *Memory) CalculationForOrder(ctx context.Context, orderID payout.OrderID) (out *payout.Calculation, err error) {
	err = m.read(func(t *tables) error { out, err = t.CalculationForOrder(ctx, orderID); return err })
	return out, err
}

func (m *Memory) UpdateCalculation(ctx context.Context, c payout.Calculation) error {
	return m.write(func(t *tables) error { return t.UpdateCalculation(ctx, c) })
}

func (m *Memory) Lines(ctx context.Context, versionID payout.VersionID) (out []payout.Line, err error) {
	err = m.read(func(t *tables) error { out, err = t.Lines(ctx, versionID); return err })
	return out, err
}

func (m *Memory) ReplaceTotals(ctx context.Context, versionID payout.VersionID, totals []payout.WorkerTotal) error {
	return m.write(func(t *tables) error { return t.ReplaceTotals(ctx, versionID, totals) })
}

func (m *Memory) Totals(ctx context.Context, versionID payout.VersionID) (out []payout.WorkerTotal, err error) {
	err = m.read(func(t *tables) error { out, err = t.Totals(ctx, versionID); return err })
	return out, err
}

func (m *Memory) AppendEdit(ctx context.Context, e payout.ManualEdit) error {
	return m.write(func(t *tables) error { return t.AppendEdit(ctx, e) })
}

func (m *Memory) Edits(ctx context.Context, versionID payout.VersionID) (out []payout.ManualEdit, err error) {
	err = m.read(func(t *tables) error { out, err = t.Edits(ctx, versionID); return err })
	return out, err
}

func (m *Memory) GetEdit(ctx context.Context, id payout.EditID) (out *payout.ManualEdit, err error) {
	err = m.read(func(t *tables) error { out, err = t.GetEdit(ctx, id); return err })
	return out, err
}

func (m *Memory) AppendChanges(ctx context.Context, entries []payout.ChangeEntry) error {
	return m.write(func(t *tables) error { return t.AppendChanges(ctx, entries) })
}

func (m *Memory) Changes(ctx context.Context, versionID payout.VersionID) (out []payout.ChangeEntry, err error) {
	err = m.read(func(t *tables) error { out, err = t.Changes(ctx, versionID); return err })
	return out, err
}

// =============================================================================
// TABLES - Unlocked state, also used directly as the transactional view
// =============================================================================

type tables struct {
	periods  map[payout.PeriodID]payout.Period
	versions map[payout.VersionID]payout.Version
	orders   map[payout.OrderID]payout.Order
	calcs    map[payout.CalculationID]payout.Calculation
	totals   map[payout.VersionID][]payout.WorkerTotal
	edits    []payout.ManualEdit
	changes  []payout.ChangeEntry
}

func newTables() *tables {
	return &tables{
		periods:  make(map[payout.PeriodID]payout.Period),
		versions: make(map[payout.VersionID]payout.Version),
		orders:   make(map[payout.OrderID]payout.Order),
		calcs:    make(map[payout.CalculationID]payout.Calculation),
		totals:   make(map[payout.VersionID][]payout.WorkerTotal),
	}
}

func (t *tables) clone() *tables {
	c := &tables{
		periods:  maps.Clone(t.periods),
		versions: maps.Clone(t.versions),
		orders:   maps.Clone(t.orders),
		calcs:    maps.Clone(t.calcs),
		totals:   make(map[payout.VersionID][]payout.WorkerTotal, len(t.totals)),
		edits:    append([]payout.ManualEdit(nil), t.edits...),
		changes:  append([]payout.ChangeEntry(nil), t.changes...),
	}
	for k, v := range t.totals {
		c.totals[k] = append([]payout.WorkerTotal(nil), v...)
	}
	return c
}

func notFound(entity, id string) error {
	return &payout.NotFoundError{Entity: entity, ID: id}
}

func (t *tables) CreatePeriod(_ context.Context, p payout.Period) error {
	t.periods[p.ID] = p
	return nil
}

func (t *tables) GetPeriod(_ context.Context, id payout.PeriodID) (*payout.Period, error) {
	p, ok := t.periods[id]
	if !ok {
		return nil, notFound("period", string(id))
	}
	return &p, nil
}

func (t *tables) FindPeriodByName(_ context.Context, name string) (*payout.Period, error) {
	for _, p := range t.periods {
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, nil
}

func (t *tables) ListPeriods(_ context.Context) ([]payout.Period, error) {
	out := make([]payout.Period, 0, len(t.periods))
	for _, p := range t.periods {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (t *tables) UpdatePeriod(_ context.Context, p payout.Period) error {
	if _, ok := t.periods[p.ID]; !ok {
		return notFound("period", string(p.ID))
	}
	t.periods[p.ID] = p
	return nil
}

// DeletePeriod cascades through every version of the period.
func (t *tables) DeletePeriod(ctx context.Context, id payout.PeriodID) error {
	for vid, v := range t.versions {
		if v.PeriodID != id {
			continue
		}
		for oid, o := range t.orders {
			if o.VersionID == vid {
				if err := t.DeleteOrder(ctx, oid); err != nil {
					return err
				}
			}
		}
		delete(t.totals, vid)
		t.changes = filter(t.changes, func(c payout.ChangeEntry) bool { return c.VersionID != vid })
		delete(t.versions, vid)
	}
	delete(t.periods, id)
	return nil
}

func (t *tables) CreateVersion(_ context.Context, v payout.Version) error {
	t.versions[v.ID] = v
	return nil
}

func (t *tables) GetVersion(_ context.Context, id payout.VersionID) (*payout.Version, error) {
	v, ok := t.versions[id]
	if !ok {
		return nil, notFound("version", string(id))
	}
	return &v, nil
}

func (t *tables) ListVersions(_ context.Context, periodID payout.PeriodID) ([]payout.Version, error) {
	var out []payout.Version
	for _, v := range t.versions {
		if v.PeriodID == periodID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (t *tables) InsertLine(_ context.Context, line payout.Line) error {
	t.orders[line.Order.ID] = line.Order
	t.calcs[line.Calculation.ID] = line.Calculation
	return nil
}

func (t *tables) GetOrder(_ context.Context, id payout.OrderID) (*payout.Order, error) {
	o, ok := t.orders[id]
	if !ok {
		return nil, notFound("order", string(id))
	}
	return &o, nil
}

func (t *tables) UpdateOrder(_ context.Context, o payout.Order) error {
	if _, ok := t.orders[o.ID]; !ok {
		return notFound("order", string(o.ID))
	}
	t.orders[o.ID] = o
	return nil
}

// DeleteOrder removes edits, then the calculation, then the order.
func (t *tables) DeleteOrder(_ context.Context, id payout.OrderID) error {
	if _, ok := t.orders[id]; !ok {
		return notFound("order", string(id))
	}
	t.edits = filter(t.edits, func(e payout.ManualEdit) bool { return e.OrderID != id })
	for cid, c := range t.calcs {
		if c.OrderID == id {
			delete(t.calcs, cid)
		}
	}
	delete(t.orders, id)
	return nil
}

func (t *tables) GetCalculation(_ context.Context, id payout.CalculationID) (*payout.Calculation, error) {
	c, ok := t.calcs[id]
	if !ok {
		return nil, notFound("calculation", string(id))
	}
	return &c, nil
}

func (t *tables) CalculationForOrder(_ context.Context, orderID payout.OrderID) (*payout.Calculation, error) {
	for _, c := range t.calcs {
		if c.OrderID == orderID {
			return &c, nil
		}
	}
	return nil, notFound("calculation for order", string(orderID))
}

func (t *tables) UpdateCalculation(_ context.Context, c payout.Calculation) error {
	if _, ok := t.calcs[c.ID]; !ok {
		return notFound("calculation", string(c.ID))
	}
	t.calcs[c.ID] = c
	return nil
}

func (t *tables) Lines(_ context.Context, versionID payout.VersionID) ([]payout.Line, error) {
	byOrder := make(map[payout.OrderID]payout.Calculation)
	for _, c := range t.calcs {
		if c.VersionID == versionID {
			byOrder[c.OrderID] = c
		}
	}
	var out []payout.Line
	for _, o := range t.orders {
		if o.VersionID != versionID {
			continue
		}
		c, ok := byOrder[o.ID]
		if !ok {
			continue
		}
		out = append(out, payout.Line{Order: o, Calculation: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order.Worker != out[j].Order.Worker {
			return out[i].Order.Worker < out[j].Order.Worker
		}
		return out[i].Order.Key < out[j].Order.Key
	})
	return out, nil
}

func (t *tables) ReplaceTotals(_ context.Context, versionID payout.VersionID, totals []payout.WorkerTotal) error {
	t.totals[versionID] = append([]payout.WorkerTotal(nil), totals...)
	return nil
}

func (t *tables) Totals(_ context.Context, versionID payout.VersionID) ([]payout.WorkerTotal, error) {
	out := append([]payout.WorkerTotal(nil), t.totals[versionID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Worker < out[j].Worker })
	return out, nil
}

func (t *tables) AppendEdit(_ context.Context, e payout.ManualEdit) error {
	t.edits = append(t.edits, e)
	return nil
}

func (t *tables) Edits(_ context.Context, versionID payout.VersionID) ([]payout.ManualEdit, error) {
	out := filter(t.edits, func(e payout.ManualEdit) bool { return e.VersionID == versionID })
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tables) GetEdit(_ context.Context, id payout.EditID) (*payout.ManualEdit, error) {
	for _, e := range t.edits {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, notFound("manual edit", string(id))
}

func (t *tables) AppendChanges(_ context.Context, entries []payout.ChangeEntry) error {
	t.changes = append(t.changes, entries...)
	return nil
}

func (t *tables) Changes(_ context.Context, versionID payout.VersionID) ([]payout.ChangeEntry, error) {
	return filter(t.changes, func(c payout.ChangeEntry) bool { return c.VersionID == versionID }), nil
}

func filter[T any](in []T, keep func(T) bool) []T {
	var out []T
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
