package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/payout-engine/fee"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// SELECTION - What the reviewer accepted
// =============================================================================

// Selection narrows a diff to the keys actually applied. Manual rows of the
// previous version are carried forward unless listed in DropManualRows.
type Selection struct {
	Added          []string `json:"added"`
	Modified       []string `json:"modified"`
	Deleted        []string `json:"deleted"`
	DropManualRows []string `json:"drop_manual_rows,omitempty"`
}

// SelectAll accepts every detected change.
func SelectAll(d DiffResult) Selection {
	var s Selection
	for _, e := range d.Added {
		s.Added = append(s.Added, e.Key)
	}
	for _, m := range d.Modified {
		s.Modified = append(s.Modified, m.Key)
	}
	for _, e := range d.Deleted {
		s.Deleted = append(s.Deleted, e.Key)
	}
	return s
}

// =============================================================================
// RECONCILER
// =============================================================================

type Reconciler struct {
	Versions  *payout.VersionStore
	Distances fee.DistanceLookup
	Sessions  *SessionStore
	Logger    *slog.Logger

	// DefaultConfig is the tariff of a period's first version. Nil means
	// fee.DefaultConfig.
	DefaultConfig *fee.Config

	// Concurrency bounds parallel distance lookups.
	Concurrency int
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Reconciler) calculator(cfg fee.Config) *fee.Calculator {
	return &fee.Calculator{Config: cfg, Distances: r.Distances, Concurrency: r.Concurrency}
}

// MaterializeInput is one reviewer decision.
type MaterializeInput struct {
	Period payout.PeriodRef

	// Previous is nil on the first import of a period.
	Previous *payout.Version

	// Incoming is the full parsed feed; it must not be empty.
	Incoming       []Entry
	Diff           DiffResult
	Selection      Selection
	RestoreEditIDs []payout.EditID

	Config         fee.Config
	FuelDeductions map[string]decimal.Decimal
}

type Outcome struct {
	Version  *payout.Version  `json:"version"`
	Changes  int              `json:"changes"`
	Restored int              `json:"restored"`
	Warnings []payout.Warning `json:"warnings"`
}

// Materialize builds the next version: previous feed items, minus selected
// deletions, plus selected additions, with selected modifications applied;
// manual rows carried forward; fees recomputed; restored edits re-applied on
// top; everything committed in one transaction.
func (r *Reconciler) Materialize(ctx context.Context, actor payout.Actor, in MaterializeInput) (*Outcome, error) {
	if len(in.Incoming) == 0 {
		return nil, payout.ErrEmptyImport
	}

	var (
		prevFeed   []Entry
		prevManual []payout.Line
		prevID     payout.VersionID
	)
	if in.Previous != nil {
		prevID = in.Previous.ID
		lines, err := r.Versions.Lines(ctx, prevID)
		if err != nil {
			return nil, fmt.Errorf("load previous lines: %w", err)
		}
		prevFeed, prevManual = FeedEntries(lines)
	}

	working, changes, err := applySelection(prevFeed, in.Diff, in.Selection)
	if err != nil {
		return nil, err
	}

	// Fees are computed before the transaction opens: distance lookups are I/O.
	keys := make([]string, 0, len(working))
	for k := range working {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	orders := make([]payout.Order, len(keys))
	for i, k := range keys {
		orders[i] = working[k].Order(k)
	}
	cfg := in.Config.Normalized()
	results := r.calculator(cfg).CalculateAll(ctx, orders)

	var warnings []payout.Warning
	lines := make([]payout.Line, 0, len(orders)+len(prevManual))
	byKey := make(map[string]int, len(orders)+len(prevManual))
	for i, o := range orders {
		res := results[i]
		o.PercentValue = res.Percent
		warnings = append(warnings, res.Warnings...)
		byKey[o.Key] = len(lines)
		lines = append(lines, payout.Line{Order: o, Calculation: res.Calculation()})
	}

	dropped := make(map[string]bool, len(in.Selection.DropManualRows))
	for _, k := range in.Selection.DropManualRows {
		dropped[k] = true
	}
	for _, l := range prevManual {
		if dropped[l.Order.Key] {
			changes = append(changes, payout.ChangeEntry{
				Type: payout.ChangeDeleted, OrderKey: l.Order.Key, Worker: l.Order.Worker,
				Before: manualSummary(l),
			})
			continue
		}
		byKey[l.Order.Key] = len(lines)
		lines = append(lines, l)
	}

	edits, restoreWarnings, err := r.restoreEdits(ctx, prevID, in.RestoreEditIDs, lines, byKey)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, restoreWarnings...)

	tariff, err := cfg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode tariff: %w", err)
	}
	v, err := r.Versions.CommitVersion(ctx, actor, payout.NewVersion{
		Period:        in.Period,
		PrevVersionID: prevID,
		Config:        payout.VersionConfig{Tariff: tariff, FuelDeductions: in.FuelDeductions},
		Lines:         lines,
		Edits:         edits,
		Changes:       changes,
	})
	if err != nil {
		return nil, err
	}

	r.logger().Info("version materialized",
		"version_id", v.ID,
		"period_id", v.PeriodID,
		"sequence", v.Sequence,
		"lines", len(lines),
		"changes", len(changes),
		"restored", len(edits),
		"warnings", len(warnings),
	)
	return &Outcome{Version: v, Changes: len(changes), Restored: len(edits), Warnings: warnings}, nil
}

// applySelection merges the reviewer-selected parts of the diff into the
// previous feed set and produces the matching change log.
func applySelection(prevFeed []Entry, diff DiffResult, sel Selection) (map[string]LineItem, []payout.ChangeEntry, error) {
	working := index(prevFeed)
	var changes []payout.ChangeEntry

	deleted := index(diff.Deleted)
	for _, k := range sel.Deleted {
		item, ok := deleted[k]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q is not a detected deletion", payout.ErrInvalidField, k)
		}
		delete(working, k)
		changes = append(changes, payout.ChangeEntry{
			Type: payout.ChangeDeleted, OrderKey: k, Worker: item.Worker, Before: summary(item),
		})
	}

	added := index(diff.Added)
	for _, k := range sel.Added {
		item, ok := added[k]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q is not a detected addition", payout.ErrInvalidField, k)
		}
		working[k] = item
		changes = append(changes, payout.ChangeEntry{
			Type: payout.ChangeAdded, OrderKey: k, Worker: item.Worker, After: summary(item),
		})
	}

	modified := make(map[string]Modification, len(diff.Modified))
	for _, m := range diff.Modified {
		modified[m.Key] = m
	}
	for _, k := range sel.Modified {
		m, ok := modified[k]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q is not a detected modification", payout.ErrInvalidField, k)
		}
		working[k] = m.After
		for _, c := range m.Changes {
			changes = append(changes, payout.ChangeEntry{
				Type: payout.ChangeModified, OrderKey: k, Worker: m.After.Worker,
				Field: c.Field, Before: c.Before, After: c.After,
			})
		}
	}
	return working, changes, nil
}

// restoreEdits re-applies selected edits of the previous version, oldest
// first, over the freshly computed lines. Edits whose line is gone become
// warnings.
func (r *Reconciler) restoreEdits(ctx context.Context, prevID payout.VersionID, ids []payout.EditID, lines []payout.Line, byKey map[string]int) ([]payout.ManualEdit, []payout.Warning, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	if prevID == "" {
		return nil, nil, fmt.Errorf("%w: nothing to restore on a first import", payout.ErrInvalidField)
	}

	sources := make([]payout.ManualEdit, 0, len(ids))
	seen := make(map[payout.EditID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		e, err := r.Versions.ManualEdit(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if e.VersionID != prevID {
			return nil, nil, fmt.Errorf("%w: edit %s belongs to version %s", payout.ErrInvalidField, id, e.VersionID)
		}
		sources = append(sources, *e)
	}
	sort.SliceStable(sources, func(i, j int) bool {
		if !sources[i].CreatedAt.Equal(sources[j].CreatedAt) {
			return sources[i].CreatedAt.Before(sources[j].CreatedAt)
		}
		return sources[i].ID < sources[j].ID
	})

	var (
		edits    []payout.ManualEdit
		warnings []payout.Warning
	)
	for _, src := range sources {
		idx, ok := byKey[src.OrderKey]
		if !ok {
			warnings = append(warnings, payout.Warning{
				Kind:     payout.KindNotFound,
				OrderKey: src.OrderKey,
				Message:  fmt.Sprintf("edit %s not restored: line is no longer present", src.ID),
			})
			continue
		}
		if src.Field == payout.FieldAdded {
			// The manual row itself was carried forward; keep the audit trail.
			edits = append(edits, payout.ManualEdit{
				OrderKey: src.OrderKey, Field: payout.FieldAdded,
				OldValue: src.OldValue, NewValue: src.NewValue, RestoredFrom: src.ID,
			})
			continue
		}
		calc := &lines[idx].Calculation
		old, err := calc.Get(src.Field)
		if err != nil {
			return nil, nil, err
		}
		if err := calc.Set(src.Field, src.NewValue); err != nil {
			return nil, nil, err
		}
		edits = append(edits, payout.ManualEdit{
			OrderKey:     src.OrderKey,
			Field:        src.Field,
			OldValue:     old,
			NewValue:     src.NewValue,
			RestoredFrom: src.ID,
		})
	}
	return edits, warnings, nil
}

func summary(it LineItem) string {
	parts := []string{it.Worker}
	if it.OrderCode != "" {
		parts = append(parts, it.OrderCode)
	}
	if it.Address != "" {
		parts = append(parts, it.Address)
	}
	parts = append(parts, "service_payment="+money(it.ServicePayment))
	return strings.Join(parts, ", ")
}

func manualSummary(l payout.Line) string {
	return fmt.Sprintf("%s, %s, total=%s", l.Order.Worker, l.Order.Description, money(l.Calculation.Total))
}
