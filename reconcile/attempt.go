package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/payout-engine/fee"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// ATTEMPT - One reconciliation, parsed -> diffed -> (discarded | materialized)
// =============================================================================

type State string

const (
	StateParsed       State = "parsed"
	StateDiffed       State = "diffed"
	StateDiscarded    State = "discarded"
	StateMaterialized State = "materialized"
)

var attemptTransitions = map[State][]State{
	StateParsed: {StateDiffed, StateDiscarded},
	StateDiffed: {StateDiscarded, StateMaterialized},
}

type Attempt struct {
	ID    string `json:"id"`
	State State  `json:"state"`

	Period         payout.PeriodRef           `json:"period"`
	PrevVersionID  payout.VersionID           `json:"prev_version_id,omitempty"`
	Incoming       []Entry                    `json:"-"`
	FuelDeductions map[string]decimal.Decimal `json:"fuel_deductions,omitempty"`
	Diff           DiffResult                 `json:"diff"`
	Warnings       []payout.Warning           `json:"warnings"`

	// VersionID is set once materialized.
	VersionID payout.VersionID `json:"version_id,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *Attempt) moveTo(next State) error {
	for _, s := range attemptTransitions[a.State] {
		if s == next {
			a.State = next
			return nil
		}
	}
	return fmt.Errorf("%w: import %s is %s, cannot become %s", payout.ErrInvalidState, a.ID, a.State, next)
}

// Import is a parsed feed ready for review.
type Import struct {
	PeriodName     string
	Month          time.Month
	Year           int
	Items          []LineItem
	FuelDeductions map[string]decimal.Decimal
	Warnings       []payout.Warning // from parsing
}

// Begin diffs an import against the latest version of its period and keeps
// the attempt for review.
func (r *Reconciler) Begin(ctx context.Context, actor payout.Actor, imp Import) (*Attempt, error) {
	if len(imp.Items) == 0 {
		return nil, payout.ErrEmptyImport
	}

	a := &Attempt{
		ID:             uuid.NewString(),
		State:          StateParsed,
		Period:         payout.PeriodRef{Name: imp.PeriodName, Month: imp.Month, Year: imp.Year},
		Incoming:       Keyed(imp.Items),
		FuelDeductions: imp.FuelDeductions,
		Warnings:       imp.Warnings,
		CreatedBy:      actor.Name,
		CreatedAt:      time.Now().UTC(),
	}

	var prevFeed []Entry
	period, err := r.Versions.FindPeriod(ctx, imp.PeriodName)
	if err != nil {
		return nil, err
	}
	if period != nil {
		if err := payout.Authorize(actor, period.ID, period.Status); err != nil {
			return nil, err
		}
		a.Period.ID = period.ID
		latest, err := r.Versions.LatestVersion(ctx, period.ID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			a.PrevVersionID = latest.ID
			lines, err := r.Versions.Lines(ctx, latest.ID)
			if err != nil {
				return nil, err
			}
			prevFeed, _ = FeedEntries(lines)
		}
	} else if actor.Role == payout.RoleViewer {
		return nil, fmt.Errorf("%w: %s is read-only", payout.ErrForbidden, actor.Name)
	}

	a.Diff = Diff(prevFeed, a.Incoming)
	if err := a.moveTo(StateDiffed); err != nil {
		return nil, err
	}
	cp := *a
	r.Sessions.Put(a)

	r.logger().Info("import diffed",
		"import_id", cp.ID,
		"period", imp.PeriodName,
		"prev_version_id", cp.PrevVersionID,
		"added", len(cp.Diff.Added),
		"modified", len(cp.Diff.Modified),
		"deleted", len(cp.Diff.Deleted),
	)
	return &cp, nil
}

// Decision is the reviewer's answer to a diffed attempt.
type Decision struct {
	Selection      Selection
	RestoreEditIDs []payout.EditID
	Config         *fee.Config // nil means the previous version's tariff, or defaults
}

// Apply materializes a diffed attempt.
func (r *Reconciler) Apply(ctx context.Context, actor payout.Actor, attemptID string, d Decision) (*Outcome, error) {
	a, release, err := r.Sessions.Acquire(attemptID)
	if err != nil {
		return nil, err
	}
	defer release()

	if a.State != StateDiffed {
		return nil, fmt.Errorf("%w: import %s is %s", payout.ErrInvalidState, a.ID, a.State)
	}

	var prev *payout.Version
	if a.PrevVersionID != "" {
		if prev, err = r.Versions.Version(ctx, a.PrevVersionID); err != nil {
			return nil, err
		}
	}

	cfg, err := r.resolveConfig(prev, d.Config)
	if err != nil {
		return nil, err
	}

	out, err := r.Materialize(ctx, actor, MaterializeInput{
		Period:         a.Period,
		Previous:       prev,
		Incoming:       a.Incoming,
		Diff:           a.Diff,
		Selection:      d.Selection,
		RestoreEditIDs: d.RestoreEditIDs,
		Config:         cfg,
		FuelDeductions: a.FuelDeductions,
	})
	if err != nil {
		return nil, err
	}
	if err := a.moveTo(StateMaterialized); err != nil {
		return nil, err
	}
	a.VersionID = out.Version.ID
	a.Period.ID = out.Version.PeriodID
	out.Warnings = append(append([]payout.Warning(nil), a.Warnings...), out.Warnings...)
	return out, nil
}

// Discard abandons a diffed attempt.
func (r *Reconciler) Discard(attemptID string) error {
	a, release, err := r.Sessions.Acquire(attemptID)
	if err != nil {
		return err
	}
	defer release()
	return a.moveTo(StateDiscarded)
}

func (r *Reconciler) resolveConfig(prev *payout.Version, override *fee.Config) (fee.Config, error) {
	if override != nil {
		if err := override.Validate(); err != nil {
			return fee.Config{}, fmt.Errorf("%w: %v", payout.ErrInvalidField, err)
		}
		return *override, nil
	}
	if prev != nil {
		return fee.ConfigFromVersion(prev.Config.Tariff)
	}
	if r.DefaultConfig != nil {
		return *r.DefaultConfig, nil
	}
	return fee.DefaultConfig(), nil
}

// AddOrder computes one feed-style line with the version's tariff and adds
// it to the version.
func (r *Reconciler) AddOrder(ctx context.Context, actor payout.Actor, versionID payout.VersionID, item LineItem) (*payout.Line, []payout.Warning, error) {
	v, err := r.Versions.Version(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := fee.ConfigFromVersion(v.Config.Tariff)
	if err != nil {
		return nil, nil, err
	}
	lines, err := r.Versions.Lines(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	taken := make(map[string]bool, len(lines))
	for _, l := range lines {
		taken[l.Order.Key] = true
	}
	key := item.NaturalKey()
	for n := 2; taken[key]; n++ {
		key = fmt.Sprintf("%s#%d", item.NaturalKey(), n)
	}

	order := item.Order(key)
	res := r.calculator(cfg).Calculate(ctx, order)
	order.PercentValue = res.Percent

	line, err := r.Versions.CreateOrderWithCalculation(ctx, actor, versionID, order, res.Calculation())
	if err != nil {
		return nil, nil, err
	}
	return line, res.Warnings, nil
}
