package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/store/sqlite"
)

var manager = payout.Actor{ID: "u-mgr", Name: "Manager", Role: payout.RoleManager}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func line(worker, key string, client bool, total string) payout.Line {
	day := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	return payout.Line{
		Order: payout.Order{
			Worker: worker, Key: key, OrderCode: key, Description: "order " + key,
			Address: "Москва, Тверская 1", OrderDate: &day, DaysOnSite: 2,
			RevenueServices: dec("12000.50"), ServicePayment: dec(total),
			Percent: "30,00 %", PercentValue: dec("30"), IsClientPayment: client,
		},
		Calculation: payout.Calculation{Total: dec(total), FuelPayment: dec("150"), Transport: dec("0")},
	}
}

func seed(t *testing.T, vs *payout.VersionStore) *payout.Version {
	t.Helper()
	v, err := vs.CommitVersion(context.Background(), manager, payout.NewVersion{
		Period: payout.PeriodRef{Name: "01-15.11.25", Month: time.November, Year: 2025},
		Config: payout.VersionConfig{FuelDeductions: map[string]decimal.Decimal{"Иванов Иван": dec("90.45")}},
		Lines: []payout.Line{
			line("Иванов Иван", "B|Иванов Иван", true, "2000"),
			line("Иванов Иван", "A|Иванов Иван", false, "1000.10"),
			line("Петров Петр", "C|Петров Петр", false, "700"),
		},
		Changes: []payout.ChangeEntry{
			{Type: payout.ChangeAdded, OrderKey: "A|Иванов Иван", Worker: "Иванов Иван"},
			{Type: payout.ChangeAdded, OrderKey: "B|Иванов Иван", Worker: "Иванов Иван"},
		},
	})
	require.NoError(t, err)
	return v
}

// =============================================================================
// ROUND TRIP THROUGH THE VERSION STORE
// =============================================================================

func TestCommitVersion_PersistsGraph(t *testing.T) {
	ctx := context.Background()
	vs := payout.NewVersionStore(newStore(t))

	// WHEN: Committing a version
	v := seed(t, vs)

	// THEN: Period, version, lines, totals and change log are all readable
	p, err := vs.Period(ctx, v.PeriodID)
	require.NoError(t, err)
	assert.Equal(t, "01-15.11.25", p.Name)
	assert.Equal(t, time.November, p.Month)
	assert.Equal(t, payout.StatusDraft, p.Status)

	got, err := vs.Version(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Sequence)
	assert.True(t, dec("90.45").Equal(got.Config.FuelDeductions["Иванов Иван"]))

	lines, err := vs.Lines(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "A|Иванов Иван", lines[0].Order.Key)
	assert.Equal(t, "B|Иванов Иван", lines[1].Order.Key)
	assert.Equal(t, "C|Петров Петр", lines[2].Order.Key)

	a := lines[0]
	assert.True(t, dec("1000.10").Equal(a.Order.ServicePayment))
	assert.True(t, dec("12000.50").Equal(a.Order.RevenueServices))
	assert.Equal(t, "30,00 %", a.Order.Percent)
	require.NotNil(t, a.Order.OrderDate)
	assert.Equal(t, 5, a.Order.OrderDate.Day())
	assert.Equal(t, 2, a.Order.DaysOnSite)
	assert.True(t, lines[1].Order.IsClientPayment)
	assert.Equal(t, a.Order.ID, a.Calculation.OrderID)
	assert.True(t, dec("150").Equal(a.Calculation.FuelPayment))

	totals, err := vs.Totals(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "Иванов Иван", totals[0].Worker)
	assert.Equal(t, 2, totals[0].OrdersCount)
	assert.True(t, dec("3000.10").Equal(totals[0].TotalAmount))

	drift, err := vs.VerifyTotals(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, drift)

	changes, err := vs.Changes(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "A|Иванов Иван", changes[0].OrderKey)
	assert.Equal(t, "B|Иванов Иван", changes[1].OrderKey)
}

func TestUpdateCalculationField_RecordsEdit(t *testing.T) {
	ctx := context.Background()
	vs := payout.NewVersionStore(newStore(t))
	v := seed(t, vs)
	lines, err := vs.Lines(ctx, v.ID)
	require.NoError(t, err)
	target := lines[0]

	// WHEN: A manager overrides the total
	edit, err := vs.UpdateCalculationField(ctx, manager, target.Calculation.ID, payout.FieldTotal, dec("1234.56"))
	require.NoError(t, err)
	require.NotNil(t, edit)

	// THEN: The edit is stored and totals follow
	stored, err := vs.ManualEdit(ctx, edit.ID)
	require.NoError(t, err)
	assert.True(t, dec("1000.10").Equal(stored.OldValue))
	assert.True(t, dec("1234.56").Equal(stored.NewValue))
	assert.Equal(t, payout.FieldTotal, stored.Field)
	assert.Equal(t, payout.StatusDraft, stored.PeriodStatus)
	assert.Empty(t, stored.RestoredFrom)

	wt, err := vs.WorkerTotal(ctx, v.ID, "Иванов Иван")
	require.NoError(t, err)
	assert.True(t, dec("3234.56").Equal(wt.TotalAmount))

	// AND: Deleting the order takes its edits with it
	require.NoError(t, vs.DeleteOrder(ctx, manager, target.Order.ID))
	edits, err := vs.ManualEdits(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, edits)
	_, err = vs.Calculation(ctx, target.Calculation.ID)
	assert.ErrorIs(t, err, payout.ErrNotFound)
}

func TestDeletePeriod_Cascades(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	vs := payout.NewVersionStore(store)
	v := seed(t, vs)
	admin := payout.Actor{ID: "u-admin", Name: "Admin", Role: payout.RoleAdmin}

	require.NoError(t, vs.DeletePeriod(ctx, admin, v.PeriodID))

	_, err := vs.Version(ctx, v.ID)
	assert.ErrorIs(t, err, payout.ErrNotFound)
	lines, err := store.Lines(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)
	totals, err := store.Totals(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, totals)
}

// =============================================================================
// STORE CONTRACT
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(s payout.Store) error {
		require.NoError(t, s.CreatePeriod(ctx, payout.Period{
			ID: "p1", Name: "01-15.11.25", Month: time.November, Year: 2025,
			Status: payout.StatusDraft, CreatedAt: time.Now(),
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := store.FindPeriodByName(ctx, "01-15.11.25")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.GetPeriod(ctx, "nope")
	assert.ErrorIs(t, err, payout.ErrNotFound)
	_, err = store.GetOrder(ctx, "nope")
	assert.ErrorIs(t, err, payout.ErrNotFound)
	_, err = store.GetEdit(ctx, "nope")
	assert.ErrorIs(t, err, payout.ErrNotFound)
	err = store.UpdateCalculation(ctx, payout.Calculation{ID: "nope"})
	assert.ErrorIs(t, err, payout.ErrNotFound)
	err = store.DeleteOrder(ctx, "nope")
	assert.ErrorIs(t, err, payout.ErrNotFound)
}

func TestListPeriods_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	base := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	sent := base.Add(time.Hour)

	require.NoError(t, store.CreatePeriod(ctx, payout.Period{
		ID: "p1", Name: "01-15.11.25", Month: 11, Year: 2025, Status: payout.StatusSent,
		SentAt: &sent, CreatedAt: base,
	}))
	require.NoError(t, store.CreatePeriod(ctx, payout.Period{
		ID: "p2", Name: "16-30.11.25", Month: 11, Year: 2025, Status: payout.StatusDraft,
		CreatedAt: base.Add(24 * time.Hour),
	}))

	periods, err := store.ListPeriods(ctx)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	assert.Equal(t, payout.PeriodID("p2"), periods[0].ID)
	assert.Nil(t, periods[0].SentAt)
	require.NotNil(t, periods[1].SentAt)
	assert.True(t, sent.Equal(*periods[1].SentAt))
}
