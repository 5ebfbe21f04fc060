package payout

import (
	"context"

	"github.com/shopspring/decimal"
)

// Statement is what a worker is told they will receive: the cached totals
// minus the fuel-card deduction recorded on the version. Computed on read.
type Statement struct {
	WorkerTotal
	FuelDeduction decimal.Decimal
	Net           decimal.Decimal
}

// NewStatement combines a worker's totals with the version's deductions.
func NewStatement(t WorkerTotal, cfg VersionConfig) Statement {
	deduction := decimal.Zero
	if d, ok := cfg.FuelDeductions[t.Worker]; ok {
		deduction = d
	}
	return Statement{
		WorkerTotal:   t,
		FuelDeduction: deduction,
		Net:           t.TotalAmount.Sub(deduction),
	}
}

// Statements returns one statement per worker of the version, by name.
func (vs *VersionStore) Statements(ctx context.Context, versionID VersionID) ([]Statement, error) {
	v, err := vs.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	totals, err := vs.store.Totals(ctx, versionID)
	if err != nil {
		return nil, err
	}
	out := make([]Statement, len(totals))
	for i, t := range totals {
		out[i] = NewStatement(t, v.Config)
	}
	return out, nil
}
