package fee

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// COMPUTE - Pure per-order formulas
// =============================================================================

// Result is the payout breakdown of one order.
type Result struct {
	FuelPayment          decimal.Decimal
	Transport            decimal.Decimal
	DiagnosticAdjustment decimal.Decimal
	Total                decimal.Decimal

	// Percent is the parsed percent share the transport rule used.
	Percent  decimal.Decimal
	Warnings []payout.Warning
}

// Calculation converts the result into the persisted form.
func (r Result) Calculation() payout.Calculation {
	return payout.Calculation{
		FuelPayment:          r.FuelPayment,
		Transport:            r.Transport,
		DiagnosticAdjustment: r.DiagnosticAdjustment,
		Total:                r.Total,
	}
}

// Compute applies the fee formulas to one order. It never fails: a malformed
// percent becomes zero plus a warning.
func Compute(order payout.Order, distanceKm decimal.Decimal, cfg Config) Result {
	var res Result

	percent, err := ParsePercent(order.Percent)
	if err != nil {
		res.Warnings = append(res.Warnings, payout.WarningFrom(order.Key, err))
	}
	res.Percent = percent

	res.FuelPayment = FuelPayment(order, distanceKm, cfg)

	res.Transport = decimal.Zero
	if order.RevenueServices.GreaterThan(cfg.TransportMinRevenue) &&
		percent.GreaterThanOrEqual(cfg.TransportPercentMin) &&
		percent.LessThanOrEqual(cfg.TransportPercentMax) {
		res.Transport = cfg.TransportAmount
	}

	res.DiagnosticAdjustment = order.Diagnostic
	if order.IsClientPayment {
		res.DiagnosticAdjustment = order.Diagnostic.Mul(cfg.DiagnosticRate)
	}

	res.Total = order.ServicePayment.Add(res.FuelPayment).Add(res.Transport)
	return res
}

// FuelPayment is the fuel part of Compute.
func FuelPayment(order payout.Order, distanceKm decimal.Decimal, cfg Config) decimal.Decimal {
	if cfg.UsesCompanyVehicle(order.Worker) || !order.SpecialistFee.IsZero() {
		return decimal.Zero
	}
	days := int64(order.DaysOnSite)
	if days <= 0 {
		days = 1
	}
	pay := Tariff(distanceKm, cfg).Mul(decimal.NewFromInt(days))
	if pay.GreaterThan(cfg.FuelMax) {
		return cfg.FuelMax
	}
	return pay
}

// Tariff looks up the breakpoint table. Each breakpoint pays for distances up
// to and including it; beyond the last one the last payment applies. A
// non-positive distance pays nothing.
func Tariff(distanceKm decimal.Decimal, cfg Config) decimal.Decimal {
	if !distanceKm.IsPositive() || len(cfg.FuelTariff) == 0 {
		return decimal.Zero
	}
	for _, bp := range cfg.FuelTariff {
		if distanceKm.LessThanOrEqual(bp.UpToKm) {
			return bp.Payment
		}
	}
	return cfg.FuelTariff[len(cfg.FuelTariff)-1].Payment
}

// =============================================================================
// CALCULATOR - Compute plus distance lookup
// =============================================================================

// DistanceLookup resolves an address to a road distance from the origin.
// Implementations memoize.
type DistanceLookup interface {
	DistanceKm(ctx context.Context, address string) (decimal.Decimal, error)
}

type Calculator struct {
	Config    Config
	Distances DistanceLookup

	// Concurrency bounds parallel lookups in CalculateAll. Zero means 8.
	Concurrency int
}

// NeedsDistance reports whether the fuel rule would look at the distance.
func (c *Calculator) NeedsDistance(order payout.Order) bool {
	return order.Address != "" &&
		order.SpecialistFee.IsZero() &&
		!c.Config.UsesCompanyVehicle(order.Worker)
}

// Calculate resolves the distance then computes. A lookup miss falls back to
// distance zero with an UnresolvableAddress warning.
func (c *Calculator) Calculate(ctx context.Context, order payout.Order) Result {
	km, warn := c.distance(ctx, order)
	res := Compute(order, km, c.Config)
	if warn != nil {
		res.Warnings = append(res.Warnings, *warn)
	}
	return res
}

// CalculateAll computes every order, resolving distances in parallel.
// Results are index-aligned with orders.
func (c *Calculator) CalculateAll(ctx context.Context, orders []payout.Order) []Result {
	out := make([]Result, len(orders))
	limit := c.Concurrency
	if limit <= 0 {
		limit = 8
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range orders {
		i := i
		g.Go(func() error {
			out[i] = c.Calculate(ctx, orders[i])
			return nil
		})
	}
	_ = g.Wait() // Calculate never fails
	return out
}

func (c *Calculator) distance(ctx context.Context, order payout.Order) (decimal.Decimal, *payout.Warning) {
	if c.Distances == nil || !c.NeedsDistance(order) {
		return decimal.Zero, nil
	}
	km, err := c.Distances.DistanceKm(ctx, order.Address)
	if err == nil {
		return km, nil
	}
	if !errors.Is(err, payout.ErrUnresolvableAddress) {
		err = &payout.UnresolvableAddressError{Address: order.Address, Cause: err}
	}
	w := payout.WarningFrom(order.Key, err)
	return decimal.Zero, &w
}
