package fee_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/fee"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func km(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func baseOrder() payout.Order {
	return payout.Order{
		Key:            "KAUT-001|Ivanov Ivan",
		Worker:         "Ivanov Ivan",
		Address:        "Moscow, Tverskaya 1",
		ServicePayment: dec("4000"),
		Percent:        "30,00 %",
	}
}

type stubDistances map[string]decimal.Decimal

func (s stubDistances) DistanceKm(_ context.Context, address string) (decimal.Decimal, error) {
	d, ok := s[address]
	if !ok {
		return decimal.Zero, errors.New("geocoder: no results")
	}
	return d, nil
}

// =============================================================================
// FUEL
// =============================================================================

func TestFuel_TariffLookup(t *testing.T) {
	// GIVEN: Default tariff, specialist fee zero
	cfg := fee.DefaultConfig()
	order := baseOrder()

	// WHEN/THEN: 15 km pays the 20 km breakpoint, 250 km is capped
	assert.True(t, fee.Compute(order, km(15), cfg).FuelPayment.Equal(km(200)))
	assert.True(t, fee.Compute(order, km(250), cfg).FuelPayment.Equal(km(3000)))
}

func TestFuel_BreakpointIsInclusive(t *testing.T) {
	cfg := fee.DefaultConfig()
	assert.True(t, fee.Tariff(km(20), cfg).Equal(km(200)))
	assert.True(t, fee.Tariff(dec("20.01"), cfg).Equal(km(300)))
}

func TestFuel_BeyondLastBreakpointUsesLastPayment(t *testing.T) {
	cfg := fee.DefaultConfig()
	cfg.FuelMax = km(100000)
	assert.True(t, fee.Tariff(km(5000), cfg).Equal(km(3500)))
}

func TestFuel_Monotonic(t *testing.T) {
	// GIVEN: Distances sampled from 0 to 400 km
	cfg := fee.DefaultConfig()
	order := baseOrder()

	// THEN: fuel(d1) <= fuel(d2) <= cap for every d1 < d2
	prev := decimal.Zero
	for d := int64(0); d <= 400; d++ {
		got := fee.Compute(order, km(d), cfg).FuelPayment
		assert.True(t, got.GreaterThanOrEqual(prev), "fuel decreased at %d km", d)
		assert.True(t, got.LessThanOrEqual(cfg.FuelMax), "fuel above cap at %d km", d)
		prev = got
	}
}

func TestFuel_SpecialistFeeDisablesFuel(t *testing.T) {
	order := baseOrder()
	order.SpecialistFee = dec("1500")

	res := fee.Compute(order, km(15), fee.DefaultConfig())
	assert.True(t, res.FuelPayment.IsZero())
}

func TestFuel_CompanyVehicleDisablesFuel(t *testing.T) {
	cfg := fee.DefaultConfig()
	cfg.CompanyVehicleWorkers = []string{" ivanov ivan "}

	res := fee.Compute(baseOrder(), km(15), cfg)
	assert.True(t, res.FuelPayment.IsZero())
}

func TestFuel_MultipliedByDaysAndCapped(t *testing.T) {
	cfg := fee.DefaultConfig()
	order := baseOrder()

	order.DaysOnSite = 3
	assert.True(t, fee.Compute(order, km(15), cfg).FuelPayment.Equal(km(600)))

	order.DaysOnSite = 10
	assert.True(t, fee.Compute(order, km(150), cfg).FuelPayment.Equal(km(3000)))
}

func TestFuel_ZeroDistancePaysNothing(t *testing.T) {
	res := fee.Compute(baseOrder(), decimal.Zero, fee.DefaultConfig())
	assert.True(t, res.FuelPayment.IsZero())
}

// =============================================================================
// TRANSPORT
// =============================================================================

func TestTransport_Scenarios(t *testing.T) {
	cfg := fee.DefaultConfig()
	tests := []struct {
		name     string
		services string
		percent  string
		want     int64
	}{
		{"above minimum inside band", "12000", "30%", 1000},
		{"below minimum", "9000", "30%", 0},
		{"outside band", "12000", "50%", 0},
		{"band lower edge inclusive", "12000", "20,00 %", 1000},
		{"band upper edge inclusive", "12000", "40 %", 1000},
		{"minimum itself is not enough", "10000", "30%", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := baseOrder()
			order.RevenueServices = dec(tt.services)
			order.Percent = tt.percent

			res := fee.Compute(order, km(15), cfg)
			assert.True(t, res.Transport.Equal(km(tt.want)), "got %s", res.Transport)
		})
	}
}

// =============================================================================
// DIAGNOSTIC AND TOTAL
// =============================================================================

func TestDiagnostic_ClientPaymentIsHalved(t *testing.T) {
	order := baseOrder()
	order.Diagnostic = dec("3000")

	company := fee.Compute(order, km(15), fee.DefaultConfig())
	assert.True(t, company.DiagnosticAdjustment.Equal(dec("3000")))

	order.IsClientPayment = true
	client := fee.Compute(order, km(15), fee.DefaultConfig())
	assert.True(t, client.DiagnosticAdjustment.Equal(dec("1500")))
}

func TestTotal_IsServicePlusFuelPlusTransport(t *testing.T) {
	// GIVEN: Random orders
	cfg := fee.DefaultConfig()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		order := baseOrder()
		order.ServicePayment = decimal.NewFromInt(rng.Int63n(30000))
		order.RevenueServices = decimal.NewFromInt(rng.Int63n(30000))
		order.Diagnostic = decimal.NewFromInt(rng.Int63n(5000))
		order.IsClientPayment = rng.Intn(2) == 0
		order.Percent = []string{"30%", "25,5 %", "50", "", "abc"}[rng.Intn(5)]
		if rng.Intn(3) == 0 {
			order.SpecialistFee = decimal.NewFromInt(1000)
		}

		res := fee.Compute(order, decimal.NewFromInt(rng.Int63n(400)), cfg)

		// THEN: Diagnostic adjustment is never added on top
		want := order.ServicePayment.Add(res.FuelPayment).Add(res.Transport)
		require.True(t, res.Total.Equal(want), "order %d: total %s != %s", i, res.Total, want)
	}
}

func TestCompute_MalformedPercentWarnsAndContinues(t *testing.T) {
	order := baseOrder()
	order.Percent = "thirty"
	order.RevenueServices = dec("12000")

	res := fee.Compute(order, km(15), fee.DefaultConfig())

	assert.True(t, res.Percent.IsZero())
	assert.True(t, res.Transport.IsZero())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, payout.KindMalformedPercentage, res.Warnings[0].Kind)
	assert.Equal(t, order.Key, res.Warnings[0].OrderKey)
}

// =============================================================================
// CALCULATOR
// =============================================================================

func TestCalculator_LookupMissFallsBackToZero(t *testing.T) {
	// GIVEN: A lookup that cannot resolve the address
	calc := &fee.Calculator{Config: fee.DefaultConfig(), Distances: stubDistances{}}

	// WHEN: Calculating
	res := calc.Calculate(context.Background(), baseOrder())

	// THEN: No fuel, one unresolvable-address warning, total still computed
	assert.True(t, res.FuelPayment.IsZero())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, payout.KindUnresolvableAddress, res.Warnings[0].Kind)
	assert.True(t, res.Total.Equal(dec("4000")))
}

func TestCalculator_SkipsLookupWhenFuelNotPaid(t *testing.T) {
	calc := &fee.Calculator{Config: fee.DefaultConfig(), Distances: stubDistances{}}
	order := baseOrder()
	order.SpecialistFee = dec("2000")

	res := calc.Calculate(context.Background(), order)
	assert.Empty(t, res.Warnings)
}

func TestCalculator_CalculateAllKeepsOrder(t *testing.T) {
	calc := &fee.Calculator{
		Config:      fee.DefaultConfig(),
		Distances:   stubDistances{"near": km(4), "far": km(90)},
		Concurrency: 2,
	}
	near, far := baseOrder(), baseOrder()
	near.Address, far.Address = "near", "far"

	res := calc.CalculateAll(context.Background(), []payout.Order{far, near, far})

	require.Len(t, res, 3)
	assert.True(t, res[0].FuelPayment.Equal(km(1000)))
	assert.True(t, res[1].FuelPayment.Equal(km(100)))
	assert.True(t, res[2].FuelPayment.Equal(km(1000)))
}
