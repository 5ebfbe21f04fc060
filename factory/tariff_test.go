package factory_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/factory"
	"github.com/warp/payout-engine/fee"
	"github.com/warp/payout-engine/payout"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParse_MinimalUsesDefaults(t *testing.T) {
	// GIVEN: Only a fuel table, with amounts as numbers and strings
	doc := `{"fuel_tariff": [{"up_to_km": 10, "payment": "120"}, {"up_to_km": 5, "payment": 80}]}`

	// WHEN: Parsing
	cfg, err := factory.NewTariffFactory().Parse([]byte(doc))
	require.NoError(t, err)

	// THEN: The table is sorted and everything else is the stock tariff
	require.Len(t, cfg.FuelTariff, 2)
	assert.True(t, dec("5").Equal(cfg.FuelTariff[0].UpToKm))
	assert.True(t, dec("80").Equal(cfg.FuelTariff[0].Payment))
	assert.True(t, dec("120").Equal(cfg.FuelTariff[1].Payment))

	def := fee.DefaultConfig()
	assert.True(t, def.FuelMax.Equal(cfg.FuelMax))
	assert.True(t, def.TransportAmount.Equal(cfg.TransportAmount))
	assert.True(t, def.DiagnosticRate.Equal(cfg.DiagnosticRate))
	assert.Len(t, cfg.StandardPercents, 3)
}

func TestParse_Overrides(t *testing.T) {
	doc := `{
		"fuel_tariff": [{"up_to_km": 50, "payment": 500}],
		"fuel_max": 2500,
		"transport": {"amount": 1500, "percent_min": 25},
		"diagnostic_rate": 0.4,
		"company_vehicle_workers": ["Иванов Иван"],
		"alarms": {"high_payment": 30000, "standard_percents": [30, 40]}
	}`

	cfg, err := factory.NewTariffFactory().Parse([]byte(doc))
	require.NoError(t, err)

	assert.True(t, dec("2500").Equal(cfg.FuelMax))
	assert.True(t, dec("1500").Equal(cfg.TransportAmount))
	assert.True(t, dec("25").Equal(cfg.TransportPercentMin))
	assert.True(t, dec("40").Equal(cfg.TransportPercentMax))
	assert.True(t, dec("0.4").Equal(cfg.DiagnosticRate))
	assert.True(t, cfg.UsesCompanyVehicle("Иванов Иван"))
	assert.True(t, dec("30000").Equal(cfg.AlarmHighPayment))
	assert.True(t, dec("3500").Equal(cfg.AlarmHighSpecialist))
	assert.Len(t, cfg.StandardPercents, 2)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		mention string
	}{
		{"malformed json", `{"fuel_tariff": [`, "tariff"},
		{"no table", `{}`, "fuel_tariff"},
		{"empty table", `{"fuel_tariff": []}`, "fuel_tariff"},
		{"zero distance", `{"fuel_tariff": [{"up_to_km": 0, "payment": 1}]}`, "fuel_tariff[0].up_to_km"},
		{"negative fuel max", `{"fuel_tariff": [{"up_to_km": 1, "payment": 1}], "fuel_max": -1}`, "fuel_max"},
		{"rate above one", `{"fuel_tariff": [{"up_to_km": 1, "payment": 1}], "diagnostic_rate": 1.5}`, "diagnostic_rate"},
		{"duplicate breakpoints", `{"fuel_tariff": [{"up_to_km": 5, "payment": 1}, {"up_to_km": 5, "payment": 2}]}`, "breakpoint"},
		{"inverted band", `{"fuel_tariff": [{"up_to_km": 5, "payment": 1}], "transport": {"percent_min": 50}}`, "inverted"},
		{"blank vehicle worker", `{"fuel_tariff": [{"up_to_km": 5, "payment": 1}], "company_vehicle_workers": [""]}`, "company_vehicle_workers[0]"},
	}
	f := factory.NewTariffFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, payout.ErrInvalidField)
			assert.Equal(t, payout.KindInvalidInput, payout.KindOf(err))
			assert.Contains(t, err.Error(), tt.mention)
		})
	}
}

func TestToJSON_FeedsBackIntoFromJSON(t *testing.T) {
	f := factory.NewTariffFactory()
	def := fee.DefaultConfig()

	cfg, err := f.FromJSON(f.ToJSON(def))
	require.NoError(t, err)

	assert.Len(t, cfg.FuelTariff, len(def.FuelTariff))
	assert.True(t, def.FuelCardDeductionRate.Equal(cfg.FuelCardDeductionRate))
	assert.True(t, def.AlarmHighSpecialist.Equal(cfg.AlarmHighSpecialist))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tariff.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"fuel_tariff": [{"up_to_km": 5, "payment": 100}]}`), 0o600))

	cfg, err := factory.NewTariffFactory().LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, cfg.FuelTariff, 1)

	_, err = factory.NewTariffFactory().LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
