/*
Package fee implements the Fee Calculator.

PURPOSE:
  Maps one order's attributes, a distance and a Config to a payout
  breakdown: fuel payment, transport bonus, diagnostic adjustment and total.
  Compute is pure. Calculator adds the distance lookup and batch fan-out.

FORMULAS:
  fuel       = 0 for company-vehicle workers or when specialist fee != 0,
               else tariff(distance) x days on site, capped at FuelMax
  transport  = TransportAmount when revenue from services > TransportMinRevenue
               and TransportPercentMin <= percent <= TransportPercentMax
  diagnostic = Diagnostic x DiagnosticRate for client-payment orders,
               else Diagnostic
  total      = service payment + fuel + transport

SEE ALSO:
  - factory/tariff.go: builds a Config from JSON
  - alarms.go: post-calculation review flags
*/
package fee

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Breakpoint pays Payment for distances up to and including UpToKm.
type Breakpoint struct {
	UpToKm  decimal.Decimal `json:"up_to_km"`
	Payment decimal.Decimal `json:"payment"`
}

type Config struct {
	FuelTariff  []Breakpoint    `json:"fuel_tariff"`
	FuelMax     decimal.Decimal `json:"fuel_max"`
	FuelWarning decimal.Decimal `json:"fuel_warning"`

	TransportAmount     decimal.Decimal `json:"transport_amount"`
	TransportMinRevenue decimal.Decimal `json:"transport_min_revenue"`
	TransportPercentMin decimal.Decimal `json:"transport_percent_min"`
	TransportPercentMax decimal.Decimal `json:"transport_percent_max"`

	DiagnosticRate decimal.Decimal `json:"diagnostic_rate"`

	// CompanyVehicleWorkers never receive a fuel payment.
	CompanyVehicleWorkers []string `json:"company_vehicle_workers,omitempty"`

	// FuelCardDeductionRate scales fuel-card spend into the deduction.
	FuelCardDeductionRate decimal.Decimal `json:"fuel_card_deduction_rate"`

	AlarmHighPayment    decimal.Decimal   `json:"alarm_high_payment"`
	AlarmHighSpecialist decimal.Decimal   `json:"alarm_high_specialist"`
	StandardPercents    []decimal.Decimal `json:"standard_percents"`
}

// DefaultConfig returns the stock tariff.
func DefaultConfig() Config {
	d := decimal.NewFromInt
	return Config{
		FuelTariff: []Breakpoint{
			{UpToKm: d(5), Payment: d(100)},
			{UpToKm: d(10), Payment: d(150)},
			{UpToKm: d(20), Payment: d(200)},
			{UpToKm: d(30), Payment: d(300)},
			{UpToKm: d(40), Payment: d(400)},
			{UpToKm: d(50), Payment: d(500)},
			{UpToKm: d(75), Payment: d(700)},
			{UpToKm: d(100), Payment: d(1000)},
			{UpToKm: d(150), Payment: d(1500)},
			{UpToKm: d(200), Payment: d(2500)},
			{UpToKm: d(300), Payment: d(3500)},
		},
		FuelMax:               d(3000),
		FuelWarning:           d(2000),
		TransportAmount:       d(1000),
		TransportMinRevenue:   d(10000),
		TransportPercentMin:   d(20),
		TransportPercentMax:   d(40),
		DiagnosticRate:        decimal.RequireFromString("0.5"),
		FuelCardDeductionRate: decimal.RequireFromString("0.9"),
		AlarmHighPayment:      d(20000),
		AlarmHighSpecialist:   d(3500),
		StandardPercents:      []decimal.Decimal{d(30), d(50), d(100)},
	}
}

// Validate checks the tariff table is ascending and the bands are sane.
func (c Config) Validate() error {
	if len(c.FuelTariff) == 0 {
		return fmt.Errorf("fuel tariff is empty")
	}
	for i := 1; i < len(c.FuelTariff); i++ {
		prev, cur := c.FuelTariff[i-1], c.FuelTariff[i]
		if !cur.UpToKm.GreaterThan(prev.UpToKm) {
			return fmt.Errorf("fuel tariff breakpoint %d: %s km is not above %s km", i, cur.UpToKm, prev.UpToKm)
		}
		if cur.Payment.LessThan(prev.Payment) {
			return fmt.Errorf("fuel tariff breakpoint %d: payment %s decreases", i, cur.Payment)
		}
	}
	if c.TransportPercentMin.GreaterThan(c.TransportPercentMax) {
		return fmt.Errorf("transport percent band %s..%s is inverted", c.TransportPercentMin, c.TransportPercentMax)
	}
	if c.FuelMax.IsNegative() {
		return fmt.Errorf("fuel max must not be negative")
	}
	return nil
}

// Normalized returns a copy with the tariff sorted by distance.
func (c Config) Normalized() Config {
	out := c
	out.FuelTariff = append([]Breakpoint(nil), c.FuelTariff...)
	sort.Slice(out.FuelTariff, func(i, j int) bool {
		return out.FuelTariff[i].UpToKm.LessThan(out.FuelTariff[j].UpToKm)
	})
	return out
}

// UsesCompanyVehicle reports whether the worker is on the company-vehicle list.
func (c Config) UsesCompanyVehicle(worker string) bool {
	w := strings.TrimSpace(worker)
	for _, name := range c.CompanyVehicleWorkers {
		if strings.EqualFold(strings.TrimSpace(name), w) {
			return true
		}
	}
	return false
}

// Marshal encodes the config for storage on a version.
func (c Config) Marshal() (json.RawMessage, error) {
	return json.Marshal(c)
}

// ConfigFromVersion decodes a config stored on a version. An empty blob
// yields the defaults.
func ConfigFromVersion(raw json.RawMessage) (Config, error) {
	if len(raw) == 0 {
		return DefaultConfig(), nil
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("decode version config: %w", err)
	}
	return c, nil
}
