package fee

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/payout-engine/payout"
)

// AlarmKind classifies a line flagged for manual review.
type AlarmKind string

const (
	AlarmHighPayment        AlarmKind = "high_payment"
	AlarmNonStandardPercent AlarmKind = "non_standard_percent"
	AlarmHighSpecialistFee  AlarmKind = "high_specialist_fee"
	AlarmHighFuel           AlarmKind = "high_fuel"
)

type Alarm struct {
	Kind            AlarmKind      `json:"kind"`
	Worker          string         `json:"worker"`
	OrderID         payout.OrderID `json:"order_id"`
	OrderKey        string         `json:"order_key"`
	OrderCode       string         `json:"order_code,omitempty"`
	IsClientPayment bool           `json:"is_client_payment"`
	Message         string         `json:"message"`
}

// Alarms flags computed lines that deserve a second look. Pure; the input
// order is preserved and each line may raise several alarms.
func Alarms(lines []payout.Line, cfg Config) []Alarm {
	var out []Alarm
	half := decimal.RequireFromString("0.5")

	for _, line := range lines {
		o, calc := line.Order, line.Calculation
		raise := func(kind AlarmKind, format string, args ...any) {
			out = append(out, Alarm{
				Kind:            kind,
				Worker:          o.Worker,
				OrderID:         o.ID,
				OrderKey:        o.Key,
				OrderCode:       o.OrderCode,
				IsClientPayment: o.IsClientPayment,
				Message:         fmt.Sprintf(format, args...),
			})
		}

		if o.ServicePayment.GreaterThan(cfg.AlarmHighPayment) {
			raise(AlarmHighPayment, "service payment %s exceeds %s", o.ServicePayment, cfg.AlarmHighPayment)
		}

		percent := o.PercentValue
		if percent.IsPositive() && !isStandardPercent(percent, cfg.StandardPercents) {
			// Orders that are mostly the specialist fee carry odd percents legitimately.
			skip := o.RevenueTotal.IsPositive() &&
				o.SpecialistFee.GreaterThanOrEqual(o.RevenueTotal.Mul(half)) &&
				calc.Total.LessThanOrEqual(o.RevenueTotal)
			if !skip {
				raise(AlarmNonStandardPercent, "non-standard percent %s%%", percent.StringFixed(1))
			}
		}

		if o.SpecialistFee.GreaterThan(cfg.AlarmHighSpecialist) {
			raise(AlarmHighSpecialistFee, "specialist fee %s exceeds %s", o.SpecialistFee, cfg.AlarmHighSpecialist)
		}

		if calc.FuelPayment.GreaterThan(cfg.FuelWarning) {
			raise(AlarmHighFuel, "fuel payment %s exceeds %s", calc.FuelPayment, cfg.FuelWarning)
		}
	}
	return out
}

func isStandardPercent(p decimal.Decimal, standard []decimal.Decimal) bool {
	rounded := p.Round(0)
	for _, s := range standard {
		if rounded.Equal(s) {
			return true
		}
	}
	return false
}
