/*
Package factory provides JSON to Go tariff conversion.

PURPOSE:
  Converts JSON tariff definitions into fee.Config values. Accounting can
  change the fuel table, transport band or alarm thresholds in a file
  without a release; the factory validates the document and fills the
  gaps from fee.DefaultConfig.

JSON SCHEMA:
  {
    "fuel_tariff": [
      {"up_to_km": 5, "payment": 100},
      {"up_to_km": 10, "payment": 150}
    ],
    "fuel_max": 3000,
    "fuel_warning": 2000,
    "transport": {
      "amount": 1000,
      "min_revenue": 10000,
      "percent_min": 20,
      "percent_max": 40
    },
    "diagnostic_rate": 0.5,
    "fuel_card_deduction_rate": 0.9,
    "company_vehicle_workers": ["Иванов Иван"],
    "alarms": {
      "high_payment": 20000,
      "high_specialist": 3500,
      "standard_percents": [30, 50, 100]
    }
  }

  Only fuel_tariff is required. Amounts may be JSON numbers or strings.

VALIDATION:
  Field rules are struct tags checked by go-playground/validator;
  decimal.Decimal values are validated as numbers. Cross-field rules
  (ascending breakpoints, transport band order) come from fee.Config.Validate.
  Every failure wraps payout.ErrInvalidField.

USAGE:
  f := factory.NewTariffFactory()
  cfg, err := f.LoadFile("./tariff.json")

SEE ALSO:
  - fee/config.go: Config type and defaults
  - api/dto.go: tariff overrides on import requests
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/payout-engine/fee"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TariffJSON is the JSON representation of a fee.Config.
type TariffJSON struct {
	FuelTariff            []BreakpointJSON `json:"fuel_tariff" validate:"required,min=1,dive"`
	FuelMax               *decimal.Decimal `json:"fuel_max,omitempty" validate:"omitempty,gte=0"`
	FuelWarning           *decimal.Decimal `json:"fuel_warning,omitempty" validate:"omitempty,gte=0"`
	Transport             *TransportJSON   `json:"transport,omitempty"`
	DiagnosticRate        *decimal.Decimal `json:"diagnostic_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	FuelCardDeductionRate *decimal.Decimal `json:"fuel_card_deduction_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	CompanyVehicleWorkers []string         `json:"company_vehicle_workers,omitempty" validate:"dive,required"`
	Alarms                *AlarmsJSON      `json:"alarms,omitempty"`
}

// BreakpointJSON pays Payment for distances up to UpToKm.
type BreakpointJSON struct {
	UpToKm  decimal.Decimal `json:"up_to_km" validate:"gt=0"`
	Payment decimal.Decimal `json:"payment" validate:"gte=0"`
}

// TransportJSON is the transport bonus band.
type TransportJSON struct {
	Amount     *decimal.Decimal `json:"amount,omitempty" validate:"omitempty,gte=0"`
	MinRevenue *decimal.Decimal `json:"min_revenue,omitempty" validate:"omitempty,gte=0"`
	PercentMin *decimal.Decimal `json:"percent_min,omitempty" validate:"omitempty,gte=0,lte=100"`
	PercentMax *decimal.Decimal `json:"percent_max,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// AlarmsJSON holds review thresholds.
type AlarmsJSON struct {
	HighPayment      *decimal.Decimal  `json:"high_payment,omitempty" validate:"omitempty,gt=0"`
	HighSpecialist   *decimal.Decimal  `json:"high_specialist,omitempty" validate:"omitempty,gt=0"`
	StandardPercents []decimal.Decimal `json:"standard_percents,omitempty" validate:"omitempty,dive,gt=0,lte=100"`
}

// =============================================================================
// TARIFF FACTORY
// =============================================================================

// TariffFactory converts JSON tariffs to fee.Config.
type TariffFactory struct {
	validate *validator.Validate
}

// NewTariffFactory creates a new tariff factory.
func NewTariffFactory() *TariffFactory {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	v.RegisterTagNameFunc(jsonName)
	return &TariffFactory{validate: v}
}

// Validator exposes the configured validator so request DTOs share the
// same decimal handling.
func (f *TariffFactory) Validator() *validator.Validate {
	return f.validate
}

// Parse decodes and converts a JSON tariff document.
func (f *TariffFactory) Parse(data []byte) (fee.Config, error) {
	var tj TariffJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return fee.Config{}, fmt.Errorf("%w: tariff: %v", payout.ErrInvalidField, err)
	}
	return f.FromJSON(tj)
}

// LoadFile reads a tariff document from disk.
func (f *TariffFactory) LoadFile(path string) (fee.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fee.Config{}, fmt.Errorf("failed to read tariff %s: %w", path, err)
	}
	return f.Parse(data)
}

// FromJSON validates tj and overlays it on the default config.
func (f *TariffFactory) FromJSON(tj TariffJSON) (fee.Config, error) {
	if err := f.validate.Struct(tj); err != nil {
		return fee.Config{}, fmt.Errorf("%w: tariff: %s", payout.ErrInvalidField, Describe(err))
	}

	cfg := fee.DefaultConfig()
	cfg.FuelTariff = make([]fee.Breakpoint, len(tj.FuelTariff))
	for i, b := range tj.FuelTariff {
		cfg.FuelTariff[i] = fee.Breakpoint{UpToKm: b.UpToKm, Payment: b.Payment}
	}
	set(&cfg.FuelMax, tj.FuelMax)
	set(&cfg.FuelWarning, tj.FuelWarning)
	set(&cfg.DiagnosticRate, tj.DiagnosticRate)
	set(&cfg.FuelCardDeductionRate, tj.FuelCardDeductionRate)
	if tj.Transport != nil {
		set(&cfg.TransportAmount, tj.Transport.Amount)
		set(&cfg.TransportMinRevenue, tj.Transport.MinRevenue)
		set(&cfg.TransportPercentMin, tj.Transport.PercentMin)
		set(&cfg.TransportPercentMax, tj.Transport.PercentMax)
	}
	if len(tj.CompanyVehicleWorkers) > 0 {
		cfg.CompanyVehicleWorkers = append([]string(nil), tj.CompanyVehicleWorkers...)
	}
	if tj.Alarms != nil {
		set(&cfg.AlarmHighPayment, tj.Alarms.HighPayment)
		set(&cfg.AlarmHighSpecialist, tj.Alarms.HighSpecialist)
		if len(tj.Alarms.StandardPercents) > 0 {
			cfg.StandardPercents = append([]decimal.Decimal(nil), tj.Alarms.StandardPercents...)
		}
	}

	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return fee.Config{}, fmt.Errorf("%w: tariff: %v", payout.ErrInvalidField, err)
	}
	return cfg, nil
}

// ToJSON converts a fee.Config back to its JSON form. Every field is set.
func (f *TariffFactory) ToJSON(cfg fee.Config) TariffJSON {
	ptr := func(d decimal.Decimal) *decimal.Decimal { return &d }
	tj := TariffJSON{
		FuelMax:               ptr(cfg.FuelMax),
		FuelWarning:           ptr(cfg.FuelWarning),
		DiagnosticRate:        ptr(cfg.DiagnosticRate),
		FuelCardDeductionRate: ptr(cfg.FuelCardDeductionRate),
		CompanyVehicleWorkers: cfg.CompanyVehicleWorkers,
		Transport: &TransportJSON{
			Amount:     ptr(cfg.TransportAmount),
			MinRevenue: ptr(cfg.TransportMinRevenue),
			PercentMin: ptr(cfg.TransportPercentMin),
			PercentMax: ptr(cfg.TransportPercentMax),
		},
		Alarms: &AlarmsJSON{
			HighPayment:      ptr(cfg.AlarmHighPayment),
			HighSpecialist:   ptr(cfg.AlarmHighSpecialist),
			StandardPercents: cfg.StandardPercents,
		},
	}
	for _, b := range cfg.FuelTariff {
		tj.FuelTariff = append(tj.FuelTariff, BreakpointJSON{UpToKm: b.UpToKm, Payment: b.Payment})
	}
	return tj
}

// =============================================================================
// VALIDATION HELPERS
// =============================================================================

// Describe flattens validator errors into "field: rule" pairs.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", trimNamespace(fe.Namespace()), rule))
	}
	return strings.Join(parts, "; ")
}

// trimNamespace drops the root struct name: "TariffJSON.fuel_max" -> "fuel_max".
func trimNamespace(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func decimalValue(v reflect.Value) any {
	if d, ok := v.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

func jsonName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

func set(dst *decimal.Decimal, src *decimal.Decimal) {
	if src != nil {
		*dst = *src
	}
}
