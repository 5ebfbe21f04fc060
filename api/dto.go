/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. The payout domain
  types carry no JSON tags; these types are the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Every amount is a decimal.Decimal, serialized as a JSON string ("1234.50").
  Requests accept numbers or strings.

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  h.validate.Struct before touching the engine. Decimals validate as numbers.

SEE ALSO:
  - handlers.go: Uses these types
  - reconcile/item.go: LineItem, accepted as-is in import requests
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payout-engine/factory"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/reconcile"
)

// =============================================================================
// REQUESTS
// =============================================================================

// ImportRequest is a feed already parsed by the caller.
type ImportRequest struct {
	PeriodName     string                     `json:"period_name" validate:"required,max=64"`
	Month          int                        `json:"month" validate:"min=1,max=12"`
	Year           int                        `json:"year" validate:"min=2000,max=2100"`
	Items          []reconcile.LineItem       `json:"items" validate:"dive"`
	FuelDeductions map[string]decimal.Decimal `json:"fuel_deductions,omitempty" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
}

// ApplyRequest is the reviewer's decision. A nil Selection accepts every
// detected change.
type ApplyRequest struct {
	Selection      *reconcile.Selection `json:"selection,omitempty"`
	RestoreEditIDs []string             `json:"restore_edit_ids,omitempty" validate:"dive,required"`
	Tariff         *factory.TariffJSON  `json:"tariff,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft sent paid"`
}

// AddOrderRequest adds a feed-style order (fees computed with the version's
// tariff) or, with manual set, a manual row with a fixed total.
type AddOrderRequest struct {
	reconcile.LineItem
	Manual bool             `json:"manual"`
	Total  *decimal.Decimal `json:"total,omitempty"`
}

type UpdateOrderRequest struct {
	OrderCode *string `json:"order_code,omitempty" validate:"omitempty,max=64"`
	Address   *string `json:"address,omitempty" validate:"omitempty,max=512"`
}

type CalculationEditRequest struct {
	Field string           `json:"field" validate:"required,oneof=fuel_payment transport diagnostic_adjustment total"`
	Value *decimal.Decimal `json:"value" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type PeriodDTO struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Month     int        `json:"month"`
	Year      int        `json:"year"`
	Status    string     `json:"status"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// PeriodDetailDTO is a period with its versions, oldest first.
type PeriodDetailDTO struct {
	PeriodDTO
	Versions []VersionDTO `json:"versions"`
}

type VersionDTO struct {
	ID             string                     `json:"id"`
	PeriodID       string                     `json:"period_id"`
	Sequence       int                        `json:"sequence"`
	FuelDeductions map[string]decimal.Decimal `json:"fuel_deductions,omitempty"`
	CreatedBy      string                     `json:"created_by"`
	CreatedAt      time.Time                  `json:"created_at"`
}

type VersionDetailDTO struct {
	VersionDTO
	Lines      []LineDTO      `json:"lines"`
	Statements []StatementDTO `json:"statements"`
}

// LineDTO is an order joined to its calculation.
type LineDTO struct {
	OrderID            string          `json:"order_id"`
	CalculationID      string          `json:"calculation_id"`
	Key                string          `json:"key"`
	Worker             string          `json:"worker"`
	OrderCode          string          `json:"order_code,omitempty"`
	Description        string          `json:"description,omitempty"`
	Address            string          `json:"address,omitempty"`
	OrderDate          *time.Time      `json:"order_date,omitempty"`
	DaysOnSite         int             `json:"days_on_site"`
	RevenueTotal       decimal.Decimal `json:"revenue_total"`
	RevenueServices    decimal.Decimal `json:"revenue_services"`
	Diagnostic         decimal.Decimal `json:"diagnostic"`
	DiagnosticPayment  decimal.Decimal `json:"diagnostic_payment"`
	SpecialistFee      decimal.Decimal `json:"specialist_fee"`
	AdditionalExpenses decimal.Decimal `json:"additional_expenses"`
	ServicePayment     decimal.Decimal `json:"service_payment"`
	Percent            string          `json:"percent"`
	ManagerComment     string          `json:"manager_comment,omitempty"`
	IsClientPayment    bool            `json:"is_client_payment"`
	IsOverThreshold    bool            `json:"is_over_threshold"`
	IsManualRow        bool            `json:"is_manual_row"`

	FuelPayment          decimal.Decimal `json:"fuel_payment"`
	Transport            decimal.Decimal `json:"transport"`
	DiagnosticAdjustment decimal.Decimal `json:"diagnostic_adjustment"`
	Total                decimal.Decimal `json:"total"`
}

// StatementDTO is a worker's totals with the fuel-card deduction applied.
type StatementDTO struct {
	Worker             string          `json:"worker"`
	OrdersCount        int             `json:"orders_count"`
	CompanyOrdersCount int             `json:"company_orders_count"`
	ClientOrdersCount  int             `json:"client_orders_count"`
	CompanyAmount      decimal.Decimal `json:"company_amount"`
	ClientAmount       decimal.Decimal `json:"client_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	FuelTotal          decimal.Decimal `json:"fuel_total"`
	TransportTotal     decimal.Decimal `json:"transport_total"`
	FuelDeduction      decimal.Decimal `json:"fuel_deduction"`
	Net                decimal.Decimal `json:"net"`
}

type EditDTO struct {
	ID            string          `json:"id"`
	VersionID     string          `json:"version_id"`
	OrderID       string          `json:"order_id"`
	CalculationID string          `json:"calculation_id"`
	OrderKey      string          `json:"order_key"`
	Worker        string          `json:"worker"`
	Field         string          `json:"field"`
	OldValue      decimal.Decimal `json:"old_value"`
	NewValue      decimal.Decimal `json:"new_value"`
	ActorName     string          `json:"actor_name"`
	PeriodStatus  string          `json:"period_status"`
	RestoredFrom  string          `json:"restored_from,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ChangeDTO struct {
	Type      string    `json:"type"`
	OrderKey  string    `json:"order_key"`
	Worker    string    `json:"worker"`
	Field     string    `json:"field,omitempty"`
	Before    string    `json:"before,omitempty"`
	After     string    `json:"after,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AttemptDTO is an import under review.
type AttemptDTO struct {
	ID             string                     `json:"id"`
	State          string                     `json:"state"`
	PeriodID       string                     `json:"period_id,omitempty"`
	PeriodName     string                     `json:"period_name"`
	PrevVersionID  string                     `json:"prev_version_id,omitempty"`
	VersionID      string                     `json:"version_id,omitempty"`
	Diff           reconcile.DiffResult       `json:"diff"`
	FuelDeductions map[string]decimal.Decimal `json:"fuel_deductions,omitempty"`
	Warnings       []payout.Warning           `json:"warnings"`
	CreatedBy      string                     `json:"created_by"`
	CreatedAt      time.Time                  `json:"created_at"`
}

type AddOrderResponse struct {
	Line     LineDTO          `json:"line"`
	Warnings []payout.Warning `json:"warnings"`
}

type OutcomeDTO struct {
	Version  VersionDTO       `json:"version"`
	Changes  int              `json:"changes"`
	Restored int              `json:"restored"`
	Warnings []payout.Warning `json:"warnings"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPeriodDTO(p payout.Period) PeriodDTO {
	return PeriodDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		Month:     int(p.Month),
		Year:      p.Year,
		Status:    string(p.Status),
		SentAt:    p.SentAt,
		PaidAt:    p.PaidAt,
		CreatedAt: p.CreatedAt,
	}
}

func toVersionDTO(v payout.Version) VersionDTO {
	return VersionDTO{
		ID:             string(v.ID),
		PeriodID:       string(v.PeriodID),
		Sequence:       v.Sequence,
		FuelDeductions: v.Config.FuelDeductions,
		CreatedBy:      v.CreatedBy,
		CreatedAt:      v.CreatedAt,
	}
}

func toLineDTO(l payout.Line) LineDTO {
	o, c := l.Order, l.Calculation
	return LineDTO{
		OrderID:              string(o.ID),
		CalculationID:        string(c.ID),
		Key:                  o.Key,
		Worker:               o.Worker,
		OrderCode:            o.OrderCode,
		Description:          o.Description,
		Address:              o.Address,
		OrderDate:            o.OrderDate,
		DaysOnSite:           o.DaysOnSite,
		RevenueTotal:         o.RevenueTotal,
		RevenueServices:      o.RevenueServices,
		Diagnostic:           o.Diagnostic,
		DiagnosticPayment:    o.DiagnosticPayment,
		SpecialistFee:        o.SpecialistFee,
		AdditionalExpenses:   o.AdditionalExpenses,
		ServicePayment:       o.ServicePayment,
		Percent:              o.Percent,
		ManagerComment:       o.ManagerComment,
		IsClientPayment:      o.IsClientPayment,
		IsOverThreshold:      o.IsOverThreshold,
		IsManualRow:          o.IsManualRow,
		FuelPayment:          c.FuelPayment,
		Transport:            c.Transport,
		DiagnosticAdjustment: c.DiagnosticAdjustment,
		Total:                c.Total,
	}
}

func toLineDTOs(lines []payout.Line) []LineDTO {
	out := make([]LineDTO, len(lines))
	for i, l := range lines {
		out[i] = toLineDTO(l)
	}
	return out
}

func toStatementDTO(s payout.Statement) StatementDTO {
	return StatementDTO{
		Worker:             s.Worker,
		OrdersCount:        s.OrdersCount,
		CompanyOrdersCount: s.CompanyOrdersCount,
		ClientOrdersCount:  s.ClientOrdersCount,
		CompanyAmount:      s.CompanyAmount,
		ClientAmount:       s.ClientAmount,
		TotalAmount:        s.TotalAmount,
		FuelTotal:          s.FuelTotal,
		TransportTotal:     s.TransportTotal,
		FuelDeduction:      s.FuelDeduction,
		Net:                s.Net,
	}
}

func toStatementDTOs(statements []payout.Statement) []StatementDTO {
	out := make([]StatementDTO, len(statements))
	for i, s := range statements {
		out[i] = toStatementDTO(s)
	}
	return out
}

func toEditDTO(e payout.ManualEdit) EditDTO {
	return EditDTO{
		ID:            string(e.ID),
		VersionID:     string(e.VersionID),
		OrderID:       string(e.OrderID),
		CalculationID: string(e.CalculationID),
		OrderKey:      e.OrderKey,
		Worker:        e.Worker,
		Field:         string(e.Field),
		OldValue:      e.OldValue,
		NewValue:      e.NewValue,
		ActorName:     e.ActorName,
		PeriodStatus:  string(e.PeriodStatus),
		RestoredFrom:  string(e.RestoredFrom),
		CreatedAt:     e.CreatedAt,
	}
}

func toChangeDTO(c payout.ChangeEntry) ChangeDTO {
	return ChangeDTO{
		Type:      string(c.Type),
		OrderKey:  c.OrderKey,
		Worker:    c.Worker,
		Field:     c.Field,
		Before:    c.Before,
		After:     c.After,
		CreatedAt: c.CreatedAt,
	}
}

func toAttemptDTO(a *reconcile.Attempt) AttemptDTO {
	warnings := a.Warnings
	if warnings == nil {
		warnings = []payout.Warning{}
	}
	return AttemptDTO{
		ID:             a.ID,
		State:          string(a.State),
		PeriodID:       string(a.Period.ID),
		PeriodName:     a.Period.Name,
		PrevVersionID:  string(a.PrevVersionID),
		VersionID:      string(a.VersionID),
		Diff:           a.Diff,
		FuelDeductions: a.FuelDeductions,
		Warnings:       warnings,
		CreatedBy:      a.CreatedBy,
		CreatedAt:      a.CreatedAt,
	}
}

func toOutcomeDTO(o *reconcile.Outcome) OutcomeDTO {
	warnings := o.Warnings
	if warnings == nil {
		warnings = []payout.Warning{}
	}
	return OutcomeDTO{
		Version:  toVersionDTO(*o.Version),
		Changes:  o.Changes,
		Restored: o.Restored,
		Warnings: warnings,
	}
}
