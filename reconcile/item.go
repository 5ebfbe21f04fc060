/*
Package reconcile implements the Reconciler: diffing a newly parsed import
against the previous version and materializing reviewer decisions into a
new version.

KEY CONCEPTS:
  - LineItem: one parsed feed record, before any fee is computed
  - Entry: a LineItem with its natural key
  - DiffResult: added / modified / deleted, keyed and sorted
  - Attempt: one reconciliation, parsed -> diffed -> (discarded | materialized)

NATURAL KEYS:
  order_code|worker for feed rows with a code; "hash:" + content hash for
  rows without one; "manual:<uuid>" for reviewer-added rows (assigned once
  by the Version Store). Colliding keys inside one set get "#2", "#3"...
  in content-hash order so the result does not depend on input order.
  On re-import an incoming row takes the stored key of the row it pairs
  with (identical rows first), so suffixes never move between orders.

SEE ALSO:
  - diff.go, materialize.go, attempt.go, session.go
*/
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payout-engine/fee"
	"github.com/warp/payout-engine/payout"
)

// LineItem is one parsed record of the order feed.
type LineItem struct {
	Worker          string          `json:"worker" validate:"required"`
	OrderCode       string          `json:"order_code"`
	Description     string          `json:"description"`
	Address         string          `json:"address"`
	OrderDate       *time.Time      `json:"order_date,omitempty"`
	DaysOnSite      int             `json:"days_on_site" validate:"gte=0"`
	RevenueTotal    decimal.Decimal `json:"revenue_total"`
	RevenueServices decimal.Decimal `json:"revenue_services"`
	Diagnostic      decimal.Decimal `json:"diagnostic"`
	DiagnosticPay   decimal.Decimal `json:"diagnostic_payment"`
	SpecialistFee   decimal.Decimal `json:"specialist_fee"`
	AdditionalExp   decimal.Decimal `json:"additional_expenses"`
	ServicePayment  decimal.Decimal `json:"service_payment"`
	Percent         string          `json:"percent"`
	ManagerComment  string          `json:"manager_comment,omitempty"`
	IsClientPayment bool            `json:"is_client_payment"`
	IsOverThreshold bool            `json:"is_over_threshold"`
}

// Entry is a keyed LineItem.
type Entry struct {
	Key  string   `json:"key"`
	Item LineItem `json:"item"`
}

// NaturalKey is the key before collision suffixes.
func (it LineItem) NaturalKey() string {
	if code := strings.TrimSpace(it.OrderCode); code != "" {
		return code + "|" + strings.TrimSpace(it.Worker)
	}
	return "hash:" + it.ContentHash()[:16]
}

// ContentHash is a SHA-256 over the worker, the code and every tracked field
// in canonical form.
func (it LineItem) ContentHash() string {
	parts := []string{strings.TrimSpace(it.Worker), strings.TrimSpace(it.OrderCode)}
	for _, f := range trackedFields {
		parts = append(parts, f.get(it))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Order converts the item into an unsaved order under the given key.
func (it LineItem) Order(key string) payout.Order {
	percent, _ := fee.ParsePercent(it.Percent)
	return payout.Order{
		Worker:             strings.TrimSpace(it.Worker),
		Key:                key,
		OrderCode:          it.OrderCode,
		Description:        it.Description,
		Address:            it.Address,
		OrderDate:          it.OrderDate,
		DaysOnSite:         it.DaysOnSite,
		RevenueTotal:       it.RevenueTotal,
		RevenueServices:    it.RevenueServices,
		Diagnostic:         it.Diagnostic,
		DiagnosticPayment:  it.DiagnosticPay,
		SpecialistFee:      it.SpecialistFee,
		AdditionalExpenses: it.AdditionalExp,
		ServicePayment:     it.ServicePayment,
		Percent:            it.Percent,
		PercentValue:       percent,
		ManagerComment:     it.ManagerComment,
		IsClientPayment:    it.IsClientPayment,
		IsOverThreshold:    it.IsOverThreshold,
	}
}

// ItemFromOrder recovers the feed view of a stored order.
func ItemFromOrder(o payout.Order) LineItem {
	return LineItem{
		Worker:          o.Worker,
		OrderCode:       o.OrderCode,
		Description:     o.Description,
		Address:         o.Address,
		OrderDate:       o.OrderDate,
		DaysOnSite:      o.DaysOnSite,
		RevenueTotal:    o.RevenueTotal,
		RevenueServices: o.RevenueServices,
		Diagnostic:      o.Diagnostic,
		DiagnosticPay:   o.DiagnosticPayment,
		SpecialistFee:   o.SpecialistFee,
		AdditionalExp:   o.AdditionalExpenses,
		ServicePayment:  o.ServicePayment,
		Percent:         o.Percent,
		ManagerComment:  o.ManagerComment,
		IsClientPayment: o.IsClientPayment,
		IsOverThreshold: o.IsOverThreshold,
	}
}

// =============================================================================
// TRACKED FIELDS
// =============================================================================

type trackedField struct {
	name string
	get  func(LineItem) string
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

var trackedFields = []trackedField{
	{"description", func(it LineItem) string { return strings.TrimSpace(it.Description) }},
	{"address", func(it LineItem) string { return strings.TrimSpace(it.Address) }},
	{"order_date", func(it LineItem) string {
		if it.OrderDate == nil {
			return ""
		}
		return it.OrderDate.Format("2006-01-02")
	}},
	{"days_on_site", func(it LineItem) string { return strconv.Itoa(it.DaysOnSite) }},
	{"revenue_total", func(it LineItem) string { return money(it.RevenueTotal) }},
	{"revenue_services", func(it LineItem) string { return money(it.RevenueServices) }},
	{"diagnostic", func(it LineItem) string { return money(it.Diagnostic) }},
	{"diagnostic_payment", func(it LineItem) string { return money(it.DiagnosticPay) }},
	{"specialist_fee", func(it LineItem) string { return money(it.SpecialistFee) }},
	{"additional_expenses", func(it LineItem) string { return money(it.AdditionalExp) }},
	{"service_payment", func(it LineItem) string { return money(it.ServicePayment) }},
	{"percent", func(it LineItem) string {
		p, err := fee.ParsePercent(it.Percent)
		if err != nil {
			return strings.TrimSpace(it.Percent)
		}
		return money(p)
	}},
	{"is_client_payment", func(it LineItem) string { return strconv.FormatBool(it.IsClientPayment) }},
	{"is_over_threshold", func(it LineItem) string { return strconv.FormatBool(it.IsOverThreshold) }},
}
