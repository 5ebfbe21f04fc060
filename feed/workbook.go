/*
Package feed reads the spreadsheets the reconciler consumes.

ORDER FEED:
  Two workbooks exported from the accounting system: orders under the
  reduced-diagnostic threshold and orders over it. Each has a header row
  whose first cell is "Монтажник"; data starts two rows below it. Rows are
  either group headers (a worker name, optionally suffixed with
  "(оплата клиентом)" for client-paid orders) or order lines under the
  current group. Groups that are not people are skipped.

  Columns (0-based): 0 order text, 4 revenue total, 5 revenue from services,
  6 diagnostic, 7 diagnostic payment, 8 specialist fee, 9 additional
  expenses, 10 service payment, 11 percent.

FUEL CARD:
  A fuel-card statement with "Имя пользователя" and "Стоимость" columns.
  See fuel.go.

SEE ALSO:
  - reconcile.Import: the parsed result
*/
package feed

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/reconcile"
)

const (
	headerMarker = "Монтажник"

	colOrder           = 0
	colRevenueTotal    = 4
	colRevenueServices = 5
	colDiagnostic      = 6
	colDiagnosticPay   = 7
	colSpecialistFee   = 8
	colAdditionalExp   = 9
	colServicePayment  = 10
	colPercent         = 11
)

// ErrNoHeader is returned when a workbook has no "Монтажник" header row.
var ErrNoHeader = errors.New("feed: header row not found")

// Source is one order-feed workbook.
type Source struct {
	Reader        io.Reader
	OverThreshold bool
}

type sheet struct {
	rows          [][]string
	header        int
	overThreshold bool
}

// ParseOrders reads order-feed workbooks into one import. Worker names are
// normalized across all sources. Period name, month and year come from the
// first "Период:" line found.
func ParseOrders(sources ...Source) (reconcile.Import, error) {
	var imp reconcile.Import
	sheets := make([]sheet, 0, len(sources))
	for i, src := range sources {
		rows, err := readRows(src.Reader)
		if err != nil {
			return imp, fmt.Errorf("feed: workbook %d: %w", i+1, err)
		}
		header := findHeader(rows)
		if header < 0 {
			return imp, fmt.Errorf("feed: workbook %d: %w", i+1, ErrNoHeader)
		}
		sheets = append(sheets, sheet{rows: rows, header: header, overThreshold: src.OverThreshold})
		if imp.PeriodName == "" {
			if p, ok := FindPeriod(rows); ok {
				imp.PeriodName, imp.Month, imp.Year = p.Label, p.Month, p.Year
			}
		}
	}

	var names []string
	for _, s := range sheets {
		names = append(names, s.workerNames()...)
	}
	nameMap := BuildNameMap(names)

	for _, s := range sheets {
		items, warnings := s.items(nameMap)
		imp.Items = append(imp.Items, items...)
		imp.Warnings = append(imp.Warnings, warnings...)
	}
	return imp, nil
}

func readRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func findHeader(rows [][]string) int {
	for i := 0; i < len(rows) && i < 10; i++ {
		if strings.TrimSpace(cell(rows[i], 0)) == headerMarker {
			return i
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col < len(row) {
		return row[col]
	}
	return ""
}

func skipRow(first string) bool {
	return first == "" || first == "Итого" || first == "Заказ, Комментарий"
}

func (s sheet) dataRows() [][]string {
	if s.header+2 >= len(s.rows) {
		return nil
	}
	return s.rows[s.header+2:]
}

func (s sheet) workerNames() []string {
	var names []string
	for _, row := range s.dataRows() {
		first := strings.TrimSpace(cell(row, colOrder))
		if skipRow(first) || isOrderRow(first) {
			continue
		}
		if IsWorkerName(first) {
			names = append(names, first)
		}
	}
	return names
}

func (s sheet) items(names NameMap) ([]reconcile.LineItem, []payout.Warning) {
	var (
		items    []reconcile.LineItem
		warnings []payout.Warning
		worker   string
		client   bool
	)
	for i, row := range s.dataRows() {
		first := strings.TrimSpace(cell(row, colOrder))
		if skipRow(first) {
			continue
		}
		if !isOrderRow(first) {
			client = strings.Contains(first, ClientPaymentMarker)
			worker = ""
			if IsWorkerName(first) {
				worker = names.Normalize(first)
			}
			continue
		}
		if worker == "" {
			continue
		}

		item := reconcile.LineItem{
			Worker:          worker,
			OrderCode:       OrderCode(first),
			Description:     Describe(first),
			Address:         Address(first),
			OrderDate:       OrderDate(first),
			Percent:         strings.TrimSpace(cell(row, colPercent)),
			IsClientPayment: client,
			IsOverThreshold: s.overThreshold,
		}
		var bad []string
		for _, f := range []struct {
			col  int
			dest *decimal.Decimal
		}{
			{colRevenueTotal, &item.RevenueTotal},
			{colRevenueServices, &item.RevenueServices},
			{colDiagnostic, &item.Diagnostic},
			{colDiagnosticPay, &item.DiagnosticPay},
			{colSpecialistFee, &item.SpecialistFee},
			{colAdditionalExp, &item.AdditionalExp},
			{colServicePayment, &item.ServicePayment},
		} {
			v, err := Amount(cell(row, f.col))
			if err != nil {
				bad = append(bad, fmt.Sprintf("column %d: %q", f.col+1, cell(row, f.col)))
			}
			*f.dest = v
		}
		if len(bad) > 0 {
			warnings = append(warnings, payout.Warning{
				Kind:     payout.KindInvalidInput,
				OrderKey: item.NaturalKey(),
				Message:  fmt.Sprintf("row %d: unreadable amounts treated as zero (%s)", s.header+3+i, strings.Join(bad, ", ")),
			})
		}
		items = append(items, item)
	}
	return items, warnings
}

var amountReplacer = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", ",", ".")

// Amount parses a money cell. Empty is zero.
func Amount(raw string) (decimal.Decimal, error) {
	s := amountReplacer.Replace(strings.TrimSpace(raw))
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("feed: amount %q: %w", raw, err)
	}
	return d, nil
}

// =============================================================================
// PERIOD
// =============================================================================

var periodRe = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{4})\s*-\s*(\d{2})\.(\d{2})\.(\d{4})`)

// PeriodInfo is the reporting period named in a workbook header.
type PeriodInfo struct {
	Label string // "01-15.11.25"
	Month time.Month
	Year  int
}

// FindPeriod looks for a "Период: dd.mm.yyyy - dd.mm.yyyy" cell in the
// first rows. The label uses the end date's month and year.
func FindPeriod(rows [][]string) (PeriodInfo, bool) {
	for i := 0; i < len(rows) && i < 5; i++ {
		for _, c := range rows[i] {
			if !strings.Contains(c, "Период:") {
				continue
			}
			m := periodRe.FindStringSubmatch(c)
			if m == nil {
				continue
			}
			end, err := time.Parse("02.01.2006", m[4]+"."+m[5]+"."+m[6])
			if err != nil {
				continue
			}
			return PeriodInfo{
				Label: fmt.Sprintf("%s-%s.%s.%s", m[1], m[4], m[2], m[6][2:]),
				Month: end.Month(),
				Year:  end.Year(),
			}, true
		}
	}
	return PeriodInfo{}, false
}

// SecondHalf reports whether a period label starts on day 16 or later.
// Fuel-card deductions apply to second-half periods only.
func SecondHalf(label string) bool {
	day, _, ok := strings.Cut(label, "-")
	if !ok {
		return false
	}
	var d int
	if _, err := fmt.Sscanf(strings.TrimSpace(day), "%d", &d); err != nil {
		return false
	}
	return d >= 16
}
