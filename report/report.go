/*
Package report renders a payout version as an xlsx workbook.

LAYOUT:
  - "Сводка": one row per worker with totals, fuel-card deduction and net
  - one sheet per worker with that worker's lines

Workbooks are built in memory and returned as bytes; the caller streams
them.
*/
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/payout-engine/payout"
)

const summarySheet = "Сводка"

// Data is everything one workbook shows.
type Data struct {
	Period     payout.Period
	Version    payout.Version
	Statements []payout.Statement
	Lines      []payout.Line
}

// Options tune the output.
type Options struct {
	// ForWorkers hides revenue columns that workers should not see.
	ForWorkers bool
}

var summaryHeader = []any{
	"Монтажник", "Заказов", "Оплата компанией", "Оплата клиентом",
	"Бензин", "Транспорт", "Итого", "Вычет топливной карты", "К выплате",
}

var linesHeader = []any{
	"Заказ", "Адрес", "Выручка от услуг", "Оплата услуг", "Процент",
	"Бензин", "Транспорт", "Диагностика", "Итого", "Оплата клиентом",
}

// Columns hidden from workers: revenue from services and percent.
var workerHiddenCols = []string{"C", "E"}

// Build renders the whole version.
func Build(d Data, opts Options) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		return nil, err
	}
	styles, err := newStyles(f)
	if err != nil {
		return nil, err
	}
	if err := writeSummary(f, styles, d); err != nil {
		return nil, err
	}

	byWorker := groupLines(d.Lines)
	used := map[string]bool{summarySheet: true}
	for _, worker := range sortedKeys(byWorker) {
		name := sheetName(worker, used)
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
		if err := writeLines(f, styles, name, d, worker, byWorker[worker], opts); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("report: write: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildWorker renders one worker's sheet only.
func BuildWorker(d Data, worker string, opts Options) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	name := sheetName(worker, map[string]bool{})
	if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
		return nil, err
	}
	styles, err := newStyles(f)
	if err != nil {
		return nil, err
	}
	lines := groupLines(d.Lines)[worker]
	if len(lines) == 0 {
		return nil, &payout.NotFoundError{Entity: "worker", ID: worker}
	}
	if err := writeLines(f, styles, name, d, worker, lines, opts); err != nil {
		return nil, err
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("report: write: %w", err)
	}
	return buf.Bytes(), nil
}

// =============================================================================
// SHEETS
// =============================================================================

type styles struct {
	header int
	money  int
	total  int
}

func newStyles(f *excelize.File) (styles, error) {
	var s styles
	var err error
	if s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF", Family: "Arial", Size: 9},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4574A0"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	}); err != nil {
		return s, err
	}
	numFmt := "#,##0.00"
	if s.money, err = f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt}); err != nil {
		return s, err
	}
	if s.total, err = f.NewStyle(&excelize.Style{
		Font:         &excelize.Font{Bold: true},
		Fill:         excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFFF00"}},
		CustomNumFmt: &numFmt,
	}); err != nil {
		return s, err
	}
	return s, nil
}

// sheetWriter keeps the first excelize error; later calls are no-ops.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	err   error
}

func (w *sheetWriter) cell(col, row int) string {
	if w.err != nil {
		return ""
	}
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
	}
	return name
}

func (w *sheetWriter) value(cell string, v any) {
	if w.err == nil {
		w.err = w.f.SetCellValue(w.sheet, cell, v)
	}
}

func (w *sheetWriter) row(cell string, values []any) {
	if w.err == nil {
		w.err = w.f.SetSheetRow(w.sheet, cell, &values)
	}
}

func (w *sheetWriter) style(from, to string, style int) {
	if w.err == nil {
		w.err = w.f.SetCellStyle(w.sheet, from, to, style)
	}
}

func (w *sheetWriter) width(from, to string, width float64) {
	if w.err == nil {
		w.err = w.f.SetColWidth(w.sheet, from, to, width)
	}
}

func (w *sheetWriter) hide(col string) {
	if w.err == nil {
		w.err = w.f.SetColVisible(w.sheet, col, false)
	}
}

func (w *sheetWriter) result() error {
	if w.err != nil {
		return fmt.Errorf("report: sheet %q: %w", w.sheet, w.err)
	}
	return nil
}

func writeSummary(f *excelize.File, st styles, d Data) error {
	w := &sheetWriter{f: f, sheet: summarySheet}
	w.value("A1", "Период: "+d.Period.Name)
	w.value("A2", fmt.Sprintf("Версия: %d (%s)", d.Version.Sequence, d.Period.Status))
	w.row("A4", summaryHeader)
	w.style("A4", "I4", st.header)

	statements := append([]payout.Statement(nil), d.Statements...)
	sort.Slice(statements, func(i, j int) bool { return statements[i].Worker < statements[j].Worker })

	row := 5
	sum := make([]decimal.Decimal, 7)
	for _, s := range statements {
		values := []decimal.Decimal{
			s.CompanyAmount, s.ClientAmount, s.FuelTotal, s.TransportTotal,
			s.TotalAmount, s.FuelDeduction, s.Net,
		}
		cells := []any{s.Worker, s.OrdersCount}
		for i, v := range values {
			cells = append(cells, v.InexactFloat64())
			sum[i] = sum[i].Add(v)
		}
		w.row(w.cell(1, row), cells)
		w.style(w.cell(3, row), w.cell(9, row), st.money)
		row++
	}

	totals := []any{"Итого", ""}
	for _, v := range sum {
		totals = append(totals, v.InexactFloat64())
	}
	w.row(w.cell(1, row), totals)
	w.style(w.cell(1, row), w.cell(9, row), st.total)
	w.width("A", "A", 35)
	w.width("B", "I", 15)
	return w.result()
}

func writeLines(f *excelize.File, st styles, sh string, d Data, worker string, lines []payout.Line, opts Options) error {
	w := &sheetWriter{f: f, sheet: sh}
	w.value("A1", worker)
	w.value("A2", "Период: "+d.Period.Name)
	w.row("A4", linesHeader)
	w.style("A4", "J4", st.header)

	row := 5
	total := decimal.Zero
	for _, l := range lines {
		o, c := l.Order, l.Calculation
		client := ""
		if o.IsClientPayment {
			client = "да"
		}
		w.row(w.cell(1, row), []any{
			o.Description, o.Address,
			o.RevenueServices.InexactFloat64(), o.ServicePayment.InexactFloat64(),
			o.Percent,
			c.FuelPayment.InexactFloat64(), c.Transport.InexactFloat64(),
			c.DiagnosticAdjustment.InexactFloat64(), c.Total.InexactFloat64(),
			client,
		})
		w.style(w.cell(3, row), w.cell(4, row), st.money)
		w.style(w.cell(6, row), w.cell(9, row), st.money)
		total = total.Add(c.Total)
		row++
	}
	w.value(w.cell(1, row), "Итого")
	w.value(w.cell(9, row), total.InexactFloat64())
	w.style(w.cell(1, row), w.cell(10, row), st.total)

	w.width("A", "A", 55)
	w.width("B", "B", 40)
	w.width("C", "J", 13)
	if opts.ForWorkers {
		for _, col := range workerHiddenCols {
			w.hide(col)
		}
	}
	return w.result()
}

// =============================================================================
// HELPERS
// =============================================================================

func groupLines(lines []payout.Line) map[string][]payout.Line {
	out := make(map[string][]payout.Line)
	for _, l := range lines {
		out[l.Order.Worker] = append(out[l.Order.Worker], l)
	}
	for _, ls := range out {
		sort.SliceStable(ls, func(i, j int) bool { return ls[i].Order.Key < ls[j].Order.Key })
	}
	return out
}

func sortedKeys(m map[string][]payout.Line) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var sheetNameReplacer = strings.NewReplacer(":", " ", "\\", " ", "/", " ", "?", " ", "*", " ", "[", "(", "]", ")")

// sheetName makes a unique, valid (31 runes, no reserved characters) name.
func sheetName(worker string, used map[string]bool) string {
	base := strings.TrimSpace(sheetNameReplacer.Replace(worker))
	if base == "" {
		base = "Без имени"
	}
	name := truncate(base, 31)
	for n := 2; used[name]; n++ {
		suffix := fmt.Sprintf(" %d", n)
		name = truncate(base, 31-len([]rune(suffix))) + suffix
	}
	used[name] = true
	return name
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
