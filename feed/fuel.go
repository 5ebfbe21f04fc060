package feed

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	fuelUserColumn = "Имя пользователя"
	fuelCostColumn = "Стоимость"
)

// DefaultDeductionRate is the share of fuel-card spend withheld from pay.
var DefaultDeductionRate = decimal.RequireFromString("0.9")

// ParseFuelCard sums fuel-card spend per worker and scales it by rate,
// rounded to kopecks. Names are normalized with names when given. Rows with a
// non-numeric cost are skipped.
func ParseFuelCard(r io.Reader, rate decimal.Decimal, names NameMap) (map[string]decimal.Decimal, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, fmt.Errorf("feed: fuel card: %w", err)
	}

	header, userCol, costCol := -1, -1, -1
	for i, row := range rows {
		for j, c := range row {
			switch strings.TrimSpace(c) {
			case fuelUserColumn:
				userCol = j
			case fuelCostColumn:
				costCol = j
			}
		}
		if userCol >= 0 {
			header = i
			break
		}
	}
	if header < 0 || costCol < 0 {
		return nil, fmt.Errorf("feed: fuel card: %w", ErrNoHeader)
	}

	spend := make(map[string]decimal.Decimal)
	for _, row := range rows[header+1:] {
		user := strings.TrimSpace(cell(row, userCol))
		raw := strings.TrimSpace(cell(row, costCol))
		if user == "" || raw == "" {
			continue
		}
		cost, err := Amount(raw)
		if err != nil {
			continue
		}
		name := names.Normalize(user)
		spend[name] = spend[name].Add(cost)
	}

	out := make(map[string]decimal.Decimal, len(spend))
	for name, total := range spend {
		out[name] = total.Mul(rate).Round(2)
	}
	return out, nil
}

// IsFuelCard sniffs whether a workbook is a fuel-card statement.
func IsFuelCard(r io.Reader) bool {
	rows, err := readRows(r)
	if err != nil {
		return false
	}
	for i := 0; i < len(rows) && i < 20; i++ {
		line := strings.Join(rows[i], " ")
		if strings.Contains(line, fuelUserColumn) && strings.Contains(line, fuelCostColumn) {
			return true
		}
	}
	return false
}
