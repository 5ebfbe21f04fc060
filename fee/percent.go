package fee

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/payout-engine/payout"
)

// ParsePercent reads a localized percent string such as "30,00 %": a
// decimal with a comma or point, optionally followed by one "%".
// An empty string is zero. Anything else that does not parse returns zero
// and a *payout.MalformedPercentageError.
func ParsePercent(raw string) (decimal.Decimal, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimSpace(strings.TrimSuffix(text, "%"))
	if text == "" {
		if strings.TrimSpace(raw) == "" {
			return decimal.Zero, nil
		}
		return decimal.Zero, &payout.MalformedPercentageError{Raw: raw}
	}
	if strings.ContainsAny(text, "eE%") {
		return decimal.Zero, &payout.MalformedPercentageError{Raw: raw}
	}
	v, err := decimal.NewFromString(strings.Replace(text, ",", ".", 1))
	if err != nil {
		return decimal.Zero, &payout.MalformedPercentageError{Raw: raw}
	}
	return v, nil
}
