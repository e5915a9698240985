package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimal places an amount may carry. Stores keep
// amounts at this scale.
const MinorUnits = 2

// InMinorUnits reports whether amount has no precision beyond MinorUnits.
func InMinorUnits(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(MinorUnits))
}

// FormatMoney renders an amount with two decimals and thousands separators,
// e.g. "KES 1,250,000.00".
func FormatMoney(currency string, amount decimal.Decimal) string {
	fixed := amount.StringFixed(2)

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}

	whole, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	out := sign + b.String() + "." + frac
	if currency == "" {
		return out
	}
	return currency + " " + out
}
