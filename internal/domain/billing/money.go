package billing

import (
	"github.com/shopspring/decimal"

	"github.com/ehr/clinicbill/internal/platform/apperr"
)

// MoneyScale is the number of minor-unit digits carried by every amount.
const MoneyScale = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half up to MoneyScale. It is applied once per derived
// value, never to intermediate products.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// ParseMoney parses a decimal string with at most MoneyScale fractional digits.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.InvalidInput("invalid amount %q", s)
	}
	if d.Exponent() < -MoneyScale {
		return decimal.Zero, apperr.InvalidInput("amount %q has more than %d decimal places", s, MoneyScale)
	}
	return d, nil
}

func maxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
