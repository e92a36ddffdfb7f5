package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units (cents for USD).
type Money struct {
	Amount   int64
	Currency string // ISO 4217
}

// NewMoney creates a Money from minor units.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: strings.ToUpper(currency),
	}
}

// currencyExponent returns the number of minor-unit digits for a currency.
func currencyExponent(currency string) int32 {
	switch strings.ToUpper(currency) {
	case "JPY", "KRW", "UGX", "RWF", "XOF", "XAF":
		return 0
	case "BHD", "KWD", "OMR", "TND":
		return 3
	default:
		return 2
	}
}

// ToDecimal converts minor units into a major-unit decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.New(m.Amount, -currencyExponent(m.Currency))
}

// FromDecimal converts a major-unit decimal into minor units, truncating extra precision.
func FromDecimal(d decimal.Decimal, currency string) int64 {
	return d.Shift(currencyExponent(currency)).IntPart()
}

// Display renders the amount with the currency's fixed number of decimals.
func (m Money) Display() string {
	return m.ToDecimal().StringFixed(currencyExponent(m.Currency))
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Display(), m.Currency)
}
