package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(1050, "usd") // 10.50 USD
	assert.Equal(t, "10.5", m.ToDecimal().String())
	assert.Equal(t, "USD", m.Currency)
}

func TestFromDecimal(t *testing.T) {
	assert.Equal(t, int64(1050), FromDecimal(decimal.RequireFromString("10.50"), "USD"))
	assert.Equal(t, int64(1050), FromDecimal(decimal.RequireFromString("10.509"), "USD"))
	assert.Equal(t, int64(1050), FromDecimal(decimal.RequireFromString("1050"), "JPY"))
}

func TestMoney_Display(t *testing.T) {
	assert.Equal(t, "150.00", NewMoney(15000, "USD").Display())
	assert.Equal(t, "-30.00", NewMoney(-3000, "USD").Display())
	assert.Equal(t, "15000", NewMoney(15000, "JPY").Display())
	assert.Equal(t, "1.250", NewMoney(1250, "KWD").Display())
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "100.00 EUR", NewMoney(10000, "EUR").String())
}
