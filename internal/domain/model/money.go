package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies lists ISO 4217 currencies without a minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "ISK": true,
	"JPY": true, "KMF": true, "KRW": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// MinorUnits returns the number of decimal places used by currency.
func MinorUnits(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// RoundMinor rounds amount half away from zero to the currency's minor unit.
func RoundMinor(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(MinorUnits(currency))
}

// MinorUnit returns the value of one minor unit of currency (0.01 for EUR).
func MinorUnit(currency string) decimal.Decimal {
	return decimal.New(1, -MinorUnits(currency))
}

// AmountsMatch reports whether a and b are equal within half a minor unit,
// i.e. they round to the same amount in currency.
func AmountsMatch(a, b decimal.Decimal, currency string) bool {
	tolerance := MinorUnit(currency).Div(decimal.NewFromInt(2))
	return a.Sub(b).Abs().LessThan(tolerance)
}
