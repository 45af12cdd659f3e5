package domain

import "math"

// Monetary storage convention: whole-unit currencies (KRW, JPY, VND) persist
// as plain integers; fractional currencies (USD, HKD, CNY) persist as
// integers scaled by 1e4. Trade records never hold binary-float cash values.

// MinorScale is the fixed-point scale for fractional currencies.
const MinorScale = 10000

// wholeUnit reports whether a currency has no fractional minor unit.
func wholeUnit(currency string) bool {
	switch currency {
	case "KRW", "JPY", "VND":
		return true
	}
	return false
}

// ToMinor converts a display amount to its integer storage representation.
func ToMinor(amount float64, currency string) int64 {
	if wholeUnit(currency) {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * MinorScale))
}

// FromMinor converts an integer storage value back to a display amount.
func FromMinor(minor int64, currency string) float64 {
	if wholeUnit(currency) {
		return float64(minor)
	}
	return float64(minor) / MinorScale
}

// ToKRW converts a local-currency amount to KRW using the given rate
// (KRW per one unit of local currency), rounded to whole won.
func ToKRW(localAmount, rateKRW float64) int64 {
	return int64(math.Round(localAmount * rateKRW))
}
