package formulas

import (
	"github.com/markcheno/go-talib"
)

// RSISeries calculates the Relative Strength Index series.
//
// RSI Formula:
//
//	RSI = 100 - (100 / (1 + RS))
//	where RS = Average Gain / Average Loss over N periods
//
// Args:
//
//	closes: Array of closing prices, oldest first
//	period: RSI period (typically 14)
//
// Returns:
//
//	Aligned series; the first `period` entries are nil.
func RSISeries(closes []float64, period int) []*float64 {
	if period <= 0 || len(closes) < period+1 {
		return make([]*float64, len(closes))
	}
	raw := talib.Rsi(closes, period)
	return seriesFrom(raw, period)
}

// RSI returns the current RSI value (0-100) or nil if insufficient data.
func RSI(closes []float64, period int) *float64 {
	return Last(RSISeries(closes, period))
}
