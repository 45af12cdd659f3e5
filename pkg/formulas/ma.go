package formulas

import (
	"github.com/markcheno/go-talib"
)

// SMASeries calculates a simple moving average over the input.
//
// Args:
//
//	values: price (or volume) series, oldest first
//	period: lookback window
//
// Returns:
//
//	Aligned series; entries before the window fills are nil.
func SMASeries(values []float64, period int) []*float64 {
	if period <= 0 || len(values) < period {
		return make([]*float64, len(values))
	}
	raw := talib.Sma(values, period)
	return seriesFrom(raw, period-1)
}

// SMA returns the most recent simple moving average, or nil if insufficient data.
func SMA(values []float64, period int) *float64 {
	return Last(SMASeries(values, period))
}

// EMASeries calculates an exponential moving average over the input.
func EMASeries(values []float64, period int) []*float64 {
	if period <= 0 || len(values) < period {
		return make([]*float64, len(values))
	}
	raw := talib.Ema(values, period)
	return seriesFrom(raw, period-1)
}

// EMA returns the most recent exponential moving average, or nil if insufficient data.
func EMA(values []float64, period int) *float64 {
	return Last(EMASeries(values, period))
}
