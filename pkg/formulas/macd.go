package formulas

import (
	"github.com/markcheno/go-talib"
)

// MACDResult holds the three aligned MACD series.
type MACDResult struct {
	MACD      []*float64
	Signal    []*float64
	Histogram []*float64
}

// MACDSeries calculates MACD(fast, slow, signal) over the closes.
//
// MACD Line = EMA(fast) - EMA(slow); Signal = EMA(MACD, signal);
// Histogram = MACD - Signal. Standard parameters are 12/26/9.
func MACDSeries(closes []float64, fast, slow, signal int) MACDResult {
	n := len(closes)
	empty := MACDResult{
		MACD:      make([]*float64, n),
		Signal:    make([]*float64, n),
		Histogram: make([]*float64, n),
	}

	// The signal line needs slow + signal - 1 closes before its first value.
	warmup := slow + signal - 2
	if fast <= 0 || slow <= fast || signal <= 0 || n <= warmup {
		return empty
	}

	macd, sig, hist := talib.Macd(closes, fast, slow, signal)
	return MACDResult{
		MACD:      seriesFrom(macd, warmup),
		Signal:    seriesFrom(sig, warmup),
		Histogram: seriesFrom(hist, warmup),
	}
}
