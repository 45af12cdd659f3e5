package formulas

import (
	"github.com/markcheno/go-talib"
)

// BollingerResult holds the three aligned Bollinger Band series.
type BollingerResult struct {
	Upper  []*float64
	Middle []*float64
	Lower  []*float64
}

// BollingerSeries calculates Bollinger Bands over the closes.
//
// Middle Band = N-day SMA; Upper/Lower = Middle ± (stdDev × σ).
// Standard parameters are length 20, stdDev 2.
func BollingerSeries(closes []float64, length int, stdDev float64) BollingerResult {
	n := len(closes)
	if length <= 0 || n < length {
		return BollingerResult{
			Upper:  make([]*float64, n),
			Middle: make([]*float64, n),
			Lower:  make([]*float64, n),
		}
	}

	// MAType 0 = SMA
	upper, middle, lower := talib.BBands(closes, length, stdDev, stdDev, 0)
	return BollingerResult{
		Upper:  seriesFrom(upper, length-1),
		Middle: seriesFrom(middle, length-1),
		Lower:  seriesFrom(lower, length-1),
	}
}
