package formulas

import (
	"github.com/markcheno/go-talib"
)

// ATRSeries calculates the Average True Range series.
//
// True Range = max(high-low, |high-prevClose|, |low-prevClose|);
// ATR = Wilder-smoothed average of TR over the period (typically 14).
func ATRSeries(highs, lows, closes []float64, period int) []*float64 {
	n := len(closes)
	if period <= 0 || len(highs) != n || len(lows) != n || n < period+1 {
		return make([]*float64, n)
	}
	raw := talib.Atr(highs, lows, closes, period)
	return seriesFrom(raw, period)
}
