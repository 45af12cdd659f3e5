package collector

import (
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/pkg/formulas"
)

// EnrichIndicators recomputes every cached indicator over the full bar slice
// (ascending date order) and writes the values back into the bars. Indicators
// whose lookback exceeds the history stay nil.
func EnrichIndicators(bars []domain.Bar) {
	n := len(bars)
	if n == 0 {
		return
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = float64(b.Volume)
	}

	ma5 := formulas.SMASeries(closes, 5)
	ma20 := formulas.SMASeries(closes, 20)
	ma60 := formulas.SMASeries(closes, 60)
	ma120 := formulas.SMASeries(closes, 120)
	ma200 := formulas.SMASeries(closes, 200)
	rsi := formulas.RSISeries(closes, 14)
	macd := formulas.MACDSeries(closes, 12, 26, 9)
	bb := formulas.BollingerSeries(closes, 20, 2)
	atr := formulas.ATRSeries(highs, lows, closes, 14)
	volMA, volRatio := formulas.VolumeRatioSeries(volumes, 20)

	for i := range bars {
		bars[i].MA5 = at(ma5, i)
		bars[i].MA20 = at(ma20, i)
		bars[i].MA60 = at(ma60, i)
		bars[i].MA120 = at(ma120, i)
		bars[i].MA200 = at(ma200, i)
		bars[i].RSI14 = at(rsi, i)
		bars[i].MACD = at(macd.MACD, i)
		bars[i].MACDSignal = at(macd.Signal, i)
		bars[i].MACDHist = at(macd.Histogram, i)
		bars[i].BBUpper = at(bb.Upper, i)
		bars[i].BBMiddle = at(bb.Middle, i)
		bars[i].BBLower = at(bb.Lower, i)
		bars[i].ATR14 = at(atr, i)
		bars[i].VolumeMA20 = at(volMA, i)
		bars[i].VolumeRatio = at(volRatio, i)
	}
}

func at(series []*float64, i int) *float64 {
	if series == nil || i >= len(series) {
		return nil
	}
	return series[i]
}
