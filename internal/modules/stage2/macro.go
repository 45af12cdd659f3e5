package stage2

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Macro layer: 25 points. Broad conditions around the ticker, derived from
// its own long-window history.

// marketRegimeModule (9 pts) reads the trend regime off the MA200 slope and
// the price's position relative to it.
type marketRegimeModule struct{}

func (m *marketRegimeModule) Name() string   { return "market_regime" }
func (m *marketRegimeModule) MaxPoints() int { return 9 }

func (m *marketRegimeModule) Score(bars []domain.Bar) (int, string) {
	latest := bars[len(bars)-1]
	if latest.MA200 == nil {
		return 0, "MA200 unavailable"
	}

	slope := ma200Slope(bars, 20)
	above := latest.Close > *latest.MA200

	switch {
	case above && slope > 0:
		return 9, fmt.Sprintf("bull regime: price above rising MA200 (slope %.4f)", slope)
	case above:
		return 6, "price above flat/declining MA200"
	case slope > 0:
		return 3, "price below rising MA200"
	default:
		return 0, "bear regime: price below declining MA200"
	}
}

// Regime labels the engine records alongside the scores.
func regimeLabels(bars []domain.Bar) (market, volatility string) {
	latest := bars[len(bars)-1]

	market = "SIDEWAYS"
	if latest.MA200 != nil {
		slope := ma200Slope(bars, 20)
		switch {
		case latest.Close > *latest.MA200 && slope > 0:
			market = "BULL"
		case latest.Close < *latest.MA200 && slope < 0:
			market = "BEAR"
		}
	}

	volatility = "NORMAL"
	if latest.ATR14 != nil && latest.Close > 0 {
		atrPct := *latest.ATR14 / latest.Close
		switch {
		case atrPct > 0.04:
			volatility = "HIGH"
		case atrPct < 0.015:
			volatility = "LOW"
		}
	}
	return market, volatility
}

// ma200Slope fits a line through the last `window` MA200 values and returns
// the per-bar slope normalized by price level.
func ma200Slope(bars []domain.Bar, window int) float64 {
	recent := tail(bars, window)
	var xs, ys []float64
	for i, b := range recent {
		if b.MA200 == nil {
			continue
		}
		xs = append(xs, float64(i))
		ys = append(ys, *b.MA200)
	}
	if len(ys) < 2 || ys[len(ys)-1] == 0 {
		return 0
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope / ys[len(ys)-1]
}

// volumeProfileModule (8 pts) rewards accumulation: up-day volume exceeding
// down-day volume over the last quarter.
type volumeProfileModule struct{}

func (m *volumeProfileModule) Name() string   { return "volume_profile" }
func (m *volumeProfileModule) MaxPoints() int { return 8 }

func (m *volumeProfileModule) Score(bars []domain.Bar) (int, string) {
	recent := tail(bars, 60)
	var upVol, downVol float64
	for _, b := range recent {
		if b.Close >= b.Open {
			upVol += float64(b.Volume)
		} else {
			downVol += float64(b.Volume)
		}
	}
	if upVol+downVol == 0 {
		return 0, "no volume data"
	}

	ratio := upVol / (upVol + downVol)
	score := int(ratio*16) - 4 // 0.5 ratio -> 4 pts, 0.75+ -> 8
	return clampScore(score, 8), fmt.Sprintf("up-day volume share %.0f%%", ratio*100)
}

// priceActionModule (8 pts) rewards tight closes near the highs of recent
// ranges.
type priceActionModule struct{}

func (m *priceActionModule) Name() string   { return "price_action" }
func (m *priceActionModule) MaxPoints() int { return 8 }

func (m *priceActionModule) Score(bars []domain.Bar) (int, string) {
	recent := tail(bars, 20)
	score := 0
	strongCloses := 0
	for _, b := range recent {
		if b.High == b.Low {
			continue
		}
		// Close in the top third of the day's range.
		if (b.Close-b.Low)/(b.High-b.Low) >= 0.67 {
			strongCloses++
		}
	}
	score = strongCloses * 8 / len(recent)
	return clampScore(score, 8), fmt.Sprintf("%d/%d strong closes in last %d sessions", strongCloses, len(recent), len(recent))
}
