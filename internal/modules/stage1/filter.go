// Package stage1 implements the technical screen over Stage-0 survivors:
// five indicator filters evaluated on each ticker's most recent daily bar,
// with a weighted composite score, persisted to filter_cache_stage1.
package stage1

import (
	"fmt"
	"math"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Params are the tunable filter thresholds.
type Params struct {
	MinBars       int
	MaxGapDays    int
	GapToleranceD int // adjacent-bar gaps up to this many calendar days are holidays, not gaps
	RSIMin        float64
	RSIMax        float64
	VolumeSpike   float64 // volume / volume_ma20 threshold
}

// DefaultParams returns the production thresholds.
func DefaultParams() Params {
	return Params{
		MinBars:       250,
		MaxGapDays:    60,
		GapToleranceD: 7,
		RSIMin:        30,
		RSIMax:        70,
		VolumeSpike:   1.5,
	}
}

// Composite weights. MA alignment dominates: trend structure is the thesis,
// the rest is confirmation.
const (
	weightMA     = 0.30
	weightRSI    = 0.25
	weightMACD   = 0.20
	weightVolume = 0.15
	weightPrice  = 0.10
)

// Verdict is the outcome of the filter chain for one ticker.
type Verdict struct {
	Passed    bool
	Composite float64
	Reason    string
}

// CheckHistory validates the bar sequence preconditions: enough history and
// no data hole wider than MaxGapDays. Runs of missing calendar days up to
// GapToleranceD are holiday weeks, not holes.
func (p Params) CheckHistory(bars []domain.Bar) error {
	if len(bars) < p.MinBars {
		return domain.NewInsufficientDataError(
			fmt.Sprintf("데이터 부족 (%d bars < %d required)", len(bars), p.MinBars))
	}
	for i := 1; i < len(bars); i++ {
		gapDays := int(bars[i].Date.Sub(bars[i-1].Date).Hours() / 24)
		if gapDays > p.GapToleranceD && gapDays > p.MaxGapDays {
			return domain.NewInsufficientDataError(
				fmt.Sprintf("데이터 공백 (%d-day hole at %s)", gapDays, bars[i-1].Date.Format("2006-01-02")))
		}
	}
	return nil
}

// Evaluate runs the five-filter chain on the latest bar. Any failure
// short-circuits with a zero composite and the failing filter's reason.
func (p Params) Evaluate(bar domain.Bar) Verdict {
	// Every filter needs its indicators; a nil here means the warmup window
	// exceeded the history, which CheckHistory should have caught.
	if bar.MA5 == nil || bar.MA20 == nil || bar.MA60 == nil ||
		bar.RSI14 == nil || bar.MACD == nil || bar.MACDSignal == nil ||
		bar.MACDHist == nil || bar.VolumeMA20 == nil {
		return Verdict{Reason: "지표 미계산 (indicators not available)"}
	}

	// 1. MA alignment.
	maScore := 0.0
	switch {
	case bar.MA120 != nil && bar.MA200 != nil &&
		*bar.MA5 > *bar.MA20 && *bar.MA20 > *bar.MA60 &&
		*bar.MA60 > *bar.MA120 && *bar.MA120 > *bar.MA200:
		maScore = 100
	case *bar.MA5 > *bar.MA20 && *bar.MA20 > *bar.MA60:
		maScore = 75
	default:
		return Verdict{Reason: "이동평균 미정렬 (MA alignment failed)"}
	}

	// 2. RSI band.
	rsi := *bar.RSI14
	if rsi > p.RSIMax {
		return Verdict{Reason: fmt.Sprintf("RSI 과매수 (RSI overbought: %.1f)", rsi)}
	}
	if rsi < p.RSIMin {
		return Verdict{Reason: fmt.Sprintf("RSI 과매도 (RSI oversold: %.1f)", rsi)}
	}
	rsiScore := 100 - 2*math.Abs(rsi-50)

	// 3. MACD posture.
	if !(*bar.MACD > *bar.MACDSignal && *bar.MACDHist > 0) {
		return Verdict{Reason: "MACD 약세 (MACD bearish)"}
	}

	// 4. Volume spike.
	if *bar.VolumeMA20 <= 0 || float64(bar.Volume) < *bar.VolumeMA20*p.VolumeSpike {
		return Verdict{Reason: fmt.Sprintf("거래량 부족 (volume below %.1fx average)", p.VolumeSpike)}
	}

	// 5. Price above MA20.
	if bar.Close <= *bar.MA20 {
		return Verdict{Reason: "주가 MA20 하회 (price below MA20)"}
	}

	composite := maScore*weightMA + rsiScore*weightRSI +
		100*weightMACD + 100*weightVolume + 100*weightPrice
	return Verdict{
		Passed:    true,
		Composite: composite,
		Reason:    "통과 (passed)",
	}
}
