package stage2

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Structural layer: 45 points. The Weinstein-style trend structure thesis.

// stageAnalysisModule (15 pts) classifies the Weinstein stage from price vs
// MA200 and the MA200 slope, with MA60 confirming.
type stageAnalysisModule struct{}

func (m *stageAnalysisModule) Name() string   { return "stage_analysis" }
func (m *stageAnalysisModule) MaxPoints() int { return 15 }

func (m *stageAnalysisModule) Score(bars []domain.Bar) (int, string) {
	latest := bars[len(bars)-1]
	if latest.MA200 == nil || latest.MA60 == nil {
		return 0, "long MAs unavailable"
	}

	slope := ma200Slope(bars, 20)
	above200 := latest.Close > *latest.MA200
	above60 := latest.Close > *latest.MA60

	switch {
	case above200 && above60 && slope > 0.0005:
		return 15, "stage 2 advance: price above rising MA200 and MA60"
	case above200 && slope > 0:
		return 11, "early stage 2: price above MA200, slope turning up"
	case above200:
		return 7, "stage 1 base: price above flat MA200"
	case slope > 0:
		return 4, "possible stage 1: MA200 rising but price below"
	default:
		return 0, "stage 4 decline"
	}
}

// movingAverageModule (15 pts) scores the full MA fan alignment and the
// price's distance from MA20.
type movingAverageModule struct{}

func (m *movingAverageModule) Name() string   { return "moving_average" }
func (m *movingAverageModule) MaxPoints() int { return 15 }

func (m *movingAverageModule) Score(bars []domain.Bar) (int, string) {
	latest := bars[len(bars)-1]
	if latest.MA5 == nil || latest.MA20 == nil || latest.MA60 == nil {
		return 0, "short MAs unavailable"
	}

	score := 0
	desc := "no alignment"
	switch {
	case latest.MA120 != nil && latest.MA200 != nil &&
		*latest.MA5 > *latest.MA20 && *latest.MA20 > *latest.MA60 &&
		*latest.MA60 > *latest.MA120 && *latest.MA120 > *latest.MA200:
		score, desc = 12, "full MA fan aligned"
	case *latest.MA5 > *latest.MA20 && *latest.MA20 > *latest.MA60:
		score, desc = 9, "short MA fan aligned"
	case *latest.MA5 > *latest.MA20:
		score, desc = 4, "MA5 above MA20 only"
	}

	// Extension bonus/penalty: just above MA20 is buyable, >15% above is
	// chase territory.
	if *latest.MA20 > 0 {
		ext := (latest.Close - *latest.MA20) / *latest.MA20
		if ext > 0 && ext <= 0.08 {
			score += 3
			desc += fmt.Sprintf(", %.1f%% above MA20", ext*100)
		} else if ext > 0.15 {
			score -= 3
			desc += fmt.Sprintf(", extended %.1f%% above MA20", ext*100)
		}
	}
	return clampScore(score, 15), desc
}

// relativeStrengthModule (15 pts) ranks the ticker's 3-month return slope
// against its own longer history; strong recent momentum relative to the
// 12-month base scores high.
type relativeStrengthModule struct{}

func (m *relativeStrengthModule) Name() string   { return "relative_strength" }
func (m *relativeStrengthModule) MaxPoints() int { return 15 }

func (m *relativeStrengthModule) Score(bars []domain.Bar) (int, string) {
	cs := closes(bars)
	if len(cs) < 120 {
		return 0, "insufficient history for relative strength"
	}

	ret3m := periodReturn(cs, 60)
	ret12m := periodReturn(cs, len(cs)-1)

	// Trend quality: R² of the 3-month linear fit. A smooth advance scores
	// above a gappy one with the same return.
	recent := cs[len(cs)-60:]
	xs := make([]float64, len(recent))
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, recent, nil, false)
	r2 := stat.RSquared(xs, recent, nil, alpha, beta)

	score := 0
	switch {
	case ret3m > 0.20:
		score = 10
	case ret3m > 0.10:
		score = 7
	case ret3m > 0:
		score = 4
	}
	if ret3m > ret12m/4 && ret12m > 0 { // accelerating vs its own base rate
		score += 2
	}
	if r2 > 0.7 {
		score += 3
	}
	return clampScore(score, 15), fmt.Sprintf("3m return %.1f%%, 12m %.1f%%, fit R2 %.2f", ret3m*100, ret12m*100, r2)
}

func periodReturn(cs []float64, lookback int) float64 {
	if lookback >= len(cs) {
		lookback = len(cs) - 1
	}
	base := cs[len(cs)-1-lookback]
	if base == 0 {
		return 0
	}
	return cs[len(cs)-1]/base - 1
}
