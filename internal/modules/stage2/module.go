// Package stage2 implements the multi-module scoring engine over Stage-1
// passers. Nine modules in three layers (macro 25, structural 45, micro 30)
// score the bar history; the engine aggregates to a 0-100 total, classifies
// the recommendation, and persists to filter_cache_stage2.
package stage2

import (
	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Module scores one aspect of a ticker's history. Score returns a value in
// [0, MaxPoints] plus a human-readable explanation; the engine clamps
// out-of-range values.
type Module interface {
	Name() string
	MaxPoints() int
	Score(bars []domain.Bar) (int, string)
}

// Classification thresholds. A total at the boundary takes the stronger
// label.
const (
	buyThreshold   = 70
	watchThreshold = 50
)

// Classify maps a total score to the recommendation.
func Classify(total int) domain.Recommendation {
	switch {
	case total >= buyThreshold:
		return domain.RecommendBuy
	case total >= watchThreshold:
		return domain.RecommendWatch
	default:
		return domain.RecommendAvoid
	}
}

// DefaultModules returns the production module set: macro (25), structural
// (45), micro (30).
func DefaultModules() []Module {
	return []Module{
		&marketRegimeModule{},
		&volumeProfileModule{},
		&priceActionModule{},
		&stageAnalysisModule{},
		&movingAverageModule{},
		&relativeStrengthModule{},
		&patternModule{},
		&volumeSpikeModule{},
		&momentumModule{},
	}
}

func clampScore(score, max int) int {
	if score < 0 {
		return 0
	}
	if score > max {
		return max
	}
	return score
}

// closes extracts the close series.
func closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// tail returns the last n bars (or all of them).
func tail(bars []domain.Bar, n int) []domain.Bar {
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
