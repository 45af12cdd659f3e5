package stage2

import (
	"fmt"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Micro layer: 30 points. Entry timing signals on the recent tape.

// patternModule (12 pts) scores the strongest detected base pattern by its
// confidence.
type patternModule struct{}

func (m *patternModule) Name() string   { return "pattern_recognition" }
func (m *patternModule) MaxPoints() int { return 12 }

func (m *patternModule) Score(bars []domain.Bar) (int, string) {
	match := DetectPattern(bars)
	if match.Pattern == domain.PatternNone {
		return 0, match.Detail
	}
	score := int(match.Confidence * 12)
	return clampScore(score, 12), fmt.Sprintf("%s (%.0f%% confidence): %s", match.Pattern, match.Confidence*100, match.Detail)
}

// volumeSpikeModule (9 pts) scores today's volume against its 20-session
// average.
type volumeSpikeModule struct{}

func (m *volumeSpikeModule) Name() string   { return "volume_spike" }
func (m *volumeSpikeModule) MaxPoints() int { return 9 }

func (m *volumeSpikeModule) Score(bars []domain.Bar) (int, string) {
	latest := bars[len(bars)-1]
	if latest.VolumeRatio == nil {
		return 0, "volume average unavailable"
	}

	ratio := *latest.VolumeRatio
	score := 0
	switch {
	case ratio >= 3:
		score = 9
	case ratio >= 2:
		score = 7
	case ratio >= 1.5:
		score = 5
	case ratio >= 1:
		score = 2
	}
	// Heavy volume on a down day is distribution, not demand.
	if latest.Close < latest.Open && ratio >= 1.5 {
		score /= 2
	}
	return score, fmt.Sprintf("volume %.1fx 20-session average", ratio)
}

// momentumModule (9 pts) combines RSI posture and MACD histogram direction.
type momentumModule struct{}

func (m *momentumModule) Name() string   { return "momentum" }
func (m *momentumModule) MaxPoints() int { return 9 }

func (m *momentumModule) Score(bars []domain.Bar) (int, string) {
	latest := bars[len(bars)-1]
	if latest.RSI14 == nil || latest.MACDHist == nil {
		return 0, "momentum indicators unavailable"
	}

	score := 0
	rsi := *latest.RSI14
	switch {
	case rsi >= 55 && rsi <= 70:
		score += 5 // strong but not overbought
	case rsi >= 45 && rsi < 55:
		score += 3
	case rsi > 70:
		score += 1
	}

	if *latest.MACDHist > 0 {
		score += 2
		// Histogram expanding over the last three sessions.
		if len(bars) >= 3 {
			prev := bars[len(bars)-3]
			if prev.MACDHist != nil && *latest.MACDHist > *prev.MACDHist {
				score += 2
			}
		}
	}
	return clampScore(score, 9), fmt.Sprintf("RSI %.1f, MACD histogram %+.2f", rsi, *latest.MACDHist)
}
