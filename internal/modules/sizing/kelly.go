// Package sizing computes recommended position sizes from Stage-2 results
// using fractional Kelly over pattern-specific historical statistics.
package sizing

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/internal/modules/stage2"
)

// RiskProfile selects the fractional-Kelly scalar and the risk_limits row.
type RiskProfile string

const (
	ProfileConservative RiskProfile = "CONSERVATIVE"
	ProfileModerate     RiskProfile = "MODERATE"
	ProfileAggressive   RiskProfile = "AGGRESSIVE"
)

// kellyFraction is the fraction of full Kelly each profile deploys. Full
// Kelly assumes the edge estimate is exact; it never is.
var kellyFraction = map[RiskProfile]float64{
	ProfileConservative: 0.25,
	ProfileModerate:     0.5,
	ProfileAggressive:   1.0,
}

// FallbackPercent is returned whenever the Kelly computation cannot run.
const FallbackPercent = 5.0

// patternStats is one kelly_analysis row: historical win rate and average
// win/loss payoff for a pattern.
type patternStats struct {
	winRate     float64
	payoffRatio float64
	sampleSize  int
}

// defaultStats seed the table until real fills accumulate. Figures are
// conservative estimates for each base pattern.
var defaultStats = map[domain.DetectedPattern]patternStats{
	domain.PatternVCP:            {winRate: 0.55, payoffRatio: 2.2},
	domain.PatternCupHandle:      {winRate: 0.52, payoffRatio: 2.0},
	domain.PatternStage2Breakout: {winRate: 0.48, payoffRatio: 2.5},
	domain.PatternNone:           {winRate: 0.45, payoffRatio: 1.8},
}

// Recommendation is the sizer's output.
type Recommendation struct {
	PositionPercent float64
	Pattern         domain.DetectedPattern
	Reasoning       string
}

// Sizer computes position sizes against stored pattern statistics and the
// profile's risk limits.
type Sizer struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSizer creates a position sizer.
func NewSizer(db *sql.DB, log zerolog.Logger) *Sizer {
	return &Sizer{db: db, log: log.With().Str("component", "sizing").Logger()}
}

// Size recommends a position percentage for a scored ticker. Any failure in
// the Kelly path degrades to the conservative fallback, never to an error.
func (s *Sizer) Size(entry stage2.Entry, profile RiskProfile) Recommendation {
	fraction, ok := kellyFraction[profile]
	if !ok {
		return fallback(entry, fmt.Sprintf("fallback: unknown profile %q", profile))
	}

	stats := s.statsFor(entry.DetectedPattern)
	full, err := fullKelly(stats.winRate, stats.payoffRatio)
	if err != nil {
		s.log.Debug().Err(err).Str("ticker", entry.Ticker).Msg("Kelly computation failed")
		return fallback(entry, "fallback: "+err.Error())
	}

	quality := qualityMultiplier(entry)
	pct := full * 100 * fraction * quality

	maxPct, err := s.maxSinglePosition(profile)
	if err != nil {
		s.log.Debug().Err(err).Msg("Risk limits unavailable")
		return fallback(entry, "fallback: risk limits unavailable")
	}
	clipped := pct > maxPct
	if clipped {
		pct = maxPct
	}
	if pct <= 0 {
		return fallback(entry, "fallback: non-positive Kelly size")
	}

	reasoning := fmt.Sprintf(
		"kelly %.3f x fraction %.2f x quality %.2f (pattern %s, win rate %.0f%%, payoff %.1f)",
		full, fraction, quality, entry.DetectedPattern, stats.winRate*100, stats.payoffRatio)
	if clipped {
		reasoning += fmt.Sprintf(", clipped to %.1f%% position cap", maxPct)
	}
	return Recommendation{
		PositionPercent: pct,
		Pattern:         entry.DetectedPattern,
		Reasoning:       reasoning,
	}
}

// fullKelly computes f* = (p*b - q) / b for win probability p and payoff b.
func fullKelly(winRate, payoffRatio float64) (float64, error) {
	if winRate <= 0 || winRate >= 1 {
		return 0, fmt.Errorf("win rate %.3f out of (0,1)", winRate)
	}
	if payoffRatio <= 0 {
		return 0, fmt.Errorf("payoff ratio %.3f not positive", payoffRatio)
	}
	f := (winRate*payoffRatio - (1 - winRate)) / payoffRatio
	if f < 0 {
		f = 0
	}
	return f, nil
}

// qualityMultiplier scales by Stage-2 conviction: 1.0 at score 70 (the BUY
// threshold), up to 1.3 at 100, down to 0.7 at 50.
func qualityMultiplier(entry stage2.Entry) float64 {
	m := 1.0 + (float64(entry.TotalScore)-70)/100
	if m < 0.5 {
		m = 0.5
	}
	if m > 1.3 {
		m = 1.3
	}
	return m
}

// statsFor loads the pattern's historical stats, falling back to the seed
// values when the table has no usable row.
func (s *Sizer) statsFor(pattern domain.DetectedPattern) patternStats {
	var stats patternStats
	err := s.db.QueryRow(
		"SELECT win_rate, payoff_ratio, sample_size FROM kelly_analysis WHERE pattern = ?",
		string(pattern)).Scan(&stats.winRate, &stats.payoffRatio, &stats.sampleSize)
	// A tiny sample is noise; prefer the seed until 20 observations exist.
	if err != nil || stats.sampleSize < 20 {
		return defaultStats[pattern]
	}
	return stats
}

func (s *Sizer) maxSinglePosition(profile RiskProfile) (float64, error) {
	var maxPct float64
	err := s.db.QueryRow(
		"SELECT max_single_position_percent FROM risk_limits WHERE profile = ?",
		string(profile)).Scan(&maxPct)
	if err != nil {
		return 0, err
	}
	return maxPct, nil
}

func fallback(entry stage2.Entry, reasoning string) Recommendation {
	return Recommendation{
		PositionPercent: FallbackPercent,
		Pattern:         entry.DetectedPattern,
		Reasoning:       reasoning,
	}
}
