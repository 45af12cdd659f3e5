package stage2

import (
	"gonum.org/v1/gonum/stat"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// PatternMatch is the outcome of chart-pattern detection.
type PatternMatch struct {
	Pattern    domain.DetectedPattern
	Confidence float64 // 0-1
	Detail     string
}

// DetectPattern scans the history for the supported base patterns and
// returns the strongest match. Detection is heuristic: contraction and
// breakout geometry, not exact template matching.
func DetectPattern(bars []domain.Bar) PatternMatch {
	best := PatternMatch{Pattern: domain.PatternNone, Detail: "no base pattern"}
	for _, match := range []PatternMatch{
		detectVCP(bars),
		detectCupHandle(bars),
		detectStage2Breakout(bars),
	} {
		if match.Confidence > best.Confidence {
			best = match
		}
	}
	return best
}

// detectVCP looks for volatility contraction: successively tighter
// 10-session ranges over the last three windows with volume drying up.
func detectVCP(bars []domain.Bar) PatternMatch {
	none := PatternMatch{Pattern: domain.PatternNone}
	if len(bars) < 60 {
		return none
	}

	recent := tail(bars, 30)
	var ranges [3]float64
	var volumes [3]float64
	for w := 0; w < 3; w++ {
		window := recent[w*10 : (w+1)*10]
		hi, lo := window[0].High, window[0].Low
		for _, b := range window {
			if b.High > hi {
				hi = b.High
			}
			if b.Low < lo {
				lo = b.Low
			}
			volumes[w] += float64(b.Volume)
		}
		if lo == 0 {
			return none
		}
		ranges[w] = (hi - lo) / lo
	}

	if !(ranges[0] > ranges[1] && ranges[1] > ranges[2]) {
		return none
	}

	confidence := 0.5
	if ranges[2] < ranges[0]*0.5 {
		confidence += 0.25 // contraction halved
	}
	if volumes[2] < volumes[0]*0.7 {
		confidence += 0.25 // volume dry-up
	}
	return PatternMatch{
		Pattern:    domain.PatternVCP,
		Confidence: confidence,
		Detail:     "three contracting 10-session ranges",
	}
}

// detectCupHandle looks for a rounded base: a decline to a midpoint low, a
// recovery near the prior high, then a shallow pullback (the handle).
func detectCupHandle(bars []domain.Bar) PatternMatch {
	none := PatternMatch{Pattern: domain.PatternNone}
	if len(bars) < 120 {
		return none
	}

	window := tail(bars, 120)
	cup := window[:100]
	handle := window[100:]

	leftRim := cup[0].Close
	low := leftRim
	lowIdx := 0
	for i, b := range cup {
		if b.Close < low {
			low, lowIdx = b.Close, i
		}
	}
	rightRim := cup[len(cup)-1].Close

	if leftRim == 0 || low == 0 {
		return none
	}
	depth := 1 - low/leftRim
	// A real cup is 12-35% deep with the low near the middle third.
	if depth < 0.12 || depth > 0.35 || lowIdx < 25 || lowIdx > 75 {
		return none
	}
	if rightRim < leftRim*0.95 {
		return none // recovery incomplete
	}

	handleLow := handle[0].Low
	for _, b := range handle {
		if b.Low < handleLow {
			handleLow = b.Low
		}
	}
	handleDepth := 1 - handleLow/rightRim
	if handleDepth > depth/2 {
		return none // handle too deep, base broken
	}

	confidence := 0.6
	if handleDepth < 0.08 {
		confidence += 0.2
	}
	if rightRim >= leftRim {
		confidence += 0.2
	}
	return PatternMatch{
		Pattern:    domain.PatternCupHandle,
		Confidence: confidence,
		Detail:     "rounded base with shallow handle",
	}
}

// detectStage2Breakout looks for a fresh move through the top of a long flat
// base on expanding volume.
func detectStage2Breakout(bars []domain.Bar) PatternMatch {
	none := PatternMatch{Pattern: domain.PatternNone}
	if len(bars) < 80 {
		return none
	}

	base := bars[len(bars)-70 : len(bars)-10]
	recent := tail(bars, 10)
	latest := recent[len(recent)-1]

	baseHigh := base[0].High
	baseCloses := make([]float64, len(base))
	for i, b := range base {
		if b.High > baseHigh {
			baseHigh = b.High
		}
		baseCloses[i] = b.Close
	}

	mean := stat.Mean(baseCloses, nil)
	if mean == 0 {
		return none
	}
	flatness := stat.StdDev(baseCloses, nil) / mean
	if flatness > 0.12 {
		return none // base not flat enough
	}
	if latest.Close <= baseHigh {
		return none
	}

	confidence := 0.55
	if latest.VolumeRatio != nil && *latest.VolumeRatio >= 1.5 {
		confidence += 0.25
	}
	if latest.Close > baseHigh*1.02 {
		confidence += 0.2
	}
	return PatternMatch{
		Pattern:    domain.PatternStage2Breakout,
		Confidence: confidence,
		Detail:     "close above 60-session flat base high",
	}
}
