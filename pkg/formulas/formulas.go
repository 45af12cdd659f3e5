// Package formulas wraps go-talib with the nil-on-insufficient-data
// convention used throughout the pipeline: every series function returns a
// slice aligned with its input where entries inside the warmup window are nil.
package formulas

// isNaN checks if a float64 is NaN
func isNaN(f float64) bool {
	return f != f
}

// seriesFrom converts a talib output slice to the aligned pointer form,
// treating indexes before firstValid (and NaN values) as undefined.
func seriesFrom(raw []float64, firstValid int) []*float64 {
	out := make([]*float64, len(raw))
	if firstValid < 0 {
		firstValid = 0
	}
	for i := firstValid; i < len(raw); i++ {
		if !isNaN(raw[i]) {
			v := raw[i]
			out[i] = &v
		}
	}
	return out
}

// Last returns the final value of an aligned series, or nil when the series
// is empty or its tail is undefined.
func Last(series []*float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	return series[len(series)-1]
}
