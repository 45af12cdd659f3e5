package formulas

// VolumeRatioSeries calculates volume relative to its N-day average.
// Entries where the average window has not filled, or where the average is
// zero (halted sessions), are nil.
func VolumeRatioSeries(volumes []float64, period int) (ma []*float64, ratio []*float64) {
	ma = SMASeries(volumes, period)
	ratio = make([]*float64, len(volumes))
	for i, avg := range ma {
		if avg == nil || *avg == 0 {
			continue
		}
		r := volumes[i] / *avg
		ratio[i] = &r
	}
	return ma, ratio
}
