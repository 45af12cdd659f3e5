package collector

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/jihoonkang/stockpipe/internal/calendar"
	"github.com/jihoonkang/stockpipe/internal/domain"
)

// MockBarSource generates deterministic synthetic daily bars. The collector
// switches to it when the live source is in systemic failure, so downstream
// stages stay testable during outages. Bars are seeded from the ticker so
// repeated runs produce the same series.
type MockBarSource struct {
	cal *calendar.Service
}

// NewMockBarSource creates a mock bar source.
func NewMockBarSource(cal *calendar.Service) *MockBarSource {
	return &MockBarSource{cal: cal}
}

// GetOHLCV synthesizes a plausibly-shaped random walk: trending close with
// mean-reverting noise, intraday range around it, log-normal-ish volume.
func (m *MockBarSource) GetOHLCV(ctx context.Context, ticker string, region domain.Region, exchange string, days int, end time.Time) ([]domain.Bar, error) {
	h := fnv.New64a()
	h.Write([]byte(string(region) + ":" + ticker))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	base := 1_000 + rng.Float64()*99_000
	drift := (rng.Float64() - 0.45) * 0.002 // slight upward bias

	bars := make([]domain.Bar, 0, days)
	price := base
	day := end
	for len(bars) < days {
		if !m.cal.IsTradingDay(region, day) {
			day = day.AddDate(0, 0, -1)
			continue
		}

		shock := rng.NormFloat64() * 0.015
		prevClose := price / (1 + drift + shock)
		open := prevClose * (1 + rng.NormFloat64()*0.005)
		high := math.Max(open, price) * (1 + rng.Float64()*0.01)
		low := math.Min(open, price) * (1 - rng.Float64()*0.01)
		volume := int64(100_000 * math.Exp(rng.NormFloat64()*0.6))

		bars = append(bars, domain.Bar{
			Ticker:    ticker,
			Region:    region,
			Timeframe: domain.TimeframeDaily,
			Date:      time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
			Open:      round2(open),
			High:      round2(high),
			Low:       round2(low),
			Close:     round2(price),
			Volume:    volume,
		})

		price = prevClose
		day = day.AddDate(0, 0, -1)
	}

	// Generated newest-first; flip to ascending like the live source.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
