package stage1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

func f(v float64) *float64 { return &v }

// passingBar returns a bar that clears all five filters: full MA fan, RSI
// 57.5, bullish MACD, a 2x volume spike, and price above MA20.
func passingBar() domain.Bar {
	return domain.Bar{
		Ticker: "005930", Region: domain.RegionKR, Timeframe: domain.TimeframeDaily,
		Date:  time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC),
		Open:  70000, High: 71500, Low: 69800, Close: 71000, Volume: 20_000_000,
		MA5: f(70500), MA20: f(69000), MA60: f(67000), MA120: f(65000), MA200: f(60000),
		RSI14: f(57.5), MACD: f(10), MACDSignal: f(8), MACDHist: f(2),
		VolumeMA20: f(10_000_000),
	}
}

func TestEvaluatePassingComposite(t *testing.T) {
	v := DefaultParams().Evaluate(passingBar())

	require.True(t, v.Passed)
	// 100*.30 + 85*.25 + 100*.20 + 100*.15 + 100*.10
	assert.InDelta(t, 96.25, v.Composite, 1e-9)
	assert.Equal(t, "통과 (passed)", v.Reason)
}

func TestEvaluatePartialFanScoresLower(t *testing.T) {
	bar := passingBar()
	// Long MAs unavailable: fan degrades to the 75-point short alignment.
	bar.MA120 = nil
	bar.MA200 = nil

	v := DefaultParams().Evaluate(bar)
	require.True(t, v.Passed)
	assert.InDelta(t, 88.75, v.Composite, 1e-9)
}

func TestEvaluateShortCircuits(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(*domain.Bar)
		reasonPrefix string
	}{
		{
			name:         "MA fan broken",
			mutate:       func(b *domain.Bar) { b.MA5 = f(68000) },
			reasonPrefix: "이동평균 미정렬",
		},
		{
			name:         "RSI overbought",
			mutate:       func(b *domain.Bar) { b.RSI14 = f(82.3) },
			reasonPrefix: "RSI 과매수",
		},
		{
			name:         "RSI oversold",
			mutate:       func(b *domain.Bar) { b.RSI14 = f(22.0) },
			reasonPrefix: "RSI 과매도",
		},
		{
			name:         "MACD below signal",
			mutate:       func(b *domain.Bar) { b.MACD = f(5); b.MACDHist = f(-3) },
			reasonPrefix: "MACD 약세",
		},
		{
			name:         "volume below spike threshold",
			mutate:       func(b *domain.Bar) { b.Volume = 12_000_000 },
			reasonPrefix: "거래량 부족",
		},
		{
			name:         "price below MA20",
			mutate:       func(b *domain.Bar) { b.Close = 68500; b.Low = 68000 },
			reasonPrefix: "주가 MA20 하회",
		},
		{
			name:         "missing indicators",
			mutate:       func(b *domain.Bar) { b.RSI14 = nil },
			reasonPrefix: "지표 미계산",
		},
	}

	p := DefaultParams()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := passingBar()
			tt.mutate(&bar)

			v := p.Evaluate(bar)
			assert.False(t, v.Passed)
			assert.Zero(t, v.Composite)
			assert.Contains(t, v.Reason, tt.reasonPrefix)
		})
	}
}

func TestEvaluateRSIBoundsInclusive(t *testing.T) {
	p := DefaultParams()

	bar := passingBar()
	bar.RSI14 = f(70)
	assert.True(t, p.Evaluate(bar).Passed, "RSI exactly at the upper bound passes")

	bar.RSI14 = f(30)
	assert.True(t, p.Evaluate(bar).Passed, "RSI exactly at the lower bound passes")
}

func TestCheckHistory(t *testing.T) {
	p := DefaultParams()

	makeBars := func(n int, gapAt int, gapDays int) []domain.Bar {
		bars := make([]domain.Bar, n)
		date := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
		for i := range bars {
			if i == gapAt {
				date = date.AddDate(0, 0, gapDays)
			}
			bars[i] = domain.Bar{Date: date}
			date = date.AddDate(0, 0, 1)
		}
		return bars
	}

	t.Run("enough contiguous history passes", func(t *testing.T) {
		assert.NoError(t, p.CheckHistory(makeBars(250, -1, 0)))
	})

	t.Run("short history is insufficient data", func(t *testing.T) {
		err := p.CheckHistory(makeBars(120, -1, 0))
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindInsufficientData))
	})

	t.Run("holiday week is tolerated", func(t *testing.T) {
		assert.NoError(t, p.CheckHistory(makeBars(250, 100, 7)))
	})

	t.Run("hole wider than the limit drops the ticker", func(t *testing.T) {
		err := p.CheckHistory(makeBars(250, 100, 90))
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindInsufficientData))
		assert.Contains(t, err.Error(), "데이터 공백")
	})
}
