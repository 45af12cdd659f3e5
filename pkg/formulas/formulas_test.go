package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMASeries(t *testing.T) {
	series := SMASeries([]float64{10, 20, 30}, 2)
	require.Len(t, series, 3)
	assert.Nil(t, series[0])
	require.NotNil(t, series[1])
	assert.Equal(t, 15.0, *series[1])
	assert.Equal(t, 25.0, *series[2])

	t.Run("insufficient data is all nil", func(t *testing.T) {
		series := SMASeries([]float64{1, 2, 3}, 5)
		require.Len(t, series, 3)
		for _, v := range series {
			assert.Nil(t, v)
		}
		assert.Nil(t, SMA([]float64{1, 2, 3}, 5))
	})

	t.Run("current value", func(t *testing.T) {
		v := SMA([]float64{1, 2, 3, 4, 5}, 5)
		require.NotNil(t, v)
		assert.Equal(t, 3.0, *v)
	})
}

func TestEMASeries(t *testing.T) {
	// Seeded with SMA(2)=1.5 at index 1, then k=2/3:
	// idx2 = 3*2/3 + 1.5/3 = 2.5, idx3 = 4*2/3 + 2.5/3 = 3.5.
	series := EMASeries([]float64{1, 2, 3, 4}, 2)
	require.Len(t, series, 4)
	assert.Nil(t, series[0])
	require.NotNil(t, series[3])
	assert.InDelta(t, 3.5, *series[3], 1e-9)
}

func TestRSIBounds(t *testing.T) {
	rising := make([]float64, 30)
	falling := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(100 + i)
		falling[i] = float64(100 - i)
	}

	up := RSI(rising, 14)
	require.NotNil(t, up)
	assert.InDelta(t, 100.0, *up, 0.01, "pure uptrend pins RSI at 100")

	down := RSI(falling, 14)
	require.NotNil(t, down)
	assert.InDelta(t, 0.0, *down, 0.01, "pure downtrend pins RSI at 0")

	t.Run("warmup entries are nil", func(t *testing.T) {
		series := RSISeries(rising, 14)
		for i := 0; i < 14; i++ {
			assert.Nil(t, series[i], "index %d", i)
		}
		assert.NotNil(t, series[14])
	})

	t.Run("too short is all nil", func(t *testing.T) {
		assert.Nil(t, RSI(rising[:14], 14))
	})
}

func TestMACDSeries(t *testing.T) {
	// A flat tape has zero MACD, signal and histogram once warmed up.
	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 50000
	}

	res := MACDSeries(flat, 12, 26, 9)
	require.Len(t, res.MACD, 40)

	warmup := 26 + 9 - 2
	for i := 0; i < warmup; i++ {
		assert.Nil(t, res.MACD[i], "index %d", i)
		assert.Nil(t, res.Signal[i], "index %d", i)
		assert.Nil(t, res.Histogram[i], "index %d", i)
	}

	last := Last(res.Histogram)
	require.NotNil(t, last)
	assert.InDelta(t, 0.0, *last, 1e-9)

	t.Run("degenerate parameters", func(t *testing.T) {
		res := MACDSeries(flat, 26, 12, 9) // slow <= fast
		assert.Nil(t, Last(res.MACD))
	})
}

func TestATRSeries(t *testing.T) {
	// Constant 4-point daily range: ATR converges to exactly 4.
	n := 30
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100
		highs[i] = 102
		lows[i] = 98
	}

	series := ATRSeries(highs, lows, closes, 14)
	require.Len(t, series, n)
	assert.Nil(t, series[13])
	last := Last(series)
	require.NotNil(t, last)
	assert.InDelta(t, 4.0, *last, 1e-9)

	t.Run("mismatched slice lengths", func(t *testing.T) {
		series := ATRSeries(highs[:10], lows, closes, 14)
		assert.Nil(t, Last(series))
	})
}

func TestBollingerSeries(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(i + 1)
	}

	// Middle = mean(1..20) = 10.5; population stddev = sqrt(33.25).
	res := BollingerSeries(closes, 20, 2)
	mid := Last(res.Middle)
	require.NotNil(t, mid)
	assert.InDelta(t, 10.5, *mid, 1e-9)

	upper := Last(res.Upper)
	lower := Last(res.Lower)
	require.NotNil(t, upper)
	require.NotNil(t, lower)
	assert.InDelta(t, 22.0326, *upper, 0.001)
	assert.InDelta(t, -1.0326, *lower, 0.001)
	assert.Nil(t, res.Middle[18])
}

func TestVolumeRatioSeries(t *testing.T) {
	ma, ratio := VolumeRatioSeries([]float64{10, 10, 10, 20}, 2)
	require.Len(t, ratio, 4)

	assert.Nil(t, ratio[0])
	require.NotNil(t, ratio[1])
	assert.Equal(t, 1.0, *ratio[1])
	require.NotNil(t, ma[3])
	assert.Equal(t, 15.0, *ma[3])
	assert.InDelta(t, 20.0/15.0, *ratio[3], 1e-9)

	t.Run("zero average from halted sessions", func(t *testing.T) {
		_, ratio := VolumeRatioSeries([]float64{0, 0, 4}, 2)
		assert.Nil(t, ratio[1], "zero average never divides")
		require.NotNil(t, ratio[2])
		assert.Equal(t, 2.0, *ratio[2])
	})
}
