package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

func TestTickSize(t *testing.T) {
	tests := []struct {
		name   string
		region domain.Region
		price  float64
		want   float64
	}{
		{name: "KRX low band", region: domain.RegionKR, price: 1_500, want: 1},
		{name: "KRX 10k band", region: domain.RegionKR, price: 15_000, want: 10},
		{name: "KRX 100k band", region: domain.RegionKR, price: 71_000, want: 100},
		{name: "KRX top band", region: domain.RegionKR, price: 800_000, want: 1_000},
		{name: "US flat decimal", region: domain.RegionUS, price: 189.23, want: 0.01},
		{name: "CN flat decimal", region: domain.RegionCN, price: 12.34, want: 0.01},
		{name: "TSE sub-1000", region: domain.RegionJP, price: 980, want: 0.1},
		{name: "TSE mid band", region: domain.RegionJP, price: 5_000, want: 1},
		{name: "HKEX penny band", region: domain.RegionHK, price: 0.3, want: 0.005},
		{name: "HKEX 20-100 band", region: domain.RegionHK, price: 55, want: 0.05},
		{name: "HOSE mid band", region: domain.RegionVN, price: 25_000, want: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TickSize(tt.region, tt.price))
		})
	}
}

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name   string
		region domain.Region
		price  float64
		side   domain.Side
		want   float64
	}{
		{
			name:   "KRX buy floors to the tick",
			region: domain.RegionKR, price: 71_234, side: domain.SideBuy, want: 71_200,
		},
		{
			name:   "KRX sell ceils to the tick",
			region: domain.RegionKR, price: 71_234, side: domain.SideSell, want: 71_300,
		},
		{
			name:   "already on the tick stays put for buys",
			region: domain.RegionKR, price: 71_200, side: domain.SideBuy, want: 71_200,
		},
		{
			name:   "already on the tick stays put for sells",
			region: domain.RegionKR, price: 71_200, side: domain.SideSell, want: 71_200,
		},
		{
			name:   "HKEX buy floors on the 0.05 spread",
			region: domain.RegionHK, price: 55.03, side: domain.SideBuy, want: 55.00,
		},
		{
			name:   "HKEX sell ceils on the 0.05 spread",
			region: domain.RegionHK, price: 55.03, side: domain.SideSell, want: 55.05,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RoundToTick(tt.region, tt.price, tt.side), 1e-6)
		})
	}
}

func TestMinOrderAmountCoversAllRegions(t *testing.T) {
	for _, region := range domain.AllRegions {
		assert.Greater(t, MinOrderAmount[region], 0.0, "region %s", region)
	}
}
