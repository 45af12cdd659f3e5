package masterfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTicker(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		market string
		want   string
	}{
		{name: "US uppercased", symbol: "aapl", market: "nas", want: "AAPL"},
		{name: "US already canonical", symbol: "AAPL", market: "nys", want: "AAPL"},
		{name: "HK zero-padded with suffix", symbol: "700", market: "hks", want: "0700.HK"},
		{name: "HK already padded", symbol: "0700", market: "hks", want: "0700.HK"},
		{name: "HK suffix stripped first", symbol: "0700.HK", market: "hks", want: "0700.HK"},
		{name: "Shanghai suffix", symbol: "600519", market: "shs", want: "600519.SS"},
		{name: "Shenzhen suffix", symbol: "000001", market: "szs", want: "000001.SZ"},
		{name: "Tokyo unchanged", symbol: "7203", market: "tse", want: "7203"},
		{name: "Vietnam uppercased", symbol: "vnm", market: "hsx", want: "VNM"},
		{name: "unknown market passes through", symbol: "abc", market: "xxx", want: "abc"},
		{name: "whitespace trimmed", symbol: " MSFT ", market: "nas", want: "MSFT"},
		{name: "empty symbol", symbol: "", market: "nas", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTicker(tt.symbol, tt.market)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeTicker(got, tt.market), "normalization must be idempotent")
		})
	}
}

func TestMarketCodeTables(t *testing.T) {
	for region, markets := range MarketCodes {
		assert.NotEmpty(t, markets, "region %s", region)
		for _, market := range markets {
			excd, ok := ExchangeCodeFor[market]
			assert.True(t, ok, "market %s has no EXCD mapping", market)
			assert.Len(t, excd, 3)
		}
	}
}
