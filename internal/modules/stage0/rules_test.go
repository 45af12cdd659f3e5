package stage0

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

func TestLoadRules(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		rules, err := LoadRules(t.TempDir(), domain.RegionKR)
		require.NoError(t, err)
		assert.Equal(t, int64(300_000_000_000), rules.MinMarketCapKRW)
		assert.Equal(t, int64(1_000_000_000), rules.MinTradingValueKRW)
		assert.Empty(t, rules.ExchangeWhitelist)
	})

	t.Run("yaml overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "us.yaml"), []byte(`
region: US
exchange_whitelist: [NAS, NYS]
min_market_cap_krw: 1000000000000
min_trading_value_krw: 5000000000
exclude_name_patterns: [SPAC]
`), 0644))

		rules, err := LoadRules(dir, domain.RegionUS)
		require.NoError(t, err)
		assert.Equal(t, []string{"NAS", "NYS"}, rules.ExchangeWhitelist)
		assert.Equal(t, int64(1_000_000_000_000), rules.MinMarketCapKRW)
		// Unset TTLs pick up the defaults.
		assert.Equal(t, 60, rules.CacheTTLOpenMinutes)
		assert.Equal(t, 24*60, rules.CacheTTLClosedMinutes)
	})

	t.Run("broken yaml is an error, not a silent default", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "kr.yaml"), []byte("region: [broken"), 0644))

		_, err := LoadRules(dir, domain.RegionKR)
		assert.Error(t, err)
	})
}

func TestCacheTTL(t *testing.T) {
	rules := defaultRules(domain.RegionKR)
	assert.Equal(t, time.Hour, rules.CacheTTL(true))
	assert.Equal(t, 24*time.Hour, rules.CacheTTL(false))
}

func TestEvaluate(t *testing.T) {
	rules := RegionRules{
		Region:              "KR",
		ExchangeWhitelist:   []string{"KRX"},
		MinMarketCapKRW:     300_000_000_000,
		MinTradingValueKRW:  1_000_000_000,
		ExcludeNamePatterns: []string{"스팩", "SPAC"},
	}

	rec := func(name, exchange string) RawRecord {
		return RawRecord{Ticker: "005930", Name: name, Exchange: exchange, Currency: "KRW"}
	}

	tests := []struct {
		name         string
		rec          RawRecord
		capKRW       int64
		valueKRW     int64
		wantPass     bool
		reasonPrefix string
	}{
		{
			name: "large cap passes", rec: rec("삼성전자", "KRX"),
			capKRW: 400_000_000_000_000, valueKRW: 500_000_000_000,
			wantPass: true, reasonPrefix: "통과",
		},
		{
			name: "exchange not whitelisted", rec: rec("삼성전자", "KONEX"),
			capKRW: 400_000_000_000_000, valueKRW: 500_000_000_000,
			reasonPrefix: "거래소 제외",
		},
		{
			name: "SPAC name excluded", rec: rec("하나금융25호스팩", "KRX"),
			capKRW: 400_000_000_000_000, valueKRW: 500_000_000_000,
			reasonPrefix: "종목명 제외",
		},
		{
			name: "name match is case-insensitive", rec: rec("Global spac Corp", "KRX"),
			capKRW: 400_000_000_000_000, valueKRW: 500_000_000_000,
			reasonPrefix: "종목명 제외",
		},
		{
			name: "market cap below floor", rec: rec("소형주", "KRX"),
			capKRW: 100_000_000_000, valueKRW: 500_000_000_000,
			reasonPrefix: "시가총액 미달",
		},
		{
			name: "trading value below floor", rec: rec("저유동성", "KRX"),
			capKRW: 400_000_000_000_000, valueKRW: 500_000_000,
			reasonPrefix: "거래대금 미달",
		},
		{
			name: "thresholds are inclusive", rec: rec("경계값", "KRX"),
			capKRW: 300_000_000_000, valueKRW: 1_000_000_000,
			wantPass: true, reasonPrefix: "통과",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passed, reason := rules.Evaluate(tt.rec, tt.capKRW, tt.valueKRW)
			assert.Equal(t, tt.wantPass, passed)
			assert.Contains(t, reason, tt.reasonPrefix)
		})
	}
}

func TestEvaluateWithoutWhitelistAcceptsAnyExchange(t *testing.T) {
	rules := defaultRules(domain.RegionUS)
	passed, _ := rules.Evaluate(
		RawRecord{Ticker: "AAPL", Name: "APPLE INC", Exchange: "NAS"},
		4_000_000_000_000_000, 10_000_000_000_000)
	assert.True(t, passed)
}
