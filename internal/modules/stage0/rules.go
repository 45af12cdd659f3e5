package stage0

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// RegionRules is the externally-configured Stage-0 rule set for one region,
// loaded from config/market_filters/<region>.yaml.
type RegionRules struct {
	Region                string   `yaml:"region"`
	ExchangeWhitelist     []string `yaml:"exchange_whitelist"`
	MinMarketCapKRW       int64    `yaml:"min_market_cap_krw"`
	MinTradingValueKRW    int64    `yaml:"min_trading_value_krw"`
	ExcludeNamePatterns   []string `yaml:"exclude_name_patterns"`
	CacheTTLOpenMinutes   int      `yaml:"cache_ttl_open_minutes"`
	CacheTTLClosedMinutes int      `yaml:"cache_ttl_closed_minutes"`
}

// defaultRules apply when a region has no rule file. The TTL split (1h while
// the market trades, 24h otherwise) matches the KR rule; operators override
// per region in the yaml.
func defaultRules(region domain.Region) RegionRules {
	return RegionRules{
		Region:                string(region),
		MinMarketCapKRW:       300_000_000_000, // 300B KRW
		MinTradingValueKRW:    1_000_000_000,   // 1B KRW / session
		ExcludeNamePatterns:   []string{"SPAC", "ACQUISITION CORP", "스팩"},
		CacheTTLOpenMinutes:   60,
		CacheTTLClosedMinutes: 24 * 60,
	}
}

// LoadRules reads a region's rule file, falling back to defaults when the
// file is missing. A present-but-broken file is an error: silently reverting
// to defaults could let through thousands of micro caps.
func LoadRules(dir string, region domain.Region) (RegionRules, error) {
	rules := defaultRules(region)

	path := filepath.Join(dir, strings.ToLower(string(region))+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return rules, nil
	}
	if err != nil {
		return rules, fmt.Errorf("failed to read rules %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("failed to parse rules %s: %w", path, err)
	}
	if rules.CacheTTLOpenMinutes <= 0 {
		rules.CacheTTLOpenMinutes = 60
	}
	if rules.CacheTTLClosedMinutes <= 0 {
		rules.CacheTTLClosedMinutes = 24 * 60
	}
	return rules, nil
}

// CacheTTL returns the snapshot TTL for the current market session.
func (r RegionRules) CacheTTL(marketOpen bool) time.Duration {
	if marketOpen {
		return time.Duration(r.CacheTTLOpenMinutes) * time.Minute
	}
	return time.Duration(r.CacheTTLClosedMinutes) * time.Minute
}

// Evaluate applies the region rules to one record, returning the pass flag
// and reason. KRW figures must already be normalized by the caller.
func (r RegionRules) Evaluate(rec RawRecord, marketCapKRW, tradingValueKRW int64) (passed bool, reason string) {
	if len(r.ExchangeWhitelist) > 0 {
		whitelisted := false
		for _, ex := range r.ExchangeWhitelist {
			if strings.EqualFold(ex, rec.Exchange) {
				whitelisted = true
				break
			}
		}
		if !whitelisted {
			return false, fmt.Sprintf("거래소 제외 (exchange %s not whitelisted)", rec.Exchange)
		}
	}

	upperName := strings.ToUpper(rec.Name)
	for _, pattern := range r.ExcludeNamePatterns {
		if pattern != "" && strings.Contains(upperName, strings.ToUpper(pattern)) {
			return false, fmt.Sprintf("종목명 제외 (name matches %q)", pattern)
		}
	}

	if marketCapKRW < r.MinMarketCapKRW {
		return false, fmt.Sprintf("시가총액 미달 (market cap %d < %d KRW)", marketCapKRW, r.MinMarketCapKRW)
	}
	if tradingValueKRW < r.MinTradingValueKRW {
		return false, fmt.Sprintf("거래대금 미달 (trading value %d < %d KRW)", tradingValueKRW, r.MinTradingValueKRW)
	}
	return true, "통과 (passed)"
}
