// Package stage0 implements the market-capitalization/liquidity screen: the
// first funnel stage reducing each region's full universe to screenable
// candidates, persisted to filter_cache_stage0.
package stage0

import (
	"time"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// RawRecord is the source-agnostic universe row every data source produces.
type RawRecord struct {
	Ticker            string
	Name              string
	Exchange          string // Broker EXCD code (KRX for domestic)
	ListingDate       *time.Time
	Shares            int64
	ClosePrice        float64 // Local currency
	MarketCapLocal    float64 // Local currency
	TradingValueLocal float64 // Local currency, most recent session
	Currency          string
}

// Entry is one filter_cache_stage0 row. Local and KRW figures are computed
// from the same exchange-rate snapshot; ExchangeRateDate stays within one
// trading day of FilterDate.
type Entry struct {
	Ticker            string
	Region            domain.Region
	FilterDate        string // ISO "2006-01-02"
	Name              string
	Exchange          string
	MarketCapKRW      int64
	MarketCapLocal    int64 // Minor units
	TradingValueKRW   int64
	TradingValueLocal int64 // Minor units
	PriceKRW          int64
	PriceLocal        int64 // Minor units
	Currency          string
	ExchangeRateToKRW float64
	ExchangeRateDate  string
	Passed            bool
	Reason            string
}
