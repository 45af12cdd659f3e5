// Package domain holds the core value types shared by every stage of the
// screening pipeline. The package is pure: no database, network, or logging
// dependencies.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Region identifies a supported market region.
type Region string

const (
	RegionKR Region = "KR"
	RegionUS Region = "US"
	RegionHK Region = "HK"
	RegionCN Region = "CN"
	RegionJP Region = "JP"
	RegionVN Region = "VN"
)

// AllRegions lists every supported region in pipeline processing order.
var AllRegions = []Region{RegionKR, RegionUS, RegionHK, RegionCN, RegionJP, RegionVN}

// ParseRegion validates and normalizes a region string.
func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllRegions {
		if r == known {
			return r, nil
		}
	}
	return "", NewValidationError(fmt.Sprintf("unknown region: %q", s))
}

// Currency returns the local trading currency for the region.
func (r Region) Currency() string {
	switch r {
	case RegionKR:
		return "KRW"
	case RegionUS:
		return "USD"
	case RegionHK:
		return "HKD"
	case RegionCN:
		return "CNY"
	case RegionJP:
		return "JPY"
	case RegionVN:
		return "VND"
	}
	return ""
}

// AssetType classifies a listed security.
type AssetType string

const (
	AssetStock     AssetType = "STOCK"
	AssetETF       AssetType = "ETF"
	AssetETN       AssetType = "ETN"
	AssetREIT      AssetType = "REIT"
	AssetPreferred AssetType = "PREFERRED"
)

// Timeframe identifies the bar aggregation period.
type Timeframe string

const (
	TimeframeDaily   Timeframe = "D"
	TimeframeWeekly  Timeframe = "W"
	TimeframeMonthly Timeframe = "M"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeStatus tracks the lifecycle of a trade record.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// Recommendation is the Stage-2 verdict.
type Recommendation string

const (
	RecommendBuy   Recommendation = "BUY"
	RecommendWatch Recommendation = "WATCH"
	RecommendAvoid Recommendation = "AVOID"
)

// Ticker is a listed security's master record. Identity is (Ticker, Region).
type Ticker struct {
	Ticker      string
	Region      Region
	Name        string
	Exchange    string
	Currency    string
	AssetType   AssetType
	ListingDate *time.Time
	LotSize     int
	IsActive    bool
}

// Key returns the canonical identity string for maps and logs.
func (t Ticker) Key() string {
	return string(t.Region) + ":" + t.Ticker
}

// Bar is a single OHLCV observation plus its cached indicators.
// Indicator pointers are nil when the lookback window exceeds the available
// history; persistence stores nil as NULL.
type Bar struct {
	Ticker    string
	Region    Region
	Timeframe Timeframe
	Date      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64

	MA5         *float64
	MA20        *float64
	MA60        *float64
	MA120       *float64
	MA200       *float64
	RSI14       *float64
	MACD        *float64
	MACDSignal  *float64
	MACDHist    *float64
	BBUpper     *float64
	BBMiddle    *float64
	BBLower     *float64
	ATR14       *float64
	VolumeMA20  *float64
	VolumeRatio *float64
}

// Validate checks the OHLCV shape invariants: low/high bracket open and
// close, and volume is non-negative.
func (b Bar) Validate() error {
	if b.Low > b.Open || b.Low > b.Close {
		return NewValidationError(fmt.Sprintf("%s %s: low %.4f above open/close", b.Ticker, b.Date.Format("2006-01-02"), b.Low))
	}
	if b.High < b.Open || b.High < b.Close {
		return NewValidationError(fmt.Sprintf("%s %s: high %.4f below open/close", b.Ticker, b.Date.Format("2006-01-02"), b.High))
	}
	if b.Volume < 0 {
		return NewValidationError(fmt.Sprintf("%s %s: negative volume", b.Ticker, b.Date.Format("2006-01-02")))
	}
	return nil
}

// Quote is a point-in-time price snapshot from the broker.
type Quote struct {
	Ticker       string
	Region       Region
	Price        float64
	Change       float64
	ChangeRate   float64
	Volume       int64
	TradingValue float64
	High52w      float64
	Low52w       float64
	Currency     string
	AsOf         time.Time
}

// ExchangeRate is a KRW-normalization snapshot for one currency.
type ExchangeRate struct {
	Currency string
	RateKRW  float64 // KRW per one unit of Currency
	Date     time.Time
}

// DetectedPattern labels a chart pattern recognized by the scoring engine.
type DetectedPattern string

const (
	PatternNone           DetectedPattern = "NONE"
	PatternVCP            DetectedPattern = "VCP"
	PatternCupHandle      DetectedPattern = "CUP_AND_HANDLE"
	PatternStage2Breakout DetectedPattern = "STAGE2_BREAKOUT"
)
