package stage0

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/clients/broker"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/internal/masterfile"
)

// Source supplies one region's universe. The scanner tries sources in order
// until one returns a non-empty list.
type Source interface {
	Name() string
	StockList(ctx context.Context, region domain.Region) ([]RawRecord, error)
}

// BrokerSource lists tradable instruments through the brokerage API.
// Requires configured credentials; first in the cascade when available.
type BrokerSource struct {
	client *broker.Client
	log    zerolog.Logger
}

// NewBrokerSource creates the official-API source.
func NewBrokerSource(client *broker.Client, log zerolog.Logger) *BrokerSource {
	return &BrokerSource{client: client, log: log.With().Str("source", "broker").Logger()}
}

func (s *BrokerSource) Name() string { return "broker_api" }

func (s *BrokerSource) StockList(ctx context.Context, region domain.Region) ([]RawRecord, error) {
	codes := masterfile.MarketCodes[region]
	if len(codes) == 0 {
		return nil, domain.NewValidationError(fmt.Sprintf("broker source does not cover region %s", region))
	}

	currency := region.Currency()
	var records []RawRecord
	for _, code := range codes {
		excd := masterfile.ExchangeCodeFor[code]
		rows, err := s.client.GetTradableTickers(ctx, excd, 0)
		if err != nil {
			return nil, fmt.Errorf("tradable list %s: %w", excd, err)
		}
		for _, row := range rows {
			records = append(records, RawRecord{
				Ticker:            masterfile.NormalizeTicker(row.Ticker, code),
				Name:              row.Name,
				Exchange:          excd,
				Shares:            row.Shares,
				ClosePrice:        row.Price,
				MarketCapLocal:    row.MarketCap,
				TradingValueLocal: row.TradingValue,
				Currency:          currency,
			})
		}
	}
	return records, nil
}

// marketDataRow is the public market-data endpoint's JSON row shape.
type marketDataRow struct {
	Ticker       string  `json:"ticker"`
	Name         string  `json:"name"`
	Exchange     string  `json:"exchange"`
	ListingDate  string  `json:"listing_date"`
	Shares       int64   `json:"shares"`
	Close        float64 `json:"close"`
	MarketCap    float64 `json:"market_cap"`
	TradingValue float64 `json:"trading_value"`
	Currency     string  `json:"currency"`
}

func (row marketDataRow) toRecord(region domain.Region) RawRecord {
	rec := RawRecord{
		Ticker:            row.Ticker,
		Name:              row.Name,
		Exchange:          row.Exchange,
		Shares:            row.Shares,
		ClosePrice:        row.Close,
		MarketCapLocal:    row.MarketCap,
		TradingValueLocal: row.TradingValue,
		Currency:          row.Currency,
	}
	if rec.Currency == "" {
		rec.Currency = region.Currency()
	}
	if d, err := time.Parse("2006-01-02", row.ListingDate); err == nil {
		rec.ListingDate = &d
	}
	return rec
}

// MarketDataSource hits a public market-data endpoint returning the full
// region list in one response.
type MarketDataSource struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewMarketDataSource creates the public-endpoint source.
func NewMarketDataSource(baseURL string, log zerolog.Logger) *MarketDataSource {
	return &MarketDataSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("source", "market_data").Logger(),
	}
}

func (s *MarketDataSource) Name() string { return "market_data" }

func (s *MarketDataSource) StockList(ctx context.Context, region domain.Region) ([]RawRecord, error) {
	url := fmt.Sprintf("%s/v1/listings?region=%s", s.baseURL, region)
	rows, err := fetchRows(ctx, s.httpClient, url)
	if err != nil {
		return nil, err
	}
	records := make([]RawRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord(region))
	}
	return records, nil
}

// PagedMarketDataSource walks the same endpoint page by page with a 1s
// inter-call gap, for upstreams that refuse the unpaginated form.
type PagedMarketDataSource struct {
	baseURL    string
	pageSize   int
	gap        time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

// NewPagedMarketDataSource creates the paginated fallback source.
func NewPagedMarketDataSource(baseURL string, log zerolog.Logger) *PagedMarketDataSource {
	return &PagedMarketDataSource{
		baseURL:    baseURL,
		pageSize:   500,
		gap:        time.Second,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("source", "market_data_paged").Logger(),
	}
}

func (s *PagedMarketDataSource) Name() string { return "market_data_paged" }

func (s *PagedMarketDataSource) StockList(ctx context.Context, region domain.Region) ([]RawRecord, error) {
	var records []RawRecord
	for page := 1; ; page++ {
		if page > 1 {
			select {
			case <-ctx.Done():
				return records, ctx.Err()
			case <-time.After(s.gap):
			}
		}

		url := fmt.Sprintf("%s/v1/listings?region=%s&page=%d&size=%d", s.baseURL, region, page, s.pageSize)
		rows, err := fetchRows(ctx, s.httpClient, url)
		if err != nil {
			// Best effort: keep the pages already fetched.
			s.log.Warn().Err(err).Int("page", page).Msg("Page fetch failed, stopping walk")
			break
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			records = append(records, row.toRecord(region))
		}
		if len(rows) < s.pageSize {
			break
		}
	}
	return records, nil
}

func fetchRows(ctx context.Context, client *http.Client, url string) ([]marketDataRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, domain.NewTransientError("listing fetch failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewTransientError(fmt.Sprintf("listing endpoint returned HTTP %d", resp.StatusCode), nil)
	}

	var rows []marketDataRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, domain.NewTransientError("malformed listing response", err)
	}
	return rows, nil
}

// OfflineSource is the last resort: a static seed of each region's largest
// names so the pipeline stays exercisable with every upstream down.
type OfflineSource struct {
	log zerolog.Logger
}

// NewOfflineSource creates the offline seed source.
func NewOfflineSource(log zerolog.Logger) *OfflineSource {
	return &OfflineSource{log: log.With().Str("source", "offline").Logger()}
}

func (s *OfflineSource) Name() string { return "offline_seed" }

func (s *OfflineSource) StockList(ctx context.Context, region domain.Region) ([]RawRecord, error) {
	seeds, ok := offlineSeeds[region]
	if !ok {
		return nil, domain.NewValidationError(fmt.Sprintf("no offline seed for region %s", region))
	}
	s.log.Warn().Str("region", string(region)).Int("count", len(seeds)).
		Msg("Serving offline seed universe; figures are approximate")
	return append([]RawRecord(nil), seeds...), nil
}

// offlineSeeds carry approximate figures; good enough for the filter to
// produce a sane shortlist when every live source is down.
var offlineSeeds = map[domain.Region][]RawRecord{
	domain.RegionKR: {
		{Ticker: "005930", Name: "삼성전자", Exchange: "KRX", Shares: 5_969_782_550, ClosePrice: 71000, MarketCapLocal: 4.2e14, TradingValueLocal: 6e11, Currency: "KRW"},
		{Ticker: "000660", Name: "SK하이닉스", Exchange: "KRX", Shares: 728_002_365, ClosePrice: 178000, MarketCapLocal: 1.3e14, TradingValueLocal: 4e11, Currency: "KRW"},
		{Ticker: "373220", Name: "LG에너지솔루션", Exchange: "KRX", Shares: 234_000_000, ClosePrice: 390000, MarketCapLocal: 9.1e13, TradingValueLocal: 1e11, Currency: "KRW"},
	},
	domain.RegionUS: {
		{Ticker: "AAPL", Name: "Apple Inc", Exchange: "NAS", Shares: 15_300_000_000, ClosePrice: 190, MarketCapLocal: 2.9e12, TradingValueLocal: 1.1e10, Currency: "USD"},
		{Ticker: "MSFT", Name: "Microsoft Corp", Exchange: "NAS", Shares: 7_430_000_000, ClosePrice: 420, MarketCapLocal: 3.1e12, TradingValueLocal: 9e9, Currency: "USD"},
		{Ticker: "NVDA", Name: "NVIDIA Corp", Exchange: "NAS", Shares: 24_600_000_000, ClosePrice: 120, MarketCapLocal: 2.9e12, TradingValueLocal: 3e10, Currency: "USD"},
	},
	domain.RegionHK: {
		{Ticker: "0700.HK", Name: "Tencent Holdings", Exchange: "HKS", Shares: 9_300_000_000, ClosePrice: 380, MarketCapLocal: 3.5e12, TradingValueLocal: 8e9, Currency: "HKD"},
		{Ticker: "9988.HK", Name: "Alibaba Group", Exchange: "HKS", Shares: 19_100_000_000, ClosePrice: 80, MarketCapLocal: 1.5e12, TradingValueLocal: 6e9, Currency: "HKD"},
	},
	domain.RegionCN: {
		{Ticker: "600519.SS", Name: "Kweichow Moutai", Exchange: "SHS", Shares: 1_256_000_000, ClosePrice: 1500, MarketCapLocal: 1.9e12, TradingValueLocal: 4e9, Currency: "CNY"},
	},
	domain.RegionJP: {
		{Ticker: "7203", Name: "Toyota Motor", Exchange: "TSE", Shares: 13_500_000_000, ClosePrice: 2800, MarketCapLocal: 3.8e13, TradingValueLocal: 7e10, Currency: "JPY"},
	},
	domain.RegionVN: {
		{Ticker: "VNM", Name: "Vinamilk", Exchange: "HSX", Shares: 2_090_000_000, ClosePrice: 68000, MarketCapLocal: 1.4e14, TradingValueLocal: 1.5e11, Currency: "VND"},
	},
}
