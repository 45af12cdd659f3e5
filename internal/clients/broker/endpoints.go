package broker

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Per-endpoint transaction IDs. Every authenticated request carries the
// endpoint's tr_id header; domestic (KR) and overseas endpoints use separate
// ID families.
const (
	trQuoteKR        = "FHKST01010100"
	trQuoteOverseas  = "HHDFS00000300"
	trOHLCVKR        = "FHKST03010100"
	trOHLCVOverseas  = "HHDFS76240000"
	trETFNav         = "FHPST02400000"
	trETFDetails     = "FHPST02440000"
	trTradableList   = "HHDFS76410000"
	trExchangeRate   = "HHDFS00000400"
	trOrderBuyKR     = "TTTC0802U"
	trOrderSellKR    = "TTTC0801U"
	trOrderBuyOvrs   = "TTTT1002U"
	trOrderSellOvrs  = "TTTT1006U"
	pathQuoteKR      = "/uapi/domestic-stock/v1/quotations/inquire-price"
	pathQuoteOvrs    = "/uapi/overseas-price/v1/quotations/price"
	pathOHLCVKR      = "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice"
	pathOHLCVOvrs    = "/uapi/overseas-price/v1/quotations/dailyprice"
	pathETFNav       = "/uapi/domestic-stock/v1/quotations/inquire-etf-nav"
	pathETFDetails   = "/uapi/etfetn/v1/quotations/inquire-component-stock-price"
	pathTradableList = "/uapi/overseas-price/v1/quotations/inquire-search"
	pathExchangeRate = "/uapi/overseas-price/v1/quotations/exchange-rate"
	pathOrderKR      = "/uapi/domestic-stock/v1/trading/order-cash"
	pathOrderOvrs    = "/uapi/overseas-stock/v1/trading/order"
)

// exchangeCodes maps a region to the upstream EXCD codes queried for it.
var exchangeCodes = map[domain.Region][]string{
	domain.RegionUS: {"NAS", "NYS", "AMS"},
	domain.RegionHK: {"HKS"},
	domain.RegionCN: {"SHS", "SZS"},
	domain.RegionJP: {"TSE"},
	domain.RegionVN: {"HNX", "HSX"},
}

// GetQuote fetches a point-in-time price snapshot.
func (c *Client) GetQuote(ctx context.Context, ticker string, region domain.Region) (*domain.Quote, error) {
	if region == domain.RegionKR {
		return c.getQuoteKR(ctx, ticker)
	}
	return c.getQuoteOverseas(ctx, ticker, region)
}

func (c *Client) getQuoteKR(ctx context.Context, ticker string) (*domain.Quote, error) {
	query := url.Values{}
	query.Set("FID_COND_MRKT_DIV_CODE", "J")
	query.Set("FID_INPUT_ISCD", ticker)

	var out struct {
		envelope
		Output struct {
			Price        string `json:"stck_prpr"`
			Change       string `json:"prdy_vrss"`
			ChangeRate   string `json:"prdy_ctrt"`
			Volume       string `json:"acml_vol"`
			TradingValue string `json:"acml_tr_pbmn"`
			High52w      string `json:"w52_hgpr"`
			Low52w       string `json:"w52_lwpr"`
		} `json:"output"`
	}
	if err := c.call(ctx, trQuoteKR, pathQuoteKR, query, &out); err != nil {
		return nil, fmt.Errorf("quote %s/KR: %w", ticker, err)
	}

	return &domain.Quote{
		Ticker:       ticker,
		Region:       domain.RegionKR,
		Price:        parseFloat(out.Output.Price),
		Change:       parseFloat(out.Output.Change),
		ChangeRate:   parseFloat(out.Output.ChangeRate),
		Volume:       parseInt(out.Output.Volume),
		TradingValue: parseFloat(out.Output.TradingValue),
		High52w:      parseFloat(out.Output.High52w),
		Low52w:       parseFloat(out.Output.Low52w),
		Currency:     "KRW",
		AsOf:         c.now(),
	}, nil
}

func (c *Client) getQuoteOverseas(ctx context.Context, ticker string, region domain.Region) (*domain.Quote, error) {
	query := url.Values{}
	query.Set("AUTH", "")
	query.Set("EXCD", primaryExchangeCode(region))
	query.Set("SYMB", upstreamSymbol(ticker))

	var out struct {
		envelope
		Output struct {
			Last       string `json:"last"`
			Diff       string `json:"diff"`
			Rate       string `json:"rate"`
			Volume     string `json:"tvol"`
			Amount     string `json:"tamt"`
			High52w    string `json:"h52p"`
			Low52w     string `json:"l52p"`
			CurrencyCd string `json:"curr"`
		} `json:"output"`
	}
	if err := c.call(ctx, trQuoteOverseas, pathQuoteOvrs, query, &out); err != nil {
		return nil, fmt.Errorf("quote %s/%s: %w", ticker, region, err)
	}

	currency := out.Output.CurrencyCd
	if currency == "" {
		currency = region.Currency()
	}
	return &domain.Quote{
		Ticker:       ticker,
		Region:       region,
		Price:        parseFloat(out.Output.Last),
		Change:       parseFloat(out.Output.Diff),
		ChangeRate:   parseFloat(out.Output.Rate),
		Volume:       parseInt(out.Output.Volume),
		TradingValue: parseFloat(out.Output.Amount),
		High52w:      parseFloat(out.Output.High52w),
		Low52w:       parseFloat(out.Output.Low52w),
		Currency:     currency,
		AsOf:         c.now(),
	}, nil
}

// ETFNav is the NAV snapshot for an exchange-traded fund.
type ETFNav struct {
	Ticker      string
	NAV         float64
	Price       float64
	PremiumRate float64 // (price - nav) / nav, percent
	AsOf        time.Time
}

// GetETFNav fetches the current NAV and premium for a KR-listed ETF.
func (c *Client) GetETFNav(ctx context.Context, ticker string) (*ETFNav, error) {
	query := url.Values{}
	query.Set("FID_COND_MRKT_DIV_CODE", "J")
	query.Set("FID_INPUT_ISCD", ticker)

	var out struct {
		envelope
		Output struct {
			NAV         string `json:"nav"`
			Price       string `json:"stck_prpr"`
			PremiumRate string `json:"nav_vrss_prpr_rate"`
		} `json:"output"`
	}
	if err := c.call(ctx, trETFNav, pathETFNav, query, &out); err != nil {
		return nil, fmt.Errorf("etf nav %s: %w", ticker, err)
	}

	return &ETFNav{
		Ticker:      ticker,
		NAV:         parseFloat(out.Output.NAV),
		Price:       parseFloat(out.Output.Price),
		PremiumRate: parseFloat(out.Output.PremiumRate),
		AsOf:        c.now(),
	}, nil
}

// ETFDetails describes an ETF's composition summary.
type ETFDetails struct {
	Ticker         string
	Name           string
	NetAssets      float64
	ComponentCount int
	ExpenseRatio   float64
}

// GetETFDetails fetches ETF composition metadata.
func (c *Client) GetETFDetails(ctx context.Context, ticker string) (*ETFDetails, error) {
	query := url.Values{}
	query.Set("FID_COND_MRKT_DIV_CODE", "J")
	query.Set("FID_INPUT_ISCD", ticker)

	var out struct {
		envelope
		Output struct {
			Name           string `json:"etf_rprs_bstp_kor_isnm"`
			NetAssets      string `json:"etf_ntas_ttam"`
			ComponentCount string `json:"etf_cnfg_issu_cnt"`
			ExpenseRatio   string `json:"etf_cu_unit_scrt_cnt"`
		} `json:"output"`
	}
	if err := c.call(ctx, trETFDetails, pathETFDetails, query, &out); err != nil {
		return nil, fmt.Errorf("etf details %s: %w", ticker, err)
	}

	return &ETFDetails{
		Ticker:         ticker,
		Name:           out.Output.Name,
		NetAssets:      parseFloat(out.Output.NetAssets),
		ComponentCount: int(parseInt(out.Output.ComponentCount)),
		ExpenseRatio:   parseFloat(out.Output.ExpenseRatio),
	}, nil
}

// TradableTicker is one row of the tradable-instrument list.
type TradableTicker struct {
	Ticker       string
	Name         string
	Exchange     string
	Price        float64
	Volume       int64
	TradingValue float64
	MarketCap    float64
	Shares       int64
}

// GetTradableTickers lists tradable instruments on an exchange. limit <= 0
// returns everything the upstream pages out.
func (c *Client) GetTradableTickers(ctx context.Context, exchangeCode string, limit int) ([]TradableTicker, error) {
	query := url.Values{}
	query.Set("AUTH", "")
	query.Set("EXCD", exchangeCode)

	var out struct {
		envelope
		Output []struct {
			Symbol    string `json:"symb"`
			Name      string `json:"name"`
			Last      string `json:"last"`
			Volume    string `json:"tvol"`
			Amount    string `json:"tamt"`
			MarketCap string `json:"valx"`
			Shares    string `json:"shar"`
		} `json:"output2"`
	}
	if err := c.call(ctx, trTradableList, pathTradableList, query, &out); err != nil {
		return nil, fmt.Errorf("tradable list %s: %w", exchangeCode, err)
	}

	tickers := make([]TradableTicker, 0, len(out.Output))
	for _, row := range out.Output {
		if row.Symbol == "" {
			continue
		}
		tickers = append(tickers, TradableTicker{
			Ticker:       row.Symbol,
			Name:         row.Name,
			Exchange:     exchangeCode,
			Price:        parseFloat(row.Last),
			Volume:       parseInt(row.Volume),
			TradingValue: parseFloat(row.Amount),
			MarketCap:    parseFloat(row.MarketCap),
			Shares:       parseInt(row.Shares),
		})
		if limit > 0 && len(tickers) >= limit {
			break
		}
	}
	return tickers, nil
}

// GetExchangeRate fetches the KRW conversion rate for a currency.
func (c *Client) GetExchangeRate(ctx context.Context, currency string) (*domain.ExchangeRate, error) {
	if currency == "KRW" {
		return &domain.ExchangeRate{Currency: "KRW", RateKRW: 1, Date: c.now()}, nil
	}

	query := url.Values{}
	query.Set("CURR_CD", currency)

	var out struct {
		envelope
		Output struct {
			Rate string `json:"frst_bltn_exrt"`
			Date string `json:"bltn_date"`
		} `json:"output"`
	}
	if err := c.call(ctx, trExchangeRate, pathExchangeRate, query, &out); err != nil {
		return nil, fmt.Errorf("exchange rate %s: %w", currency, err)
	}

	rate := parseFloat(out.Output.Rate)
	if rate <= 0 {
		return nil, domain.NewValidationError(fmt.Sprintf("non-positive exchange rate for %s", currency))
	}

	date := c.now()
	if parsed, err := time.Parse("20060102", out.Output.Date); err == nil {
		date = parsed
	}
	return &domain.ExchangeRate{Currency: currency, RateKRW: rate, Date: date}, nil
}

// OrderRequest describes an order submission.
type OrderRequest struct {
	Ticker   string
	Region   domain.Region
	Exchange string // Overseas EXCD; ignored for KR
	Side     domain.Side
	Quantity int64
	Price    float64 // Limit price, already tick-rounded
}

// OrderResult is the upstream acknowledgment of an accepted order.
type OrderResult struct {
	OrderNo     string
	ExecutionNo string
	SubmittedAt time.Time
}

// PlaceOrder submits a cash limit order.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Quantity <= 0 {
		return nil, domain.NewValidationError("order quantity must be positive")
	}
	if req.Price <= 0 {
		return nil, domain.NewValidationError("order price must be positive")
	}

	trID, path, body := orderPayload(req)

	var out struct {
		envelope
		Output struct {
			OrderNo     string `json:"ODNO"`
			ExecutionNo string `json:"KRX_FWDG_ORD_ORGNO"`
			OrderTime   string `json:"ORD_TMD"`
		} `json:"output"`
	}
	if err := c.post(ctx, trID, path, body, &out); err != nil {
		return nil, fmt.Errorf("place order %s/%s: %w", req.Ticker, req.Region, err)
	}

	return &OrderResult{
		OrderNo:     out.Output.OrderNo,
		ExecutionNo: out.Output.ExecutionNo,
		SubmittedAt: c.now(),
	}, nil
}

func orderPayload(req OrderRequest) (trID, path string, body map[string]string) {
	qty := strconv.FormatInt(req.Quantity, 10)
	price := strconv.FormatFloat(req.Price, 'f', -1, 64)

	if req.Region == domain.RegionKR {
		trID = trOrderBuyKR
		if req.Side == domain.SideSell {
			trID = trOrderSellKR
		}
		return trID, pathOrderKR, map[string]string{
			"PDNO":     req.Ticker,
			"ORD_DVSN": "00", // Limit order
			"ORD_QTY":  qty,
			"ORD_UNPR": price,
		}
	}

	trID = trOrderBuyOvrs
	if req.Side == domain.SideSell {
		trID = trOrderSellOvrs
	}
	return trID, pathOrderOvrs, map[string]string{
		"OVRS_EXCG_CD":  req.Exchange,
		"PDNO":          upstreamSymbol(req.Ticker),
		"ORD_QTY":       qty,
		"OVRS_ORD_UNPR": price,
		"ORD_DVSN":      "00",
	}
}

// primaryExchangeCode returns the first EXCD for a region.
func primaryExchangeCode(region domain.Region) string {
	codes := exchangeCodes[region]
	if len(codes) == 0 {
		return ""
	}
	return codes[0]
}

// upstreamSymbol strips the normalization suffix (.HK/.SS/.SZ) the pipeline
// attaches for joins; the upstream wants the bare exchange-local code.
func upstreamSymbol(ticker string) string {
	if i := strings.IndexByte(ticker, '.'); i > 0 {
		return ticker[:i]
	}
	return ticker
}

// parseFloat tolerates the upstream's habit of empty strings and embedded
// commas in numeric fields.
func parseFloat(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	// Some volume fields arrive with a decimal point.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
