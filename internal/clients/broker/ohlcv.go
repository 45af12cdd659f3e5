package broker

import (
	"context"
	"net/url"
	"sort"
	"time"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// chunkDays is the calendar span of one pagination window. The upstream
// returns at most 100 rows per call; ~150 calendar days holds roughly 100
// trading days, so each window comes back full without wasting calls.
const chunkDays = 150

// maxChunkWalk caps the backward walk so a sparsely-traded symbol cannot
// loop forever (enough windows for ~10 years).
const maxChunkWalk = 25

// GetOHLCV collects the most recent `days` daily bars for a ticker, walking
// the upstream's capped pagination windows backward from `end`. Duplicate
// dates keep the first-seen row; the result is ascending by date and trimmed
// to the final `days` rows. A chunk-level upstream failure terminates the
// walk and returns what was already collected (best effort).
func (c *Client) GetOHLCV(ctx context.Context, ticker string, region domain.Region, exchange string, days int, end time.Time) ([]domain.Bar, error) {
	if days <= 0 {
		return nil, domain.NewValidationError("days must be positive")
	}

	seen := make(map[string]domain.Bar)
	windowEnd := end

	for call := 0; call < maxChunkWalk && len(seen) < days; call++ {
		windowStart := windowEnd.AddDate(0, 0, -chunkDays+1)

		rows, err := c.fetchOHLCVWindow(ctx, ticker, region, exchange, windowStart, windowEnd)
		if err != nil {
			c.log.Warn().Err(err).
				Str("ticker", ticker).
				Str("region", string(region)).
				Time("window_end", windowEnd).
				Msg("OHLCV chunk failed, returning collected bars")
			break
		}
		if len(rows) == 0 {
			// Walked past the listing date.
			break
		}

		for _, bar := range rows {
			key := bar.Date.Format("2006-01-02")
			if _, dup := seen[key]; !dup {
				seen[key] = bar
			}
		}
		windowEnd = windowStart.AddDate(0, 0, -1)
	}

	bars := make([]domain.Bar, 0, len(seen))
	for _, bar := range seen {
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}
	return bars, nil
}

// fetchOHLCVWindow requests one [from, to] window (<=100 rows upstream).
func (c *Client) fetchOHLCVWindow(ctx context.Context, ticker string, region domain.Region, exchange string, from, to time.Time) ([]domain.Bar, error) {
	if region == domain.RegionKR {
		return c.fetchOHLCVWindowKR(ctx, ticker, from, to)
	}
	return c.fetchOHLCVWindowOverseas(ctx, ticker, region, exchange, from, to)
}

func (c *Client) fetchOHLCVWindowKR(ctx context.Context, ticker string, from, to time.Time) ([]domain.Bar, error) {
	query := url.Values{}
	query.Set("FID_COND_MRKT_DIV_CODE", "J")
	query.Set("FID_INPUT_ISCD", ticker)
	query.Set("FID_INPUT_DATE_1", from.Format("20060102"))
	query.Set("FID_INPUT_DATE_2", to.Format("20060102"))
	query.Set("FID_PERIOD_DIV_CODE", "D")
	query.Set("FID_ORG_ADJ_PRC", "0") // Adjusted prices

	var out struct {
		envelope
		Output []struct {
			Date   string `json:"stck_bsop_date"`
			Open   string `json:"stck_oprc"`
			High   string `json:"stck_hgpr"`
			Low    string `json:"stck_lwpr"`
			Close  string `json:"stck_clpr"`
			Volume string `json:"acml_vol"`
		} `json:"output2"`
	}
	if err := c.call(ctx, trOHLCVKR, pathOHLCVKR, query, &out); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(out.Output))
	for _, row := range out.Output {
		date, err := time.Parse("20060102", row.Date)
		if err != nil {
			continue
		}
		bar := domain.Bar{
			Ticker:    ticker,
			Region:    domain.RegionKR,
			Timeframe: domain.TimeframeDaily,
			Date:      date,
			Open:      parseFloat(row.Open),
			High:      parseFloat(row.High),
			Low:       parseFloat(row.Low),
			Close:     parseFloat(row.Close),
			Volume:    parseInt(row.Volume),
		}
		if bar.Close <= 0 {
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func (c *Client) fetchOHLCVWindowOverseas(ctx context.Context, ticker string, region domain.Region, exchange string, from, to time.Time) ([]domain.Bar, error) {
	if exchange == "" {
		exchange = primaryExchangeCode(region)
	}

	query := url.Values{}
	query.Set("AUTH", "")
	query.Set("EXCD", exchange)
	query.Set("SYMB", upstreamSymbol(ticker))
	query.Set("GUBN", "0") // Daily
	query.Set("BYMD", to.Format("20060102"))
	query.Set("MODP", "1") // Adjusted prices

	var out struct {
		envelope
		Output []struct {
			Date   string `json:"xymd"`
			Open   string `json:"open"`
			High   string `json:"high"`
			Low    string `json:"low"`
			Close  string `json:"clos"`
			Volume string `json:"tvol"`
		} `json:"output2"`
	}
	if err := c.call(ctx, trOHLCVOverseas, pathOHLCVOvrs, query, &out); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(out.Output))
	for _, row := range out.Output {
		date, err := time.Parse("20060102", row.Date)
		if err != nil {
			continue
		}
		// The overseas endpoint pages by BYMD only; enforce the window's
		// lower bound locally.
		if date.Before(from) {
			continue
		}
		bar := domain.Bar{
			Ticker:    ticker,
			Region:    region,
			Timeframe: domain.TimeframeDaily,
			Date:      date,
			Open:      parseFloat(row.Open),
			High:      parseFloat(row.High),
			Low:       parseFloat(row.Low),
			Close:     parseFloat(row.Close),
			Volume:    parseInt(row.Volume),
		}
		if bar.Close <= 0 {
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}
