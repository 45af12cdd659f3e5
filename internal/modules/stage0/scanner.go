package stage0

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/blacklist"
	"github.com/jihoonkang/stockpipe/internal/calendar"
	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/internal/modules/execlog"
	"github.com/jihoonkang/stockpipe/internal/modules/fx"
	"github.com/jihoonkang/stockpipe/internal/modules/universe"
)

// fxMaxAge bounds how stale a KRW rate the scanner will normalize with.
const fxMaxAge = 36 * time.Hour

// Scanner runs the Stage-0 screen for one region: load the universe through
// the source cascade, drop blacklisted names, normalize to KRW, apply the
// region rules, and commit the snapshot.
type Scanner struct {
	db        *database.DB
	repo      *Repository
	tickers   *universe.TickerRepository
	blacklist *blacklist.Manager
	fx        *fx.Service
	calendar  *calendar.Service
	execLog   *execlog.Repository
	sources   []Source
	rulesDir  string
	log       zerolog.Logger
	now       func() time.Time
}

// NewScanner wires a Stage-0 scanner. Sources are tried in the given order.
func NewScanner(
	db *database.DB,
	repo *Repository,
	tickers *universe.TickerRepository,
	bl *blacklist.Manager,
	fxService *fx.Service,
	cal *calendar.Service,
	execLog *execlog.Repository,
	sources []Source,
	rulesDir string,
	log zerolog.Logger,
) *Scanner {
	return &Scanner{
		db:        db,
		repo:      repo,
		tickers:   tickers,
		blacklist: bl,
		fx:        fxService,
		calendar:  cal,
		execLog:   execLog,
		sources:   sources,
		rulesDir:  rulesDir,
		log:       log.With().Str("component", "stage0").Logger(),
		now:       time.Now,
	}
}

// Result summarizes one Stage-0 run.
type Result struct {
	Region     domain.Region
	FilterDate string
	Source     string // "cache" when served from a fresh snapshot
	Input      int
	Passed     int
	FromCache  bool
	Elapsed    time.Duration
}

// Run executes the screen. A snapshot younger than the session-dependent TTL
// is served as-is unless forceRefresh is set.
func (s *Scanner) Run(ctx context.Context, region domain.Region, forceRefresh bool) (*Result, error) {
	started := s.now()
	rules, err := LoadRules(s.rulesDir, region)
	if err != nil {
		return nil, err
	}

	filterDate := s.calendar.LastTradingDay(region, started).Format("2006-01-02")

	if !forceRefresh {
		if res := s.tryCache(region, filterDate, rules, started); res != nil {
			return res, nil
		}
	}

	records, sourceName, err := s.loadUniverse(ctx, region)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("region", string(region)).Str("source", sourceName).
		Int("count", len(records)).Msg("Universe loaded")

	records = s.dropBlacklisted(records, region)

	rate, err := s.fx.RateToKRW(ctx, region.Currency(), fxMaxAge)
	if err != nil {
		return nil, fmt.Errorf("stage0 %s: %w", region, err)
	}

	entries := make([]Entry, 0, len(records))
	passed := 0
	for _, rec := range records {
		entry := s.evaluate(rec, region, filterDate, rules, rate)
		if entry.Passed {
			passed++
		}
		entries = append(entries, entry)
	}

	elapsed := s.now().Sub(started)
	err = database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		if err := s.repo.ReplaceForDateTx(tx, region, filterDate, entries); err != nil {
			return err
		}
		for _, rec := range records {
			t := domain.Ticker{
				Ticker:      rec.Ticker,
				Region:      region,
				Name:        rec.Name,
				Exchange:    rec.Exchange,
				Currency:    rec.Currency,
				AssetType:   domain.AssetStock,
				ListingDate: rec.ListingDate,
				IsActive:    true,
			}
			if err := s.tickers.UpsertTx(tx, t); err != nil {
				return err
			}
		}
		return s.execLog.RecordTx(tx, 0, region, len(records), passed, elapsed)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("region", string(region)).Int("input", len(records)).
		Int("passed", passed).Dur("elapsed", elapsed).Msg("Stage 0 complete")
	return &Result{
		Region:     region,
		FilterDate: filterDate,
		Source:     sourceName,
		Input:      len(records),
		Passed:     passed,
		Elapsed:    elapsed,
	}, nil
}

// Survivors returns the tickers that passed the latest snapshot for a date.
func (s *Scanner) Survivors(region domain.Region, filterDate string) ([]Entry, error) {
	return s.repo.Load(region, filterDate, true)
}

func (s *Scanner) tryCache(region domain.Region, filterDate string, rules RegionRules, now time.Time) *Result {
	snapDate, writtenAt, err := s.repo.LatestSnapshot(region)
	if err != nil || snapDate != filterDate {
		return nil
	}
	ttl := rules.CacheTTL(s.calendar.IsMarketOpen(region, now))
	if now.Sub(writtenAt) > ttl {
		return nil
	}

	passed, err := s.repo.PassedCount(region, filterDate)
	if err != nil {
		return nil
	}
	s.log.Info().Str("region", string(region)).Str("filter_date", filterDate).
		Dur("age", now.Sub(writtenAt)).Msg("Serving cached stage0 snapshot")
	return &Result{
		Region:     region,
		FilterDate: filterDate,
		Source:     "cache",
		Passed:     passed,
		FromCache:  true,
	}
}

// loadUniverse walks the source cascade until one yields a non-empty list.
func (s *Scanner) loadUniverse(ctx context.Context, region domain.Region) ([]RawRecord, string, error) {
	var lastErr error
	for _, src := range s.sources {
		records, err := src.StockList(ctx, region)
		if err != nil {
			s.log.Warn().Err(err).Str("source", src.Name()).
				Str("region", string(region)).Msg("Source failed, trying next")
			lastErr = err
			continue
		}
		if len(records) == 0 {
			s.log.Warn().Str("source", src.Name()).Str("region", string(region)).
				Msg("Source returned empty universe, trying next")
			continue
		}
		return records, src.Name(), nil
	}
	if lastErr != nil {
		return nil, "", fmt.Errorf("all universe sources failed for %s: %w", region, lastErr)
	}
	return nil, "", domain.NewValidationError(fmt.Sprintf("no universe source configured for %s", region))
}

func (s *Scanner) dropBlacklisted(records []RawRecord, region domain.Region) []RawRecord {
	symbols := make([]string, len(records))
	byTicker := make(map[string]RawRecord, len(records))
	for i, rec := range records {
		symbols[i] = rec.Ticker
		byTicker[rec.Ticker] = rec
	}

	allowed := s.blacklist.FilterTickers(symbols, region)
	if len(allowed) == len(records) {
		return records
	}
	s.log.Info().Str("region", string(region)).
		Int("removed", len(records)-len(allowed)).Msg("Blacklisted tickers dropped")

	kept := make([]RawRecord, 0, len(allowed))
	for _, symbol := range allowed {
		kept = append(kept, byTicker[symbol])
	}
	return kept
}

func (s *Scanner) evaluate(rec RawRecord, region domain.Region, filterDate string, rules RegionRules, rate *domain.ExchangeRate) Entry {
	capKRW := int64(math.Round(rec.MarketCapLocal * rate.RateKRW))
	valueKRW := int64(math.Round(rec.TradingValueLocal * rate.RateKRW))
	priceKRW := int64(math.Round(rec.ClosePrice * rate.RateKRW))

	passed, reason := rules.Evaluate(rec, capKRW, valueKRW)
	return Entry{
		Ticker:            rec.Ticker,
		Region:            region,
		FilterDate:        filterDate,
		Name:              rec.Name,
		Exchange:          rec.Exchange,
		MarketCapKRW:      capKRW,
		MarketCapLocal:    domain.ToMinor(rec.MarketCapLocal, rec.Currency),
		TradingValueKRW:   valueKRW,
		TradingValueLocal: domain.ToMinor(rec.TradingValueLocal, rec.Currency),
		PriceKRW:          priceKRW,
		PriceLocal:        domain.ToMinor(rec.ClosePrice, rec.Currency),
		Currency:          rec.Currency,
		ExchangeRateToKRW: rate.RateKRW,
		ExchangeRateDate:  rate.Date.Format("2006-01-02"),
		Passed:            passed,
		Reason:            reason,
	}
}
