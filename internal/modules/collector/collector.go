package collector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/calendar"
	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
)

// BarSource fetches daily history; implemented by the broker client and by
// MockBarSource.
type BarSource interface {
	GetOHLCV(ctx context.Context, ticker string, region domain.Region, exchange string, days int, end time.Time) ([]domain.Bar, error)
}

// Run-level failure thresholds. A burst of consecutive failures means the
// upstream is down, not that individual tickers are bad.
const (
	maxConsecutiveFailures = 50
	mockSwitchMinProcessed = 10
	mockSwitchFailureRate  = 0.9
)

// Target identifies one instrument to collect.
type Target struct {
	Ticker   string
	Region   domain.Region
	Exchange string
}

// Collector fills and maintains OHLCV history for a target list.
type Collector struct {
	db       *database.DB
	repo     *BarRepository
	cal      *calendar.Service
	source   BarSource
	mock     BarSource
	log      zerolog.Logger
	now      func() time.Time
	paceNext func() // inter-ticker pacing hook, overridable in tests
}

// NewCollector wires a collector. mock may be nil to disable the outage
// fallback.
func NewCollector(db *database.DB, repo *BarRepository, cal *calendar.Service, source BarSource, mock BarSource, log zerolog.Logger) *Collector {
	return &Collector{
		db:     db,
		repo:   repo,
		cal:    cal,
		source: source,
		mock:   mock,
		log:    log.With().Str("component", "collector").Logger(),
		now:    time.Now,
	}
}

// RunStats summarizes one collection run.
type RunStats struct {
	Processed   int
	Fetched     int
	Skipped     int
	Failed      int
	MockUsed    bool
	RowsTrimmed int64
}

// Run collects daily history for every target. Per-ticker failures are
// logged and counted; the run aborts only on systemic failure (50
// consecutive errors) or context cancellation.
func (c *Collector) Run(ctx context.Context, targets []Target) (*RunStats, error) {
	stats := &RunStats{}
	source := c.source
	consecutive := 0

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		fetched, err := c.collectOne(ctx, source, target)
		stats.Processed++
		if err != nil {
			stats.Failed++
			consecutive++
			c.log.Warn().Err(err).Str("ticker", target.Ticker).Msg("Collection failed")

			if consecutive >= maxConsecutiveFailures {
				return stats, domain.NewTransientError(
					fmt.Sprintf("aborting run: %d consecutive collection failures", consecutive), nil)
			}
			if !stats.MockUsed && c.mock != nil &&
				stats.Processed >= mockSwitchMinProcessed &&
				float64(stats.Failed)/float64(stats.Processed) >= mockSwitchFailureRate {
				c.log.Error().Int("processed", stats.Processed).Int("failed", stats.Failed).
					Msg("Systemic source failure, switching to mock data for remainder of run")
				source = c.mock
				stats.MockUsed = true
			}
			continue
		}

		consecutive = 0
		if fetched {
			stats.Fetched++
		} else {
			stats.Skipped++
		}
		if c.paceNext != nil {
			c.paceNext()
		}
	}

	trimmed, err := c.repo.ApplyRetention(domain.TimeframeDaily)
	if err != nil {
		c.log.Warn().Err(err).Msg("Retention pass failed")
	} else if trimmed > 0 {
		stats.RowsTrimmed = trimmed
		if err := c.db.IncrementalVacuum(); err != nil {
			c.log.Warn().Err(err).Msg("Incremental vacuum failed")
		}
	}

	c.log.Info().Int("processed", stats.Processed).Int("fetched", stats.Fetched).
		Int("skipped", stats.Skipped).Int("failed", stats.Failed).
		Bool("mock", stats.MockUsed).Msg("Collection run complete")
	return stats, nil
}

// collectOne updates one ticker. Returns false when the history was already
// current.
func (c *Collector) collectOne(ctx context.Context, source BarSource, target Target) (bool, error) {
	latest, err := c.repo.LatestDate(target.Ticker, domain.TimeframeDaily)
	if err != nil {
		return false, err
	}

	plan := PlanFetch(c.cal, target.Region, latest, c.now())
	if plan.Mode == FetchSkip {
		return false, nil
	}

	end := c.cal.LastTradingDay(target.Region, c.now())
	fetched, err := source.GetOHLCV(ctx, target.Ticker, target.Region, target.Exchange, plan.Days, end)
	if err != nil {
		return false, fmt.Errorf("%s fetch (%s, %d days): %w", target.Ticker, plan.Mode, plan.Days, err)
	}
	if len(fetched) == 0 {
		return false, domain.NewInsufficientDataError(
			fmt.Sprintf("%s: source returned no bars for %d days", target.Ticker, plan.Days))
	}

	valid := fetched[:0]
	for _, b := range fetched {
		b.Ticker = target.Ticker
		b.Region = target.Region
		b.Timeframe = domain.TimeframeDaily
		if err := b.Validate(); err != nil {
			c.log.Warn().Err(err).Str("ticker", target.Ticker).Msg("Dropping malformed bar")
			continue
		}
		valid = append(valid, b)
	}
	if len(valid) == 0 {
		return false, domain.NewInsufficientDataError(target.Ticker + ": every fetched bar was malformed")
	}

	// Indicators need the full stored window, not just the fetched slice:
	// a 1-day fetch still shifts every lookback.
	if err := c.writeAndEnrich(target, valid); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Collector) writeAndEnrich(target Target, fetched []domain.Bar) error {
	err := database.WithTransaction(c.db.Conn(), func(tx *sql.Tx) error {
		return c.repo.UpsertBars(tx, fetched)
	})
	if err != nil {
		return err
	}

	window, err := c.repo.Bars(target.Ticker, domain.TimeframeDaily, RetentionRows)
	if err != nil {
		return err
	}
	EnrichIndicators(window)
	return database.WithTransaction(c.db.Conn(), func(tx *sql.Tx) error {
		return c.repo.UpsertBars(tx, window)
	})
}
