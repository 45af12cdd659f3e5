package stage1

import (
	"database/sql"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/blacklist"
	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/internal/modules/collector"
	"github.com/jihoonkang/stockpipe/internal/modules/execlog"
	"github.com/jihoonkang/stockpipe/internal/modules/stage0"
)

// Runner executes the Stage-1 screen for one region's Stage-0 survivors.
type Runner struct {
	db        *database.DB
	repo      *Repository
	stage0    *stage0.Repository
	bars      *collector.BarRepository
	blacklist *blacklist.Manager
	execLog   *execlog.Repository
	params    Params
	log       zerolog.Logger
	now       func() time.Time
}

// NewRunner wires a Stage-1 runner.
func NewRunner(
	db *database.DB,
	repo *Repository,
	stage0Repo *stage0.Repository,
	bars *collector.BarRepository,
	bl *blacklist.Manager,
	execLog *execlog.Repository,
	params Params,
	log zerolog.Logger,
) *Runner {
	return &Runner{
		db:        db,
		repo:      repo,
		stage0:    stage0Repo,
		bars:      bars,
		blacklist: bl,
		execLog:   execLog,
		params:    params,
		log:       log.With().Str("component", "stage1").Logger(),
		now:       time.Now,
	}
}

// Result summarizes one Stage-1 run.
type Result struct {
	Region     domain.Region
	FilterDate string
	Input      int
	Passed     int
	Dropped    int // insufficient data or history holes
	Elapsed    time.Duration
}

// Run screens the Stage-0 survivors for filterDate and commits the snapshot.
// Tickers with bad history are dropped with a recorded reason, never failed
// hard.
func (r *Runner) Run(region domain.Region, filterDate string) (*Result, error) {
	started := r.now()

	survivors, err := r.stage0.Load(region, filterDate, true)
	if err != nil {
		return nil, err
	}
	if len(survivors) == 0 {
		r.log.Warn().Str("region", string(region)).Str("filter_date", filterDate).
			Msg("No stage0 survivors to screen")
	}

	// Stage 0 already drops blacklisted names, but its snapshot may predate
	// a blacklist edit. Cheap to re-check.
	symbols := make([]string, len(survivors))
	byTicker := make(map[string]stage0.Entry, len(survivors))
	for i, s := range survivors {
		symbols[i] = s.Ticker
		byTicker[s.Ticker] = s
	}
	allowed := r.blacklist.FilterTickers(symbols, region)

	entries := make([]Entry, 0, len(allowed))
	res := &Result{Region: region, FilterDate: filterDate, Input: len(allowed)}
	for _, symbol := range allowed {
		entry := r.screenOne(byTicker[symbol], region, filterDate)
		if entry == nil {
			res.Dropped++
			continue
		}
		if entry.Passed {
			res.Passed++
		}
		entries = append(entries, *entry)
	}

	res.Elapsed = r.now().Sub(started)
	err = database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		if err := r.repo.ReplaceForDateTx(tx, region, filterDate, entries); err != nil {
			return err
		}
		return r.execLog.RecordTx(tx, 1, region, res.Input, res.Passed, res.Elapsed)
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().Str("region", string(region)).Int("input", res.Input).
		Int("passed", res.Passed).Int("dropped", res.Dropped).
		Dur("elapsed", res.Elapsed).Msg("Stage 1 complete")
	return res, nil
}

// screenOne evaluates one ticker. A nil return means the ticker had no
// usable history; data-quality drops are logged at debug only.
func (r *Runner) screenOne(s0 stage0.Entry, region domain.Region, filterDate string) *Entry {
	bars, err := r.bars.Bars(s0.Ticker, domain.TimeframeDaily, collector.RetentionRows)
	if err != nil {
		r.log.Warn().Err(err).Str("ticker", s0.Ticker).Msg("Failed to load bars")
		return nil
	}

	entry := Entry{
		Ticker:     s0.Ticker,
		Region:     region,
		FilterDate: filterDate,
	}

	if err := r.params.CheckHistory(bars); err != nil {
		r.log.Debug().Str("ticker", s0.Ticker).Str("reason", err.Error()).Msg("History precondition failed")
		entry.Reason = err.Error()
		return &entry
	}

	latest := bars[len(bars)-1]
	verdict := r.params.Evaluate(latest)

	rate := s0.ExchangeRateToKRW
	entry.MA5 = latest.MA5
	entry.MA20 = latest.MA20
	entry.MA60 = latest.MA60
	entry.RSI14 = latest.RSI14
	entry.PriceKRW = int64(math.Round(latest.Close * rate))
	entry.Week52HighKRW = int64(math.Round(high52w(bars) * rate))
	entry.Volume3dAvg = tailVolumeAvg(bars, 3)
	entry.Volume10dAvg = tailVolumeAvg(bars, 10)
	entry.CompositeScore = verdict.Composite
	entry.Passed = verdict.Passed
	entry.Reason = verdict.Reason
	return &entry
}

func high52w(bars []domain.Bar) float64 {
	start := len(bars) - 250
	if start < 0 {
		start = 0
	}
	high := 0.0
	for _, b := range bars[start:] {
		if b.High > high {
			high = b.High
		}
	}
	return high
}

func tailVolumeAvg(bars []domain.Bar, days int) int64 {
	if len(bars) == 0 {
		return 0
	}
	start := len(bars) - days
	if start < 0 {
		start = 0
	}
	var sum int64
	for _, b := range bars[start:] {
		sum += b.Volume
	}
	return sum / int64(len(bars)-start)
}
