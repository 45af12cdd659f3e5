package stage2

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/internal/modules/collector"
	"github.com/jihoonkang/stockpipe/internal/modules/execlog"
	"github.com/jihoonkang/stockpipe/internal/modules/stage1"
)

// Engine runs the module set over Stage-1 passers.
type Engine struct {
	db      *database.DB
	repo    *Repository
	stage1  *stage1.Repository
	bars    *collector.BarRepository
	execLog *execlog.Repository
	modules []Module
	log     zerolog.Logger
	now     func() time.Time
}

// NewEngine wires a scoring engine over the given module set.
func NewEngine(
	db *database.DB,
	repo *Repository,
	stage1Repo *stage1.Repository,
	bars *collector.BarRepository,
	execLog *execlog.Repository,
	modules []Module,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		db:      db,
		repo:    repo,
		stage1:  stage1Repo,
		bars:    bars,
		execLog: execLog,
		modules: modules,
		log:     log.With().Str("component", "stage2").Logger(),
		now:     time.Now,
	}
}

// Result summarizes one scoring run.
type Result struct {
	Region  domain.Region
	Scored  int
	Buys    int
	Watches int
	Elapsed time.Duration
}

// Run scores every Stage-1 passer for filterDate. Per-ticker results commit
// individually so a crash keeps completed work.
func (e *Engine) Run(region domain.Region, filterDate string) (*Result, error) {
	started := e.now()

	passers, err := e.stage1.Load(region, filterDate, true)
	if err != nil {
		return nil, err
	}

	res := &Result{Region: region}
	for _, passer := range passers {
		entry, err := e.ScoreTicker(passer.Ticker, region)
		if err != nil {
			e.log.Debug().Err(err).Str("ticker", passer.Ticker).Msg("Scoring skipped")
			continue
		}
		res.Scored++
		switch entry.Recommendation {
		case domain.RecommendBuy:
			res.Buys++
		case domain.RecommendWatch:
			res.Watches++
		}
	}

	res.Elapsed = e.now().Sub(started)
	if err := e.execLog.Record(2, region, len(passers), res.Buys+res.Watches, res.Elapsed); err != nil {
		e.log.Warn().Err(err).Msg("Failed to record execution log")
	}

	e.log.Info().Str("region", string(region)).Int("scored", res.Scored).
		Int("buys", res.Buys).Int("watches", res.Watches).
		Dur("elapsed", res.Elapsed).Msg("Stage 2 complete")
	return res, nil
}

// ScoreTicker runs every module over one ticker's history and persists the
// result.
func (e *Engine) ScoreTicker(ticker string, region domain.Region) (*Entry, error) {
	started := e.now()

	bars, err := e.bars.Bars(ticker, domain.TimeframeDaily, collector.RetentionRows)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, domain.NewInsufficientDataError(ticker + ": no bar history")
	}

	entry := &Entry{
		Ticker:         ticker,
		Region:         region,
		CacheTimestamp: started.Unix(),
		ModuleScores:   make(map[string]int, len(e.modules)),
	}

	explanations := make(map[string]string, len(e.modules))
	total := 0
	for _, mod := range e.modules {
		score, why := mod.Score(bars)
		score = clampScore(score, mod.MaxPoints())
		entry.ModuleScores[mod.Name()] = score
		explanations[mod.Name()] = why
		total += score
	}
	entry.TotalScore = total
	entry.Recommendation = Classify(total)
	entry.MarketRegime, entry.VolatilityRegime = regimeLabels(bars)

	match := DetectPattern(bars)
	entry.DetectedPattern = match.Pattern
	entry.PatternConfidence = match.Confidence

	blob, err := json.Marshal(explanations)
	if err != nil {
		blob = []byte("{}")
	}
	entry.ScoreExplanations = string(blob)
	entry.ExecutionTimeMs = e.now().Sub(started).Milliseconds()

	err = database.WithTransaction(e.db.Conn(), func(tx *sql.Tx) error {
		return e.repo.InsertTx(tx, *entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
