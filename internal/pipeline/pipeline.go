// Package pipeline orchestrates the staged screen: Stage 0 market-cap
// filter, OHLCV collection, Stage 1 technical filter, Stage 2 scoring, and
// position sizing. Stages communicate only through the database so each can
// be re-invoked independently.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/calendar"
	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/internal/modules/collector"
	"github.com/jihoonkang/stockpipe/internal/modules/sizing"
	"github.com/jihoonkang/stockpipe/internal/modules/stage0"
	"github.com/jihoonkang/stockpipe/internal/modules/stage1"
	"github.com/jihoonkang/stockpipe/internal/modules/stage2"
)

// Mode selects the orchestrator entry point.
type Mode string

const (
	ModeStage0 Mode = "stage0"
	ModeStage1 Mode = "stage1"
	ModeFull   Mode = "full"
)

// Options tune a pipeline run.
type Options struct {
	Mode               Mode
	Region             domain.Region
	ForceRefresh       bool
	SkipDataCollection bool
	TestSample         int  // truncate stage0 passers to top N by market cap; 0 = all
	WithScoring        bool // run stage2 + sizing after stage1 (full mode implies it)
	RiskProfile        sizing.RiskProfile
}

// Orchestrator wires the stages together.
type Orchestrator struct {
	db        *database.DB
	calendar  *calendar.Service
	stage0    *stage0.Scanner
	stage0s   *stage0.Repository
	collector *collector.Collector
	stage1    *stage1.Runner
	stage2    *stage2.Engine
	stage2s   *stage2.Repository
	sizer     *sizing.Sizer
	log       zerolog.Logger
	now       func() time.Time
}

// New creates an orchestrator over already-wired stage components.
func New(
	db *database.DB,
	cal *calendar.Service,
	s0 *stage0.Scanner,
	s0repo *stage0.Repository,
	coll *collector.Collector,
	s1 *stage1.Runner,
	s2 *stage2.Engine,
	s2repo *stage2.Repository,
	sizer *sizing.Sizer,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:        db,
		calendar:  cal,
		stage0:    s0,
		stage0s:   s0repo,
		collector: coll,
		stage1:    s1,
		stage2:    s2,
		stage2s:   s2repo,
		sizer:     sizer,
		log:       log.With().Str("component", "pipeline").Logger(),
		now:       time.Now,
	}
}

// RunReport aggregates the per-stage results of one run.
type RunReport struct {
	Region       domain.Region
	FilterDate   string
	Stage0       *stage0.Result
	Collection   *collector.RunStats
	Stage1       *stage1.Result
	Stage2       *stage2.Result
	Sizing       []SizedCandidate
	TotalElapsed time.Duration
}

// SizedCandidate pairs a BUY recommendation with its position size.
type SizedCandidate struct {
	Entry stage2.Entry
	Size  sizing.Recommendation
}

// Run executes the selected mode for one region.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*RunReport, error) {
	started := o.now()
	report := &RunReport{Region: opts.Region}

	s0res, err := o.stage0.Run(ctx, opts.Region, opts.ForceRefresh)
	if err != nil {
		return report, err
	}
	report.Stage0 = s0res
	report.FilterDate = s0res.FilterDate

	if opts.Mode == ModeStage0 {
		report.TotalElapsed = o.now().Sub(started)
		return report, nil
	}

	// Reload survivors from the DB rather than passing them in memory, so a
	// stage1-only re-run sees exactly what stage0 committed.
	survivors, err := o.stage0s.Load(opts.Region, s0res.FilterDate, true)
	if err != nil {
		return report, err
	}
	if opts.TestSample > 0 && len(survivors) > opts.TestSample {
		survivors = survivors[:opts.TestSample] // already DESC by market cap
		o.log.Info().Int("sample", opts.TestSample).Msg("Truncated to test sample")
	}

	if !opts.SkipDataCollection {
		targets := make([]collector.Target, len(survivors))
		for i, s := range survivors {
			targets[i] = collector.Target{Ticker: s.Ticker, Region: s.Region, Exchange: s.Exchange}
		}
		collRes, err := o.collector.Run(ctx, targets)
		if err != nil {
			return report, err
		}
		report.Collection = collRes
	}

	s1res, err := o.stage1.Run(opts.Region, s0res.FilterDate)
	if err != nil {
		return report, err
	}
	report.Stage1 = s1res

	if opts.Mode == ModeFull || opts.WithScoring {
		s2res, err := o.stage2.Run(opts.Region, s0res.FilterDate)
		if err != nil {
			return report, err
		}
		report.Stage2 = s2res

		profile := opts.RiskProfile
		if profile == "" {
			profile = sizing.ProfileModerate
		}
		latest, err := o.stage2s.Latest(opts.Region, 0)
		if err != nil {
			return report, err
		}
		for _, entry := range latest {
			if entry.Recommendation != domain.RecommendBuy {
				continue
			}
			report.Sizing = append(report.Sizing, SizedCandidate{
				Entry: entry,
				Size:  o.sizer.Size(entry, profile),
			})
		}
	}

	report.TotalElapsed = o.now().Sub(started)
	o.log.Info().Str("region", string(opts.Region)).Str("mode", string(opts.Mode)).
		Dur("elapsed", report.TotalElapsed).Msg("Pipeline run complete")
	return report, nil
}
