// Package scheduler runs the pipeline on a cron schedule: one full run per
// region shortly after its market close, plus a nightly maintenance job.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/internal/pipeline"
)

// regionSchedules fire ~30 minutes after each exchange's close, expressed in
// the exchange's own timezone via the CRON_TZ prefix.
var regionSchedules = map[domain.Region]string{
	domain.RegionKR: "CRON_TZ=Asia/Seoul 0 16 * * MON-FRI",
	domain.RegionJP: "CRON_TZ=Asia/Tokyo 30 15 * * MON-FRI",
	domain.RegionCN: "CRON_TZ=Asia/Shanghai 30 15 * * MON-FRI",
	domain.RegionHK: "CRON_TZ=Asia/Hong_Kong 30 16 * * MON-FRI",
	domain.RegionVN: "CRON_TZ=Asia/Ho_Chi_Minh 30 15 * * MON-FRI",
	domain.RegionUS: "CRON_TZ=America/New_York 30 16 * * MON-FRI",
}

// maintenanceSchedule checkpoints the WAL during the quietest window (UTC).
const maintenanceSchedule = "0 20 * * *"

// Scheduler owns the cron loop.
type Scheduler struct {
	orchestrator *pipeline.Orchestrator
	db           *database.DB
	cron         *cron.Cron
	log          zerolog.Logger

	mu      sync.Mutex
	running map[domain.Region]bool
}

// New creates the scheduler. Jobs are registered on Start.
func New(orch *pipeline.Orchestrator, db *database.DB, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		orchestrator: orch,
		db:           db,
		cron:         cron.New(),
		log:          log.With().Str("component", "scheduler").Logger(),
		running:      make(map[domain.Region]bool),
	}
}

// Start registers every region's job and runs the cron loop until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	for region, spec := range regionSchedules {
		region := region
		_, err := s.cron.AddFunc(spec, func() { s.runRegion(ctx, region) })
		if err != nil {
			return err
		}
		s.log.Info().Str("region", string(region)).Str("schedule", spec).Msg("Job registered")
	}
	if _, err := s.cron.AddFunc(maintenanceSchedule, s.runMaintenance); err != nil {
		return err
	}

	s.cron.Start()
	<-ctx.Done()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done() // wait for in-flight jobs
	s.log.Info().Msg("Scheduler stopped")
	return nil
}

// runRegion executes one full pipeline run. Overlapping runs for the same
// region are skipped, not queued.
func (s *Scheduler) runRegion(ctx context.Context, region domain.Region) {
	s.mu.Lock()
	if s.running[region] {
		s.mu.Unlock()
		s.log.Warn().Str("region", string(region)).Msg("Previous run still in progress, skipping")
		return
	}
	s.running[region] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[region] = false
		s.mu.Unlock()
	}()

	s.log.Info().Str("region", string(region)).Msg("Scheduled pipeline run starting")
	report, err := s.orchestrator.Run(ctx, pipeline.Options{
		Mode:        pipeline.ModeFull,
		Region:      region,
		WithScoring: true,
	})
	if err != nil {
		s.log.Error().Err(err).Str("region", string(region)).Msg("Scheduled run failed")
		return
	}
	s.log.Info().Str("region", string(region)).Str("filter_date", report.FilterDate).
		Dur("elapsed", report.TotalElapsed).Msg("Scheduled run complete")
}

func (s *Scheduler) runMaintenance() {
	if err := s.db.WALCheckpoint("TRUNCATE"); err != nil {
		s.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}
	if err := s.db.IncrementalVacuum(); err != nil {
		s.log.Warn().Err(err).Msg("Incremental vacuum failed")
	}
	s.log.Info().Msg("Maintenance complete")
}
