package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/blacklist"
	"github.com/jihoonkang/stockpipe/internal/calendar"
	"github.com/jihoonkang/stockpipe/internal/clients/broker"
	"github.com/jihoonkang/stockpipe/internal/config"
	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/masterfile"
	"github.com/jihoonkang/stockpipe/internal/modules/collector"
	"github.com/jihoonkang/stockpipe/internal/modules/execlog"
	"github.com/jihoonkang/stockpipe/internal/modules/fx"
	"github.com/jihoonkang/stockpipe/internal/modules/sizing"
	"github.com/jihoonkang/stockpipe/internal/modules/stage0"
	"github.com/jihoonkang/stockpipe/internal/modules/stage1"
	"github.com/jihoonkang/stockpipe/internal/modules/stage2"
	"github.com/jihoonkang/stockpipe/internal/modules/universe"
	"github.com/jihoonkang/stockpipe/internal/pipeline"
	"github.com/jihoonkang/stockpipe/pkg/logger"
)

// app holds the wired component graph for one CLI invocation.
type app struct {
	cfg          *config.Config
	log          zerolog.Logger
	db           *database.DB
	calendar     *calendar.Service
	broker       *broker.Client
	blacklist    *blacklist.Manager
	masterfiles  *masterfile.Manager
	tickers      *universe.TickerRepository
	stage0Repo   *stage0.Repository
	stage1Repo   *stage1.Repository
	stage2Repo   *stage2.Repository
	orchestrator *pipeline.Orchestrator
	collector    *collector.Collector
	sizer        *sizing.Sizer
}

// buildApp wires every component from configuration. dbPathOverride and
// debug come from global flags.
func buildApp(dbPathOverride string, debug bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if dbPathOverride != "" {
		cfg.DBPath = dbPathOverride
	}

	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, Pretty: cfg.DevMode})

	db, err := database.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	cal, err := calendar.NewServiceFromFile(cfg.MarketSchedulePath())
	if err != nil {
		db.Close()
		return nil, err
	}

	brokerClient := broker.New(broker.Config{
		BaseURL:        cfg.BaseURL,
		AppKey:         cfg.AppKey,
		AppSecret:      cfg.AppSecret,
		TokenCachePath: cfg.TokenCachePath(),
	}, log)

	masterFiles := masterfile.NewManager(cfg.MasterFileURL, cfg.MasterFileDir(), log)
	tickers := universe.NewTickerRepository(db.Conn(), log)
	bl := blacklist.NewManager(tickers, cfg.BlacklistPath(), log)
	fxService := fx.NewService(db.Conn(), brokerClient, log)
	execLog := execlog.NewRepository(db.Conn(), log)

	stage0Repo := stage0.NewRepository(db.Conn(), log)
	sources := buildSources(cfg, brokerClient, log)
	scanner := stage0.NewScanner(db, stage0Repo, tickers, bl, fxService, cal, execLog,
		sources, cfg.MarketFilterDir(), log)

	barRepo := collector.NewBarRepository(db.Conn(), log)
	coll := collector.NewCollector(db, barRepo, cal, brokerClient,
		collector.NewMockBarSource(cal), log)

	stage1Repo := stage1.NewRepository(db.Conn(), log)
	runner := stage1.NewRunner(db, stage1Repo, stage0Repo, barRepo, bl, execLog,
		stage1.DefaultParams(), log)

	stage2Repo := stage2.NewRepository(db.Conn(), log)
	engine := stage2.NewEngine(db, stage2Repo, stage1Repo, barRepo, execLog,
		stage2.DefaultModules(), log)

	sizer := sizing.NewSizer(db.Conn(), log)

	orch := pipeline.New(db, cal, scanner, stage0Repo, coll, runner, engine, stage2Repo, sizer, log)

	return &app{
		cfg:          cfg,
		log:          log,
		db:           db,
		calendar:     cal,
		broker:       brokerClient,
		blacklist:    bl,
		masterfiles:  masterFiles,
		tickers:      tickers,
		stage0Repo:   stage0Repo,
		stage1Repo:   stage1Repo,
		stage2Repo:   stage2Repo,
		orchestrator: orch,
		collector:    coll,
		sizer:        sizer,
	}, nil
}

// buildSources assembles the Stage-0 source cascade. The broker source leads
// only when credentials exist; the offline seed always anchors the tail.
func buildSources(cfg *config.Config, brokerClient *broker.Client, log zerolog.Logger) []stage0.Source {
	var sources []stage0.Source
	if cfg.HasCredentials() {
		sources = append(sources, stage0.NewBrokerSource(brokerClient, log))
	}
	if cfg.MarketDataURL != "" {
		sources = append(sources,
			stage0.NewMarketDataSource(cfg.MarketDataURL, log),
			stage0.NewPagedMarketDataSource(cfg.MarketDataURL, log))
	}
	return append(sources, stage0.NewOfflineSource(log))
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}
