// Command stockpipe runs the multi-region equity screening pipeline: staged
// filters, OHLCV collection, scoring, position sizing, plus the blacklist
// tooling, the status API server, and the cron daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/internal/masterfile"
	"github.com/jihoonkang/stockpipe/internal/modules/collector"
	"github.com/jihoonkang/stockpipe/internal/modules/sizing"
	"github.com/jihoonkang/stockpipe/internal/pipeline"
	"github.com/jihoonkang/stockpipe/internal/scheduler"
	"github.com/jihoonkang/stockpipe/internal/server"
)

// Exit codes: 0 success, 1 fatal, 130 user cancel.
const exitCancel = 130

var (
	flagDBPath       string
	flagRegion       string
	flagForceRefresh bool
	flagDebug        bool
)

func main() {
	root := &cobra.Command{
		Use:           "stockpipe",
		Short:         "Multi-region equity screening and execution pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDBPath, "db-path", "", "override database file path")
	root.PersistentFlags().StringVar(&flagRegion, "region", "KR", "market region (KR, US, HK, CN, JP, VN)")
	root.PersistentFlags().BoolVar(&flagForceRefresh, "force-refresh", false, "ignore cached snapshots")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	root.AddCommand(
		newStage0Cmd(),
		newStage1Cmd(),
		newPipelineCmd(),
		newCollectCmd(),
		newMasterfileCmd(),
		newStatusCmd(),
		newBlacklistCmd(),
		newServeCmd(),
		newScheduleCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "cancelled")
			os.Exit(exitCancel)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func parseRegionFlag() (domain.Region, error) {
	return domain.ParseRegion(flagRegion)
}

func newStage0Cmd() *cobra.Command {
	var topN int
	cmd := &cobra.Command{
		Use:   "stage0",
		Short: "Run the market-cap/liquidity filter and print the top passers",
		RunE: func(cmd *cobra.Command, args []string) error {
			region, err := parseRegionFlag()
			if err != nil {
				return err
			}
			a, err := buildApp(flagDBPath, flagDebug)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.orchestrator.Run(cmd.Context(), pipeline.Options{
				Mode:         pipeline.ModeStage0,
				Region:       region,
				ForceRefresh: flagForceRefresh,
			})
			if err != nil {
				return err
			}
			printStage0Summary(a, report, topN)
			return nil
		},
	}
	cmd.Flags().IntVar(&topN, "top", 20, "passers to print, by KRW market cap")
	return cmd
}

func newStage1Cmd() *cobra.Command {
	var skipCollection bool
	var testSample int
	cmd := &cobra.Command{
		Use:   "stage1",
		Short: "Run stage 0, data collection, and the technical filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			region, err := parseRegionFlag()
			if err != nil {
				return err
			}
			a, err := buildApp(flagDBPath, flagDebug)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.orchestrator.Run(cmd.Context(), pipeline.Options{
				Mode:               pipeline.ModeStage1,
				Region:             region,
				ForceRefresh:       flagForceRefresh,
				SkipDataCollection: skipCollection,
				TestSample:         testSample,
			})
			if err != nil {
				return err
			}
			printRunReport(report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipCollection, "skip-data-collection", false, "reuse stored OHLCV history")
	cmd.Flags().IntVar(&testSample, "test-sample", 0, "truncate stage0 passers to top N")
	return cmd
}

func newPipelineCmd() *cobra.Command {
	var mode string
	var skipCollection, withScoring bool
	var testSample int
	var profile string
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run the staged pipeline end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			region, err := parseRegionFlag()
			if err != nil {
				return err
			}
			pipelineMode := pipeline.Mode(strings.ToLower(mode))
			switch pipelineMode {
			case pipeline.ModeStage0, pipeline.ModeStage1, pipeline.ModeFull:
			default:
				return fmt.Errorf("unknown pipeline mode %q (stage0, stage1, full)", mode)
			}

			a, err := buildApp(flagDBPath, flagDebug)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.orchestrator.Run(cmd.Context(), pipeline.Options{
				Mode:               pipelineMode,
				Region:             region,
				ForceRefresh:       flagForceRefresh,
				SkipDataCollection: skipCollection,
				TestSample:         testSample,
				WithScoring:        withScoring,
				RiskProfile:        sizing.RiskProfile(strings.ToUpper(profile)),
			})
			if err != nil {
				return err
			}
			printRunReport(report)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "pipeline", "full", "pipeline mode: stage0, stage1, full")
	cmd.Flags().BoolVar(&skipCollection, "skip-data-collection", false, "reuse stored OHLCV history")
	cmd.Flags().BoolVar(&withScoring, "with-scoring", false, "run stage2 scoring after stage1")
	cmd.Flags().IntVar(&testSample, "test-sample", 0, "truncate stage0 passers to top N")
	cmd.Flags().StringVar(&profile, "risk-profile", "MODERATE", "risk profile for position sizing")
	return cmd
}

func newCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Refresh OHLCV history for the latest stage0 passers",
		RunE: func(cmd *cobra.Command, args []string) error {
			region, err := parseRegionFlag()
			if err != nil {
				return err
			}
			a, err := buildApp(flagDBPath, flagDebug)
			if err != nil {
				return err
			}
			defer a.close()

			filterDate, _, err := a.stage0Repo.LatestSnapshot(region)
			if err != nil {
				return err
			}
			if filterDate == "" {
				return fmt.Errorf("no stage0 snapshot for %s; run stage0 first", region)
			}
			survivors, err := a.stage0Repo.Load(region, filterDate, true)
			if err != nil {
				return err
			}
			targets := make([]collector.Target, len(survivors))
			for i, s := range survivors {
				targets[i] = collector.Target{Ticker: s.Ticker, Region: s.Region, Exchange: s.Exchange}
			}

			stats, err := a.collector.Run(cmd.Context(), targets)
			if err != nil {
				return err
			}
			fmt.Printf("collected %d/%d tickers (%d skipped, %d failed)\n",
				stats.Fetched, stats.Processed, stats.Skipped, stats.Failed)
			return nil
		},
	}
	return cmd
}

func newMasterfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "masterfile",
		Short: "Refresh the region's master files and sync the ticker universe",
		RunE: func(cmd *cobra.Command, args []string) error {
			region, err := parseRegionFlag()
			if err != nil {
				return err
			}
			markets, ok := masterfile.MarketCodes[region]
			if !ok {
				return fmt.Errorf("no master files exist for %s; its universe comes from the broker API", region)
			}

			a, err := buildApp(flagDBPath, flagDebug)
			if err != nil {
				return err
			}
			defer a.close()

			for _, market := range markets {
				records, err := a.masterfiles.EnsureFresh(market)
				if err != nil {
					return fmt.Errorf("master file %s: %w", market, err)
				}

				tickers := make([]domain.Ticker, 0, len(records))
				for _, rec := range records {
					name := rec.Name
					if name == "" {
						name = rec.EnglishName
					}
					lot := rec.LotSize
					if lot < 1 {
						lot = 1
					}
					tickers = append(tickers, domain.Ticker{
						Ticker:    rec.Ticker,
						Region:    region,
						Name:      name,
						Exchange:  rec.Exchange,
						Currency:  rec.Currency,
						AssetType: domain.AssetStock,
						LotSize:   lot,
						IsActive:  true,
					})
				}
				if err := a.tickers.BulkUpsert(tickers); err != nil {
					return fmt.Errorf("upsert %s tickers: %w", market, err)
				}
				fmt.Printf("%s: %d stock records synced\n", market, len(tickers))
			}
			return nil
		},
	}
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print cache freshness and host health",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(flagDBPath, flagDebug)
			if err != nil {
				return err
			}
			defer a.close()

			status, err := a.orchestrator.Status()
			if err != nil {
				return err
			}
			for _, rs := range status.Regions {
				fmt.Printf("%-3s %-8s stage0=%s (%.1fh old, %d passed) ohlcv=%d tickers newest=%s\n",
					rs.Region, rs.Health, orDash(rs.Stage0Date), rs.Stage0AgeH,
					rs.Stage0Passed, rs.OHLCVTickers, orDash(rs.OHLCVNewest))
			}
			if status.Database != nil {
				fmt.Printf("db: %.1f MB (+%.1f MB WAL), %d free pages\n",
					float64(status.Database.SizeBytes)/1e6,
					float64(status.Database.WALSizeBytes)/1e6,
					status.Database.FreelistCount)
			}
			fmt.Printf("host: cpu %.0f%%, mem %.0f%%, disk %.0f%%\n",
				status.Host.CPUPercent, status.Host.MemUsedPct, status.Host.DiskUsedPct)
			return nil
		},
	}
}

func newBlacklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Manage the dual blacklist",
	}

	var reason, addedBy, expires, notes string
	addCmd := &cobra.Command{
		Use:   "add TICKER",
		Short: "Add a ticker to the temporary blacklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			region, err := parseRegionFlag()
			if err != nil {
				return err
			}
			a, err := buildApp(flagDBPath, flagDebug)
			if err != nil {
				return err
			}
			defer a.close()

			var expireDate *time.Time
			if expires != "" {
				d, err := time.Parse("2006-01-02", expires)
				if err != nil {
					return fmt.Errorf("bad --expires date: %w", err)
				}
				expireDate = &d
			}
			if !a.blacklist.Add(args[0], region, reason, addedBy, expireDate, notes) {
				return fmt.Errorf("rejected: %q is not a valid %s ticker", args[0], region)
			}
			fmt.Printf("blacklisted %s (%s)\n", args[0], region)
			return nil
		},
	}
	addCmd.Flags().StringVar(&reason, "reason", "manual", "why the ticker is blocked")
	addCmd.Flags().StringVar(&addedBy, "by", "cli", "who added the entry")
	addCmd.Flags().StringVar(&expires, "expires", "", "expiry date (YYYY-MM-DD); empty = permanent-until-removed")
	addCmd.Flags().StringVar(&notes, "notes", "", "free-form notes")

	removeCmd := &cobra.Command{
		Use:   "remove TICKER",
		Short: "Remove a ticker from the temporary blacklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			region, err := parseRegionFlag()
			if err != nil {
				return err
			}
			a, err := buildApp(flagDBPath, flagDebug)
			if err != nil {
				return err
			}
			defer a.close()

			if !a.blacklist.Remove(args[0], region) {
				return fmt.Errorf("%s (%s) was not blacklisted", args[0], region)
			}
			fmt.Printf("removed %s (%s)\n", args[0], region)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Summarize blacklist entries per region",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(flagDBPath, flagDebug)
			if err != nil {
				return err
			}
			defer a.close()

			for _, s := range a.blacklist.Summary() {
				fmt.Printf("%-3s permanent=%d temporary=%d\n", s.Region, s.Permanent, s.Temporary)
			}
			return nil
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Drop expired temporary entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(flagDBPath, flagDebug)
			if err != nil {
				return err
			}
			defer a.close()

			removed := a.blacklist.CleanupExpired()
			fmt.Printf("removed %d expired entries\n", removed)
			return nil
		},
	}

	cmd.AddCommand(addCmd, removeCmd, listCmd, cleanupCmd)
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(flagDBPath, flagDebug)
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = fmt.Sprintf(":%d", a.cfg.Port)
			}
			srv := server.New(addr, a.orchestrator, a.stage0Repo, a.stage1Repo,
				a.stage2Repo, a.blacklist, a.log)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$STOCKPIPE_PORT)")
	return cmd
}

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the cron daemon: a full pipeline per region after its market close",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(flagDBPath, flagDebug)
			if err != nil {
				return err
			}
			defer a.close()

			sched := scheduler.New(a.orchestrator, a.db, a.log)
			return sched.Start(cmd.Context())
		},
	}
}

func printStage0Summary(a *app, report *pipeline.RunReport, topN int) {
	res := report.Stage0
	fmt.Printf("stage0 %s %s: %d in, %d passed (source %s)\n",
		res.Region, res.FilterDate, res.Input, res.Passed, res.Source)

	entries, err := a.stage0Repo.Load(res.Region, res.FilterDate, true)
	if err != nil {
		return
	}
	if len(entries) > topN {
		entries = entries[:topN]
	}
	for i, e := range entries {
		fmt.Printf("%3d. %-10s %-24s cap %14d KRW  value %12d KRW\n",
			i+1, e.Ticker, truncate(e.Name, 24), e.MarketCapKRW, e.TradingValueKRW)
	}
}

func printRunReport(report *pipeline.RunReport) {
	if report.Stage0 != nil {
		fmt.Printf("stage0: %d in, %d passed\n", report.Stage0.Input, report.Stage0.Passed)
	}
	if report.Collection != nil {
		fmt.Printf("collect: %d fetched, %d skipped, %d failed\n",
			report.Collection.Fetched, report.Collection.Skipped, report.Collection.Failed)
	}
	if report.Stage1 != nil {
		fmt.Printf("stage1: %d in, %d passed, %d dropped\n",
			report.Stage1.Input, report.Stage1.Passed, report.Stage1.Dropped)
	}
	if report.Stage2 != nil {
		fmt.Printf("stage2: %d scored, %d BUY, %d WATCH\n",
			report.Stage2.Scored, report.Stage2.Buys, report.Stage2.Watches)
	}
	for _, c := range report.Sizing {
		fmt.Printf("  BUY %-10s score %3d  size %.1f%%  %s\n",
			c.Entry.Ticker, c.Entry.TotalScore, c.Size.PositionPercent, c.Entry.DetectedPattern)
	}
	fmt.Printf("total elapsed: %s\n", report.TotalElapsed.Round(time.Millisecond))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
