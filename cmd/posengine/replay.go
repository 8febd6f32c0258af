package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/alerting"
	"github.com/tathienbao/position-engine/internal/backtest"
	"github.com/tathienbao/position-engine/internal/config"
	"github.com/tathienbao/position-engine/internal/engine"
	"github.com/tathienbao/position-engine/internal/execution"
	"github.com/tathienbao/position-engine/internal/metrics"
	"github.com/tathienbao/position-engine/internal/observer"
	"github.com/tathienbao/position-engine/internal/persistence"
	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/types"
	"github.com/tathienbao/position-engine/internal/ui"
)

func cmdReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	dataPath := fs.String("data", "", "Path to CSV data file (required)")
	equity := fs.Float64("equity", 10000, "Starting equity for the results")
	verbose := fs.Bool("verbose", false, "Verbose output")
	liveView := fs.Bool("ui", false, "Draw a live chart while replaying (terminal only)")
	fs.Parse(args)

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --data is required")
		fs.Usage()
		os.Exit(1)
	}

	// Setup logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	if *liveView && !ui.IsTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr, "Warning: --ui needs a terminal, ignoring")
		*liveView = false
	}
	if *liveView {
		// Log lines would tear the chart
		logLevel = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := replayOptions{
		dataPath: *dataPath,
		equity:   decimal.NewFromFloat(*equity),
		liveView: *liveView,
	}
	if err := replay(ctx, cfg, opts, logger); err != nil {
		slog.Error("replay failed", "err", err)
		os.Exit(1)
	}
}

type replayOptions struct {
	dataPath string
	equity   decimal.Decimal
	liveView bool
}

func replay(ctx context.Context, cfg *config.Config, opts replayOptions, logger *slog.Logger) error {
	spec := cfg.Instrument()
	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	slog.Info("position engine starting",
		"version", Version,
		"instrument", spec.Symbol,
		"plan", cfg.ToPlan().String(),
		"data", opts.dataPath,
	)

	cal, err := cfg.Calendar()
	if err != nil {
		return fmt.Errorf("session calendar: %w", err)
	}

	// Alerting
	channels, err := buildChannels(cfg, logger)
	if err != nil {
		return err
	}
	var alerter alerting.Alerter
	var notifier *alerting.Notifier
	if channels != nil {
		alerter = channels
		notifier = alerting.NewNotifier(channels, cfg.MinAlertSeverity(), logger)
		notifier.SetEventFilter(func(e alerting.AlertEvent) bool {
			return cfg.IsAlertEventEnabled(string(e))
		})
	}

	// Position manager, driven by market time
	clock := engine.NewMarketClock(time.Time{})
	deps := position.Dependencies{
		Fees:     cfg.Fees(),
		Calendar: cal,
		Clock:    clock.Now,
	}
	if notifier != nil {
		deps.Sink = notifier
	}
	manager, err := position.NewManager(cfg.ToPositionConfig(), deps, logger)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	venue := execution.NewSimulatedVenue(cfg.ToVenueConfig(), logger)
	venue.Bind(manager)
	manager.Subscribe(venue)

	// Persistence
	var journal *persistence.Journal
	if cfg.Persistence.Enabled {
		repo, err := openRepository(ctx, cfg)
		if err != nil {
			return err
		}
		defer repo.Close()

		report, err := persistence.Recover(ctx, repo)
		if err != nil {
			return fmt.Errorf("recover: %w", err)
		}
		if !report.Clean() {
			slog.Warn("previous run left state behind",
				"open_positions", len(report.OpenPositions),
				"live_orders", len(report.LiveOrders),
			)
			if notifier != nil {
				notifier.Send(alerting.EventRecoveryRequired, "Previous run left state behind",
					"open_positions", len(report.OpenPositions),
					"live_orders", len(report.LiveOrders),
				)
			}
		}

		journal = persistence.NewJournal(repo, logger)
		manager.Subscribe(journal)
	}

	// Metrics
	manager.Subscribe(metrics.NewObserver(metrics.NewRecorder()))
	if cfg.Metrics.Enabled {
		hub := metrics.NewHub(logger)
		defer hub.Close()
		manager.Subscribe(hub)

		serverCfg := metrics.DefaultServerConfig()
		serverCfg.Port = cfg.Metrics.Port
		serverCfg.MetricsPath = cfg.Metrics.Path
		serverCfg.EventsPath = cfg.Metrics.EventsPath
		serverCfg.PositionPath = cfg.Metrics.PositionPath
		server := metrics.NewServer(serverCfg, logger)
		server.HandleEvents(hub)
		server.HandlePosition(manager.GetView)
		if journal != nil {
			server.RegisterHealthCheck("journal", func() metrics.Check {
				if n := journal.Errors(); n > 0 {
					return metrics.Check{Status: metrics.StatusDegraded, Message: fmt.Sprintf("%d failed writes", n)}
				}
				return metrics.Check{Status: metrics.StatusOK}
			})
		}
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Warn("metrics server shutdown", "err", err)
			}
		}()
	}

	if notifier != nil {
		manager.Subscribe(notifier)
	}

	// Market data
	feed := observer.NewCSVFeed(opts.dataPath, spec.Symbol, cal.Location)
	if err := feed.Load(); err != nil {
		return fmt.Errorf("load data: %w", err)
	}
	slog.Info("market data loaded", "bars", feed.EventCount(), "skipped_rows", feed.Skipped())
	for _, rowErr := range feed.RowErrors() {
		slog.Debug("skipped row", "line", rowErr.Line, "err", rowErr.Err)
	}
	source := observer.NewObserver(feed, observer.NewSanitizer(spec), logger)
	defer source.Close()

	eng := engine.NewEngine(engine.Config{
		Symbol:        spec.Symbol,
		Plan:          cfg.ToPlan(),
		StartEquity:   opts.equity,
		FlattenOnStop: cfg.Shutdown.FlattenOnShutdown,
	}, manager, venue, clock, alerter, logger)

	var view *ui.ReplayView
	if opts.liveView {
		view = ui.NewReplayView(os.Stdout, feed.EventCount(), opts.equity)
		manager.Subscribe(view)
		eng.AddBarObserver(view)
		view.Start()
	}

	if err := eng.Start(ctx, source); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	select {
	case <-eng.Finished():
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}
	if view != nil {
		view.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := eng.Stop(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	final := manager.GetView()
	if final.State.HasExposure() {
		slog.Warn("position still open at end of replay",
			"position_id", final.ID,
			"state", final.State.String(),
			"quantity", final.OpenQuantity,
		)
	}
	if source.Dropped() > 0 {
		slog.Warn("bars dropped by sanitizer", "count", source.Dropped())
	}
	if journal != nil {
		slog.Info("journal", "writes", journal.Writes(), "errors", journal.Errors())
	}

	trades := eng.Trades()
	result := backtest.NewResult(trades, opts.equity)
	printReplayResults(result)
	printMetrics(backtest.NewMetrics(result, decimal.Zero))

	summary := alerting.NewSessionSummary(clock.Now(), spec.Symbol, trades, final.State.HasExposure())
	if channels != nil && cfg.IsAlertEventEnabled(string(alerting.EventSessionSummary)) {
		if err := channels.SendSummary(shutdownCtx, summary); err != nil {
			slog.Warn("failed to send session summary", "err", err)
		}
	}

	slog.Info("position engine shutdown complete")
	return nil
}

// buildChannels creates the configured alert channels. It returns nil when
// alerting is disabled or no channel is configured.
func buildChannels(cfg *config.Config, logger *slog.Logger) (*alerting.MultiAlerter, error) {
	if !cfg.Alerting.Enabled || len(cfg.Alerting.Channels) == 0 {
		return nil, nil
	}
	multi := alerting.NewMultiAlerter(logger)
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "console":
			multi.AddAlerter(alerting.NewConsoleAlerter(logger), ch.Floor())
		case "telegram":
			tg, err := alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			})
			if err != nil {
				return nil, fmt.Errorf("telegram alerter: %w", err)
			}
			multi.AddAlerter(tg, ch.Floor())
		default:
			return nil, fmt.Errorf("unknown alert channel %q", ch.Type)
		}
	}
	return multi, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (persistence.Repository, error) {
	var (
		repo persistence.Repository
		err  error
	)
	switch cfg.Persistence.Type {
	case "postgres":
		slog.Info("opening postgres journal", "dsn", persistence.RedactDSN(cfg.Persistence.DSN))
		repo, err = persistence.NewPostgresRepository(ctx, cfg.Persistence.DSN)
	default:
		slog.Info("opening sqlite journal", "path", cfg.Persistence.Path)
		repo, err = persistence.NewSQLiteRepository(cfg.Persistence.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

func printReplayResults(result *backtest.Result) {
	fmt.Println("\n=== REPLAY RESULTS ===")
	fmt.Printf("Starting Equity:  $%.2f\n", result.StartEquity.InexactFloat64())
	fmt.Printf("Ending Equity:    $%.2f\n", result.EndEquity.InexactFloat64())
	fmt.Printf("Gross P&L:        $%.2f\n", result.GrossPnL.InexactFloat64())
	fmt.Printf("Fees:             $%.2f\n", result.TotalFees.InexactFloat64())
	fmt.Printf("Net P&L:          $%.2f\n", result.NetPnL.InexactFloat64())
	fmt.Printf("Total Return:     %.2f%%\n", result.TotalReturn.Mul(decimal.NewFromInt(100)).InexactFloat64())
	fmt.Printf("Max Drawdown:     %.2f%% ($%.2f)\n",
		result.MaxDrawdown.Mul(decimal.NewFromInt(100)).InexactFloat64(),
		result.MaxDrawdownAmount.InexactFloat64())
	fmt.Println()
	fmt.Printf("Total Trades:     %d\n", result.TotalTrades)
	fmt.Printf("Winning Trades:   %d\n", result.WinningTrades)
	fmt.Printf("Losing Trades:    %d\n", result.LosingTrades)
	fmt.Printf("Win Rate:         %.2f%%\n", result.WinRate.Mul(decimal.NewFromInt(100)).InexactFloat64())
	fmt.Printf("Profit Factor:    %.2f\n", result.ProfitFactor.InexactFloat64())
	fmt.Printf("Slippage:         %.2f\n", result.TotalSlippage.InexactFloat64())

	if len(result.ExitReasons) == 0 {
		return
	}
	reasons := make([]types.ExitReason, 0, len(result.ExitReasons))
	for r := range result.ExitReasons {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	fmt.Println("\nExit Reasons:")
	for _, r := range reasons {
		fmt.Printf("  %-16s %d\n", r, result.ExitReasons[r])
	}
}

func printMetrics(m *backtest.Metrics) {
	fmt.Println("\n=== PERFORMANCE METRICS ===")
	fmt.Printf("Sharpe Ratio:     %.2f\n", m.SharpeRatio().InexactFloat64())
	fmt.Printf("Sortino Ratio:    %.2f\n", m.SortinoRatio().InexactFloat64())
	fmt.Printf("Calmar Ratio:     %.2f\n", m.CalmarRatio().InexactFloat64())
	fmt.Printf("Expectancy:       $%.2f\n", m.Expectancy().InexactFloat64())
	fmt.Printf("Avg Win:          $%.2f\n", m.AverageWin().InexactFloat64())
	fmt.Printf("Avg Loss:         $%.2f\n", m.AverageLoss().InexactFloat64())
	fmt.Printf("Avg Hold:         %s\n", m.AverageHold().Round(time.Second))
	fmt.Printf("Losing Streak:    %d\n", m.LongestLosingStreak())
}
