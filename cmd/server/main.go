package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"qtrader/internal/alert"
	"qtrader/internal/config"
	"qtrader/internal/core"
	"qtrader/internal/feed"
	"qtrader/internal/marketdata"
	"qtrader/internal/portfolio"
	"qtrader/internal/reconcile"
	"qtrader/pkg/concurrency"
	"qtrader/pkg/liveserver"
	"qtrader/pkg/logging"
	"qtrader/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "Path to configuration file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("qtrader server version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting qtrader server",
		"version", version,
		"feed_mode", cfg.Feed.Mode,
		"addr", cfg.Server.Addr,
	)

	if cfg.Telemetry.EnableMetrics {
		if err := telemetry.InitMetrics(); err != nil {
			logger.Warn("Failed to initialize metrics exporter", "error", err)
		} else {
			logger.Info("Metrics exporter initialized")
		}
	}

	group, ctx := errgroup.WithContext(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Reconciliation core
	quotes := marketdata.NewQuoteCache()
	greeks := marketdata.NewGreeksCache()
	agg := portfolio.NewAggregator(logger)

	notifyPool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "NotifyPool",
		MaxWorkers:  cfg.Concurrency.NotifyPoolSize,
		MaxCapacity: cfg.Concurrency.NotifyPoolBuffer,
		NonBlocking: true,
	}, logger)
	defer notifyPool.Stop()

	engine := reconcile.NewEngine(reconcile.Config{
		GreeksQueueSize:     cfg.Engine.GreeksQueueSize,
		PositionQueueSize:   cfg.Engine.PositionQueueSize,
		AccountQueueSize:    cfg.Engine.AccountQueueSize,
		MaintenanceInterval: time.Duration(cfg.Engine.MaintenanceIntervalSec) * time.Second,
		RedeliveryWindow:    time.Duration(cfg.Engine.RedeliveryWindowSec) * time.Second,
	}, quotes, greeks, agg, notifyPool, logger)

	// WebSocket hub and broadcaster
	hub := liveserver.NewHub(logger)
	broadcaster := NewBroadcaster(engine, quotes, hub,
		time.Duration(cfg.Timing.SnapshotRefreshSec)*time.Second,
		time.Duration(cfg.Timing.StatusIntervalSec)*time.Second,
		logger)
	engine.OnUpdate(broadcaster.HandleUpdate)

	go hub.Run(ctx)
	group.Go(func() error {
		if err := engine.Run(ctx); err != nil {
			logger.Error("Engine stopped with error", "error", err)
			return err
		}
		return nil
	})
	group.Go(func() error { return broadcaster.Run(ctx) })

	// Alerting
	if cfg.Alerts.Enabled {
		manager := alert.NewAlertManager(logger)
		manager.AddChannel(&hubAlertChannel{hub: hub})
		if cfg.Alerts.SlackWebhookURL != "" {
			manager.AddChannel(alert.NewSlackChannel(string(cfg.Alerts.SlackWebhookURL)))
			logger.Info("Slack alert channel enabled")
		}
		if cfg.Alerts.TelegramBotToken != "" {
			manager.AddChannel(alert.NewTelegramChannel(string(cfg.Alerts.TelegramBotToken), cfg.Alerts.TelegramChatID))
			logger.Info("Telegram alert channel enabled")
		}
		if cfg.Alerts.JournalPath != "" {
			journal, err := alert.NewJournal(cfg.Alerts.JournalPath)
			if err != nil {
				logger.Error("Failed to open alert journal", "error", err, "path", cfg.Alerts.JournalPath)
				os.Exit(1)
			}
			defer journal.Close()
			manager.AddChannel(journal)
			logger.Info("Alert journal enabled", "path", cfg.Alerts.JournalPath)
		}

		evaluator := alert.NewEvaluator(evaluatorConfig(cfg), engine, quotes, manager, logger)
		group.Go(func() error {
			if err := evaluator.Run(ctx); err != nil {
				logger.Error("Alert evaluator stopped with error", "error", err)
				return err
			}
			return nil
		})
		logger.Info("Alert evaluator started")
	}

	// Upstream feed
	if cfg.Feed.Mode == "simulator" {
		sim := feed.NewSimulator(feed.SimulatorConfig{
			Symbols:      cfg.Feed.Symbols,
			Accounts:     cfg.App.Accounts,
			TickInterval: time.Duration(cfg.Feed.TickIntervalMs) * time.Millisecond,
			Seed:         cfg.Feed.Seed,
		}, logger)
		group.Go(func() error {
			if err := sim.Run(ctx, engine); err != nil {
				logger.Error("Feed simulator stopped with error", "error", err)
				return err
			}
			return nil
		})
	}

	// HTTP/WebSocket server
	server := liveserver.NewServer(hub, logger, cfg.Server.AllowedOrigins)
	if cfg.Server.StaticDir != "" {
		server.SetStaticDir(cfg.Server.StaticDir)
	}
	server.SetProduction(cfg.Server.Production)
	if cfg.Server.MaxConnections > 0 {
		server.SetMaxConnections(cfg.Server.MaxConnections)
	}
	if cfg.Server.RateLimit > 0 {
		server.SetRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	go func() {
		if err := server.Start(ctx, cfg.Server.Addr); err != nil {
			logger.Error("Server error", "error", err)
			cancel()
		}
	}()

	logger.Info("qtrader server is running",
		"websocket_url", fmt.Sprintf("ws://localhost%s/ws", cfg.Server.Addr),
		"health_url", fmt.Sprintf("http://localhost%s/health", cfg.Server.Addr),
		"metrics_url", fmt.Sprintf("http://localhost%s/metrics", cfg.Server.Addr),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal, gracefully shutting down...")
	case <-ctx.Done():
		logger.Info("Shutting down after component failure")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", "error", err)
	}
	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Warn("Background task exited with error", "error", err)
	}

	logger.Info("qtrader server stopped")
}

func evaluatorConfig(cfg *config.Config) alert.EvaluatorConfig {
	ec := alert.DefaultEvaluatorConfig()
	a := cfg.Alerts
	if a.EvaluateIntervalSec > 0 {
		ec.Interval = time.Duration(a.EvaluateIntervalSec) * time.Second
	}
	if a.PositionLossPct > 0 {
		ec.PositionLossPct = a.PositionLossPct
	}
	if a.DayLossPct > 0 {
		ec.DayLossPct = a.DayLossPct
	}
	if a.ExpiryWindowDays > 0 {
		ec.ExpiryWindowDays = a.ExpiryWindowDays
	}
	if a.HighIV > 0 {
		ec.HighIV = a.HighIV
	}
	if a.MinVolume > 0 {
		ec.MinVolume = a.MinVolume
	}
	if a.MinBuyingPower > 0 {
		ec.MinBuyingPower = a.MinBuyingPower
	}
	if a.MaxMarginPct > 0 {
		ec.MaxMarginPct = a.MaxMarginPct
	}
	if a.StaleQuoteSec > 0 {
		ec.StaleQuoteAge = time.Duration(a.StaleQuoteSec) * time.Second
	}
	if a.CooldownSec > 0 {
		ec.Cooldown = time.Duration(a.CooldownSec) * time.Second
	}
	if a.AlertsPerMinute > 0 {
		ec.AlertsPerMinute = a.AlertsPerMinute
	}
	return ec
}

var _ core.IFeedSource = (*feed.Simulator)(nil)
