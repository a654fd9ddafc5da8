package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rpeltola/slostat/internal/api"
	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/burnrate"
	"github.com/rpeltola/slostat/internal/config"
	"github.com/rpeltola/slostat/internal/ingest"
	"github.com/rpeltola/slostat/internal/metrics"
	"github.com/rpeltola/slostat/internal/report"
	"github.com/rpeltola/slostat/internal/scheduler"
	"github.com/rpeltola/slostat/internal/storage/sqlite"
	"github.com/rpeltola/slostat/internal/store"
	"github.com/rpeltola/slostat/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the server config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "slostat-server: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "slostat-server: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	calc, err := budget.New(budget.Config{
		AtRiskThreshold:   cfg.Budget.AtRiskThreshold,
		BreachedThreshold: cfg.Budget.BreachedThreshold,
	})
	if err != nil {
		return err
	}
	analyzer, err := burnrate.New(burnrate.Config{
		CriticalThreshold: cfg.BurnRate.CriticalThreshold,
		WarningThreshold:  cfg.BurnRate.WarningThreshold,
	})
	if err != nil {
		return err
	}

	st := store.New()
	set := metrics.NewSet()
	set.RegisterStoreGauges(st)

	sched := scheduler.New(calc, analyzer, st, logger, scheduler.Options{
		Directory:        cfg.SLO.Directory,
		DefaultInterval:  cfg.SLO.EvaluationInterval,
		CacheTTL:         cfg.SLO.CacheTTL,
		ShortWindowHours: cfg.BurnRate.ShortWindowHours,
		LongWindowHours:  cfg.BurnRate.LongWindowHours,
		Retention:        cfg.Storage.Retention,
		PruneInterval:    cfg.Storage.PruneInterval,
	})
	sched.SetMetrics(set)

	if cfg.Storage.Path != "" {
		hist, err := sqlite.NewStore(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer hist.Close()
		sched.SetHistoryStore(hist)
		logger.Info("evaluation history enabled", zap.String("path", cfg.Storage.Path))
	}

	if err := sched.LoadDefinitions(); err != nil {
		return fmt.Errorf("load SLO definitions: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SLO.Watch {
		go func() {
			if err := sched.Watch(ctx); err != nil {
				logger.Error("definition watcher stopped", zap.Error(err))
			}
		}()
	}

	if len(cfg.Scrape.Targets) > 0 {
		scraper := ingest.New(cfg.Scrape, st, set, logger)
		go scraper.Run(ctx)
		logger.Info("scrape loop started", zap.Int("targets", len(cfg.Scrape.Targets)))
	}

	hub := ws.New(sched.Cache(), cfg.Stream.BroadcastInterval)
	go hub.Run(ctx)

	apiServer := api.NewServer(api.Deps{
		Scheduler: sched,
		Store:     st,
		Calc:      calc,
		Analyzer:  analyzer,
		Builder:   report.NewBuilder(calc, analyzer),
		Metrics:   set,
		Stream:    hub,
		Logger:    logger,
	}, api.Options{
		Addr:             cfg.Server.Address(),
		ShortWindowHours: cfg.BurnRate.ShortWindowHours,
		LongWindowHours:  cfg.BurnRate.LongWindowHours,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level.SetLevel(level)
	return zcfg.Build()
}
