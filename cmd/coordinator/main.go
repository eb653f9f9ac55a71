// Package main is the entry point for the botfleet coordinator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"botfleet/internal/config"
	"botfleet/internal/coordinator"
	"botfleet/internal/coordinator/handlers"
	"botfleet/internal/datalake"
	"botfleet/internal/logger"
	"botfleet/internal/monitor"
	"botfleet/internal/observability"
	"botfleet/internal/operations"
	"botfleet/internal/service"
	"botfleet/internal/store/postgres"

	"github.com/jonboulle/clockwork"
)

func main() {
	migrateFlag := flag.Bool("migrate", true, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	slogger := logger.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	pgStore, err := postgres.New(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
		PingTimeout:  cfg.StoreTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pgStore.Close()

	if *migrateFlag {
		log.Println("Running database migrations...")
		if err := postgres.Migrate(pgStore.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	}

	// Operation registry, one-shot at startup
	registry := operations.Load()
	log.Printf("Loaded operations: %v", registry.Names())

	// Datalake sink
	lake, err := datalake.New(cfg.DatalakeDir)
	if err != nil {
		log.Fatalf("Failed to open datalake: %v", err)
	}

	// Metrics
	metricsHandler, metrics, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Services
	jobs := service.NewJobService(pgStore, registry, lake, slogger, metrics, cfg.MaxPendingJobs)
	bots := service.NewBotService(pgStore, registry, lake, slogger, metrics)

	if err := metrics.RegisterQueueGauge(jobs.PendingCount); err != nil {
		log.Printf("Failed to register queue depth gauge: %v", err)
	}

	// Monitors
	clock := clockwork.NewRealClock()

	cleaner, err := monitor.NewRetentionCleaner(pgStore, clock, slogger, cfg.BotRetention, cfg.CleanupInterval)
	if err != nil {
		log.Fatalf("Failed to create retention cleaner: %v", err)
	}

	runners := []*monitor.Runner{
		monitor.NewRunner(
			monitor.NewPopulator(jobs, cfg.BatchSize),
			cfg.PopulateInterval, clock, slogger, metrics),
		monitor.NewRunner(
			monitor.NewClaimedJobMonitor(jobs, pgStore, clock, slogger,
				cfg.ClaimedJobTimeout, cfg.MaxRecoveriesPerCycle, cfg.RecoveryBatchSize),
			cfg.MonitorInterval, clock, slogger, metrics),
		monitor.NewRunner(
			monitor.NewProcessingJobMonitor(jobs, pgStore, clock, slogger,
				cfg.ProcessingJobTimeout, cfg.BotDownThreshold, cfg.MaxRecoveriesPerCycle, cfg.RecoveryBatchSize),
			cfg.MonitorInterval, clock, slogger, metrics),
		monitor.NewRunner(cleaner, cfg.CleanupInterval, clock, slogger, metrics),
	}

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *monitor.Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}

	// HTTP server
	h := handlers.New(jobs, bots, registry, cleaner, lake, pgStore, cfg.BotDownThreshold, slogger)
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := coordinator.New(addr, h, cfg.AdminToken, metricsHandler, cfg.RequestTimeout)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Botfleet coordinator starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalf("Server failed: %v", err)
	case <-quit:
	}

	log.Println("Shutting down coordinator...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	wg.Wait()
	log.Println("Server exited properly")
}
