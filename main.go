// seclens-engine scans relational databases for personally identifiable
// information and quasi-identifier correlations, producing persisted
// compliance reports. main wires configuration, the engine store, the
// detection pipeline and the scanner service, then runs until signalled.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/adapters/datasource"
	_ "github.com/seclens/seclens-engine/pkg/adapters/datasource/mssql"
	_ "github.com/seclens/seclens-engine/pkg/adapters/datasource/postgres"
	"github.com/seclens/seclens-engine/pkg/config"
	"github.com/seclens/seclens-engine/pkg/database"
	"github.com/seclens/seclens-engine/pkg/logging"
	"github.com/seclens/seclens-engine/pkg/ner"
	"github.com/seclens/seclens-engine/pkg/repositories"
	"github.com/seclens/seclens-engine/pkg/services"
	"github.com/seclens/seclens-engine/pkg/services/detection"
	"github.com/seclens/seclens-engine/pkg/services/qi"
	"github.com/seclens/seclens-engine/pkg/services/workqueue"
)

// Version is stamped by the release build through ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("engine failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting seclens-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.Int("configured_targets", len(cfg.Connections)))

	// Engine store holds jobs, detection results and reports. Scan targets
	// are never written to.
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
		MinIdleConns:   cfg.Database.MinIdleConns,
	})
	if err != nil {
		return fmt.Errorf("connect to engine store: %w", err)
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("failed to close migration connection", zap.Error(err))
	}

	connections := datasource.NewManager(logger)
	for i := range cfg.Connections {
		c := &cfg.Connections[i]
		spec := datasource.ConnectionSpec{
			ID:       c.ID,
			Name:     c.Name,
			Type:     c.Type,
			Host:     c.Host,
			Port:     c.Port,
			User:     c.User,
			Password: c.ResolvePassword(),
			Database: c.Database,
			SSLMode:  c.SSLMode,
			MaxConns: c.MaxConns,
		}
		if err := connections.RegisterSpec(spec); err != nil {
			return fmt.Errorf("register connection %q: %w", c.ID, err)
		}
	}

	library, err := detection.LoadLibrary(cfg.PatternsPath, logger)
	if err != nil {
		return fmt.Errorf("load pattern library: %w", err)
	}

	strategies := []detection.Strategy{
		detection.NewHeuristicStrategy(library.Heuristics, logger),
		detection.NewRegexStrategy(library.Patterns, logger),
	}
	if cfg.Detection.NerEnabled {
		client, err := ner.NewClient(cfg.ScanDefaults().Ner, logger)
		if err != nil {
			return fmt.Errorf("build ner client: %w", err)
		}
		nerStrategy := detection.NewNerStrategy(client, cfg.NER.MaxSamples, logger)
		// A dead sidecar disables the strategy, it never blocks startup.
		if probeErr := nerStrategy.Probe(ctx); probeErr != nil {
			logger.Warn("ner sidecar unreachable, scans will run without it",
				zap.Error(probeErr))
		}
		strategies = append(strategies, nerStrategy)
	}
	engine := detection.NewEngine(strategies, detection.NewCache(logger), logger)

	jobRepo := repositories.NewJobRepository(db)
	resultRepo := repositories.NewResultRepository(db)
	reportRepo := repositories.NewReportRepository(db)

	hub := services.NewProgressHub(cfg.Scanner.ProgressBufferSize, logger)
	jobs := services.NewJobManager(jobRepo, connections, hub, logger)
	analyzer := qi.NewAnalyzer(resultRepo, logger)
	executor := services.NewScanExecutor(connections, jobs, engine, analyzer, resultRepo, reportRepo, logger)

	var strategy workqueue.ConcurrencyStrategy = workqueue.NewSerializedStrategy()
	if cfg.Scanner.Workers > 1 {
		strategy = workqueue.NewThrottledStrategy(cfg.Scanner.Workers)
	}
	queue := workqueue.New(logger, workqueue.WithStrategy(strategy))

	scanner := services.NewScannerService(jobs, executor, reportRepo, queue, hub, cfg.Scanner.QueueSize, logger)

	drivers := make([]string, 0, len(datasource.RegisteredDrivers()))
	for _, d := range datasource.RegisteredDrivers() {
		drivers = append(drivers, d.Type)
	}
	logger.Info("engine ready",
		zap.Strings("drivers", drivers),
		zap.Int("targets", len(connections.Specs())),
		zap.Int("scan_workers", cfg.Scanner.Workers))

	// Transports (HTTP, gRPC, CLI) embed ScannerService; the engine process
	// itself only has to stay alive and shut down cleanly.
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scanner.ShutdownGrace())
	defer cancel()
	scanner.Shutdown(shutdownCtx)

	return nil
}
