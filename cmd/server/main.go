// Package main is the entry point for the Beacon PME analytics service.
// It aligns private fund cash flows with public index series, computes
// public-market-equivalent metrics, and serves the results over HTTP
// with persistent history, caching and off-site backups.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/beacon/internal/cache"
	"github.com/aristath/beacon/internal/config"
	"github.com/aristath/beacon/internal/database"
	"github.com/aristath/beacon/internal/events"
	"github.com/aristath/beacon/internal/modules/alignment"
	"github.com/aristath/beacon/internal/modules/analysis"
	"github.com/aristath/beacon/internal/modules/datasets"
	"github.com/aristath/beacon/internal/modules/reports"
	"github.com/aristath/beacon/internal/reliability"
	"github.com/aristath/beacon/internal/scheduler"
	"github.com/aristath/beacon/internal/server"
	"github.com/aristath/beacon/internal/telemetry"
	"github.com/aristath/beacon/pkg/logger"
)

// analysisRetention bounds how long analysis history is kept before the
// sweep job prunes it.
const analysisRetention = 90 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Beacon")

	// Analysis history is append-only; the ledger profile trades write
	// speed for durability. Datasets get the balanced profile.
	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileLedger,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	datasetsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "datasets.db"),
		Profile: database.ProfileStandard,
		Name:    "datasets",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open datasets database")
	}
	defer datasetsDB.Close()

	if err := historyDB.InitSchema(analysis.Schema); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize history schema")
	}
	if err := datasetsDB.InitSchema(datasets.Schema); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize datasets schema")
	}

	store, sqliteStore, cacheDB := buildCache(cfg, log)
	defer store.Close()
	if cacheDB != nil {
		defer cacheDB.Close()
	}

	bus := events.NewBus(log)
	metrics := telemetry.New()

	orchestrator := analysis.NewOrchestrator(log)
	analysisRepo := analysis.NewRepository(historyDB.Conn())
	datasetRepo := datasets.NewRepository(datasetsDB.Conn())

	analysisHandlers := analysis.NewHandlers(orchestrator, analysisRepo, store, datasetRepo, bus, metrics, cfg.Cache.TTL, log)
	datasetHandlers := datasets.NewHandlers(datasetRepo, datasets.NewClassifier(), bus, log)
	reportHandlers := reports.NewHandlers(reports.NewService(log), analysisRepo, alignment.NewEngine(log), log)

	sched := scheduler.New(log)
	sweepJob := scheduler.NewCacheSweepJob(sqliteStore, analysisRepo, analysisRetention, log)
	if err := sched.AddJob(cfg.Scheduler.CacheSweepSpec, sweepJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cache sweep job")
	}

	if cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 client")
		}
		backupDBs := []*database.DB{historyDB, datasetsDB}
		if cacheDB != nil {
			backupDBs = append(backupDBs, cacheDB)
		}
		backupService := reliability.NewBackupService(
			s3Client, bus, cfg.DataDir, cfg.Backup.Prefix, cfg.Backup.MinKeep, log, backupDBs...)
		backupJob := scheduler.NewBackupJob(backupService, log)
		if err := sched.AddJob(cfg.Scheduler.BackupSpec, backupJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	} else {
		log.Info().Msg("Off-site backups disabled")
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:              log,
		Config:           cfg,
		Port:             cfg.Port,
		DevMode:          cfg.DevMode,
		HistoryDB:        historyDB,
		DatasetsDB:       datasetsDB,
		Bus:              bus,
		Metrics:          metrics,
		AnalysisHandlers: analysisHandlers,
		DatasetHandlers:  datasetHandlers,
		ReportHandlers:   reportHandlers,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Beacon stopped")
}

// buildCache constructs the configured cache backend. The SQLite
// backend additionally returns its store and database handle so the
// sweep job and the backup set can reach them.
func buildCache(cfg *config.Config, log zerolog.Logger) (cache.Store, *cache.SQLiteStore, *database.DB) {
	switch cfg.Cache.Backend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := cache.NewRedisStore(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Using Redis cache")
		return store, nil, nil

	case "memory":
		log.Info().Msg("Using in-memory cache")
		return cache.NewMemoryStore(), nil, nil

	default:
		cacheDB, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, "cache.db"),
			Profile: database.ProfileCache,
			Name:    "cache",
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open cache database")
		}
		store, err := cache.NewSQLiteStore(cacheDB.Conn())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize SQLite cache")
		}
		log.Info().Msg("Using SQLite cache")
		return store, store, cacheDB
	}
}
