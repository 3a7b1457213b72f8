package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/beacon/internal/cache"
	"github.com/aristath/beacon/internal/modules/analysis"
	"github.com/aristath/beacon/internal/reliability"
)

// CacheSweepJob removes expired cache rows and prunes old analysis
// history. Only the SQLite cache backend needs sweeping; Redis and the
// in-memory store expire entries themselves.
type CacheSweepJob struct {
	store    *cache.SQLiteStore
	analyses *analysis.Repository
	retain   time.Duration
	log      zerolog.Logger
}

// NewCacheSweepJob creates a cache sweep job. store may be nil when a
// self-expiring backend is in use; retain <= 0 disables history pruning.
func NewCacheSweepJob(store *cache.SQLiteStore, analyses *analysis.Repository, retain time.Duration, log zerolog.Logger) *CacheSweepJob {
	return &CacheSweepJob{
		store:    store,
		analyses: analyses,
		retain:   retain,
		log:      log.With().Str("job", "cache_sweep").Logger(),
	}
}

// Name returns the job name for the scheduler.
func (j *CacheSweepJob) Name() string {
	return "cache_sweep"
}

// Run executes one sweep.
func (j *CacheSweepJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if j.store != nil {
		swept, err := j.store.Sweep(ctx)
		if err != nil {
			return err
		}
		j.log.Info().Int64("swept", swept).Msg("Swept expired cache entries")
	}

	if j.analyses != nil && j.retain > 0 {
		pruned, err := j.analyses.DeleteOlderThan(time.Now().Add(-j.retain))
		if err != nil {
			return err
		}
		if pruned > 0 {
			j.log.Info().Int64("pruned", pruned).Msg("Pruned old analysis history")
		}
	}
	return nil
}

// BackupJob ships a database backup off-site.
type BackupJob struct {
	service *reliability.BackupService
	log     zerolog.Logger
}

// NewBackupJob creates a backup job.
func NewBackupJob(service *reliability.BackupService, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service: service,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name for the scheduler.
func (j *BackupJob) Name() string {
	return "backup"
}

// Run creates, uploads and rotates backups.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return j.service.Run(ctx)
}
