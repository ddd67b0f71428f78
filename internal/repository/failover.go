package repository

import (
	"context"
	"sync/atomic"
	"time"

	"costwatch/internal/domain"
	"costwatch/internal/models"

	"github.com/rs/zerolog"
)

// FailoverProgressCache prefers the primary cache and falls back to the
// secondary when the primary errors. After a minute it probes the
// primary again.
type FailoverProgressCache struct {
	primary   domain.ProgressCache
	fallback  domain.ProgressCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverProgressCache(primary, fallback domain.ProgressCache, logger *zerolog.Logger) *FailoverProgressCache {
	return &FailoverProgressCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverProgressCache) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary progress cache failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck = time.Now()
}

func (r *FailoverProgressCache) GetJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	if !r.isDown.Load() {
		job, err := r.primary.GetJob(ctx, jobID)
		if err == nil {
			return job, nil
		}
		r.markDown(err)
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		job, err := r.primary.GetJob(ctx, jobID)
		if err == nil {
			r.isDown.Store(false)
			return job, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.GetJob(ctx, jobID)
}

func (r *FailoverProgressCache) SetJob(ctx context.Context, job *models.SyncJob) error {
	if !r.isDown.Load() {
		err := r.primary.SetJob(ctx, job)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.SetJob(ctx, job)
}

func (r *FailoverProgressCache) ClearJob(ctx context.Context, jobID string) error {
	if !r.isDown.Load() {
		err := r.primary.ClearJob(ctx, jobID)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.ClearJob(ctx, jobID)
}
