package repository

import (
	"context"
	"sync"
	"time"

	"costwatch/internal/models"
)

type memoryEntry struct {
	job       *models.SyncJob
	expiresAt time.Time
}

// MemoryProgressCache is the in-process fallback used when Redis is
// unavailable. Entries expire lazily on read.
type MemoryProgressCache struct {
	jobs sync.Map
	ttl  time.Duration
}

func NewMemoryProgressCache(ttl time.Duration) *MemoryProgressCache {
	return &MemoryProgressCache{
		ttl: ttl,
	}
}

func (r *MemoryProgressCache) GetJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	val, ok := r.jobs.Load(jobID)
	if !ok {
		return nil, nil
	}
	entry := val.(*memoryEntry)
	if r.ttl > 0 && time.Now().After(entry.expiresAt) {
		r.jobs.Delete(jobID)
		return nil, nil
	}
	return entry.job, nil
}

func (r *MemoryProgressCache) SetJob(ctx context.Context, job *models.SyncJob) error {
	r.jobs.Store(job.ID, &memoryEntry{
		job:       job,
		expiresAt: time.Now().Add(r.ttl),
	})
	return nil
}

func (r *MemoryProgressCache) ClearJob(ctx context.Context, jobID string) error {
	r.jobs.Delete(jobID)
	return nil
}
