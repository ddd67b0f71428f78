package domain

import (
	"context"

	"costwatch/internal/models"
)

// ProgressCache keeps hot sync job snapshots so that status polling
// does not hit the primary store for every request.
type ProgressCache interface {
	GetJob(ctx context.Context, jobID string) (*models.SyncJob, error)
	SetJob(ctx context.Context, job *models.SyncJob) error
	ClearJob(ctx context.Context, jobID string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
