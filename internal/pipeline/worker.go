package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"costwatch/internal/billing"
	"costwatch/internal/database"
	"costwatch/internal/domain"
	"costwatch/internal/events"
	"costwatch/internal/metrics"
	"costwatch/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrSyncAlreadyRunning — у арендатора уже есть активная задача этого вида.
var ErrSyncAlreadyRunning = errors.New("sync job already running for tenant")

// TokenSource acquires a fresh bearer token for a tenant.
type TokenSource interface {
	Token(ctx context.Context, tenantID string) (string, *models.TenantCredentials, error)
}

// CostFetcher pulls all pages of cost rows for one chunk range.
type CostFetcher interface {
	FetchCost(ctx context.Context, token, subscriptionID string, start, end time.Time) ([]billing.Row, error)
}

// Worker drives sync jobs: one long-lived loop over the persisted
// chunk list, checkpointing job and chunk state after every chunk.
// Chunks of one job never run concurrently; a restart resumes from the
// first pending chunk.
type Worker struct {
	db           *database.DB
	tokens       TokenSource
	fetcher      CostFetcher
	redis        *redis.Client
	publisher    domain.EventPublisher
	queueKey     string
	pollInterval time.Duration
	chunkDelay   time.Duration
	logger       *zerolog.Logger
}

// NewWorker builds a worker with sane defaults. redisClient and
// publisher may be nil: the queue falls back to store polling and
// events are simply not published.
func NewWorker(db *database.DB, tokens TokenSource, fetcher CostFetcher, redisClient *redis.Client, publisher domain.EventPublisher, queueKey string, pollInterval, chunkDelay time.Duration, logger *zerolog.Logger) *Worker {
	if queueKey == "" {
		queueKey = "sync:jobs"
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if chunkDelay < 0 {
		chunkDelay = 0
	}

	return &Worker{
		db:           db,
		tokens:       tokens,
		fetcher:      fetcher,
		redis:        redisClient,
		publisher:    publisher,
		queueKey:     queueKey,
		pollInterval: pollInterval,
		chunkDelay:   chunkDelay,
		logger:       logger,
	}
}

// Enqueue validates and persists a new sync job with its precomputed
// chunk list, then wakes the worker. InvalidRange, CredentialsNotFound
// and SyncAlreadyRunning surface to the caller synchronously; all
// later failures are chunk-scoped.
func (w *Worker) Enqueue(ctx context.Context, tenantID string, start, end time.Time) (*models.SyncJob, error) {
	chunks, err := PlanChunks(start, end)
	if err != nil {
		return nil, err
	}

	if _, err := w.db.GetTenantCredentials(ctx, tenantID); err != nil {
		return nil, err
	}

	active, err := w.db.HasActiveSyncJob(ctx, tenantID, models.SyncKindCost)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: %s", ErrSyncAlreadyRunning, tenantID)
	}

	job := &models.SyncJob{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		Kind:             models.SyncKindCost,
		RangeStart:       chunks[0].RangeStart,
		RangeEnd:         chunks[len(chunks)-1].RangeEnd,
		Status:           models.StatusPending,
		TotalChunks:      len(chunks),
		StartedAt:        time.Now(),
		CurrentOperation: "queued",
		Chunks:           chunks,
	}
	for i := range job.Chunks {
		job.Chunks[i].JobID = job.ID
	}

	if err := w.db.CreateSyncJob(ctx, job); err != nil {
		return nil, err
	}

	w.pushQueue(ctx, job.ID)
	w.publish(events.EventJobQueued, job)

	w.logger.Info().
		Str("job_id", job.ID).
		Str("tenant_id", tenantID).
		Int("chunks", len(chunks)).
		Msg("sync job queued")

	return job, nil
}

// Start launches the main loop; stops when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Msg("sync worker started")
	defer w.logger.Info().Msg("sync worker stopped")

	// Возобновляем задачи, прерванные рестартом
	w.drainResumable(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if id, ok := w.tryQueue(ctx); ok {
			w.processJob(ctx, id)
			continue
		}

		w.drainResumable(ctx)
		w.sleep(ctx, w.pollInterval)
	}
}

func (w *Worker) drainResumable(ctx context.Context) {
	ids, err := w.db.GetResumableJobIDs(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("fetch resumable jobs")
		return
	}
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.processJob(ctx, id)
	}
}

func (w *Worker) tryQueue(ctx context.Context) (string, bool) {
	if w.redis == nil {
		return "", false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return "", false
	}
	if len(res) != 2 {
		return "", false
	}
	return res[1], true
}

func (w *Worker) pushQueue(ctx context.Context, jobID string) {
	if w.redis == nil {
		return
	}
	if err := w.redis.LPush(ctx, w.queueKey, jobID).Err(); err != nil {
		// Poller picks the job up from the store anyway.
		w.logger.Warn().Err(err).Str("job_id", jobID).Msg("redis push failed, falling back to polling")
	}
}

// processJob runs every non-terminal chunk of one job in planner
// order, checkpointing after each. One failed chunk does not abort the
// job; it advances to the next chunk.
func (w *Worker) processJob(ctx context.Context, jobID string) {
	job, err := w.db.GetSyncJob(ctx, jobID)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("load sync job")
		return
	}
	if job.Status == models.StatusCompleted || job.Status == models.StatusFailed {
		return
	}

	if job.Status == models.StatusPending {
		job.Status = models.StatusRunning
		if err := w.db.UpdateSyncJobProgress(ctx, job); err != nil {
			w.logger.Error().Err(err).Str("job_id", jobID).Msg("mark job running")
			return
		}
	}

	for i := range job.Chunks {
		chunk := &job.Chunks[i]
		if chunk.Terminal() {
			// Завершённые чанки повторно не обрабатываются
			continue
		}

		select {
		case <-ctx.Done():
			// Checkpoint already persisted; the job resumes on restart.
			return
		default:
		}

		w.runChunk(ctx, job, chunk)

		remaining := job.TotalChunks - job.CompletedChunks - job.FailedChunks
		if remaining > 0 {
			// Пауза между чанками дополнительно снижает нагрузку на провайдера
			w.sleep(ctx, w.chunkDelay)
		}
	}

	w.finalizeJob(ctx, job)
}

func (w *Worker) runChunk(ctx context.Context, job *models.SyncJob, chunk *models.SyncChunk) {
	now := time.Now()
	chunk.Status = models.StatusRunning
	chunk.StartedAt = &now
	job.CurrentOperation = fmt.Sprintf("syncing %s (chunk %d/%d)", chunk.Label, chunk.Index+1, job.TotalChunks)

	if err := w.db.CheckpointSyncProgress(ctx, job, chunk); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Int("chunk", chunk.Index).Msg("mark chunk running")
	}

	written, err := w.syncChunk(ctx, job, chunk)

	finished := time.Now()
	chunk.CompletedAt = &finished

	if err != nil {
		msg := err.Error()
		chunk.Status = models.StatusFailed
		chunk.Error = &msg
		job.FailedChunks++
		job.LastError = &msg
		metrics.IncChunk(models.StatusFailed)
		w.logger.Error().Err(err).
			Str("job_id", job.ID).
			Str("chunk", chunk.Label).
			Msg("chunk failed, continuing with next")
	} else {
		chunk.Status = models.StatusCompleted
		chunk.Records = written
		job.CompletedChunks++
		job.RecordsSynced += written
		metrics.IncChunk(models.StatusCompleted)
		metrics.AddRecordsSynced(written)
	}

	w.recalculateProgress(job)

	// One atomic checkpoint: a restart never sees a terminal chunk
	// whose counters are missing from the job row.
	if err := w.db.CheckpointSyncProgress(ctx, job, chunk); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Int("chunk", chunk.Index).Msg("checkpoint chunk")
	}

	w.publish(events.EventJobProgress, job)
}

// syncChunk runs the strictly sequential per-chunk pipeline:
// token, fetch, dedupe, upsert.
func (w *Worker) syncChunk(ctx context.Context, job *models.SyncJob, chunk *models.SyncChunk) (int64, error) {
	token, creds, err := w.tokens.Token(ctx, job.TenantID)
	if err != nil {
		return 0, fmt.Errorf("acquire token: %w", err)
	}

	rows, err := w.fetcher.FetchCost(ctx, token, creds.SubscriptionID, chunk.RangeStart, chunk.RangeEnd)
	if err != nil {
		return 0, fmt.Errorf("fetch chunk %s: %w", chunk.Label, err)
	}

	records := MapAndDeduplicate(job.TenantID, rows)

	written, err := w.db.UpsertCostRecords(ctx, records)
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (w *Worker) recalculateProgress(job *models.SyncJob) {
	elapsed := time.Since(job.StartedAt)
	if elapsed > 0 {
		job.ProcessingRate = float64(job.RecordsSynced) / elapsed.Seconds()
	}

	terminal := job.CompletedChunks + job.FailedChunks
	remaining := job.TotalChunks - terminal
	if terminal > 0 && remaining > 0 {
		avg := elapsed / time.Duration(terminal)
		eta := time.Now().Add(avg * time.Duration(remaining))
		job.EstimatedCompletionAt = &eta
	} else {
		job.EstimatedCompletionAt = nil
	}
}

func (w *Worker) finalizeJob(ctx context.Context, job *models.SyncJob) {
	now := time.Now()
	job.CompletedAt = &now
	job.CurrentOperation = ""

	eventType := events.EventJobCompleted
	if job.FailedChunks >= job.TotalChunks {
		job.Status = models.StatusFailed
		eventType = events.EventJobFailed
	} else {
		job.Status = models.StatusCompleted
	}

	if err := w.db.UpdateSyncJobProgress(ctx, job); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("finalize job")
		return
	}

	w.publish(eventType, job)

	w.logger.Info().
		Str("job_id", job.ID).
		Str("status", job.Status).
		Int("completed_chunks", job.CompletedChunks).
		Int("failed_chunks", job.FailedChunks).
		Int64("records_synced", job.RecordsSynced).
		Msg("sync job finished")
}

func (w *Worker) publish(eventType string, job *models.SyncJob) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.PublishJSON(eventType, job); err != nil {
		w.logger.Warn().Err(err).Str("event", eventType).Msg("publish job event")
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
