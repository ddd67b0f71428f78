package database

import (
	"context"
	"testing"
	"time"

	"costwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob(id string) *models.SyncJob {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	return &models.SyncJob{
		ID:          id,
		TenantID:    "tenant-1",
		Kind:        models.SyncKindCost,
		RangeStart:  start,
		RangeEnd:    end,
		Status:      models.StatusPending,
		TotalChunks: 2,
		StartedAt:   time.Now(),
		Chunks: []models.SyncChunk{
			{JobID: id, Index: 0, Label: "2026-01", RangeStart: start, RangeEnd: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), Status: models.StatusPending},
			{JobID: id, Index: 1, Label: "2026-02", RangeStart: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), RangeEnd: end, Status: models.StatusPending},
		},
	}
}

func TestSyncJobLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, db.CreateSyncJob(ctx, job))

	loaded, err := db.GetSyncJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, loaded.Status)
	require.Len(t, loaded.Chunks, 2)
	assert.Equal(t, "2026-01", loaded.Chunks[0].Label)
	assert.True(t, loaded.Chunks[0].RangeStart.Equal(job.RangeStart))

	// Chunk reaches a terminal state.
	now := time.Now()
	chunk := loaded.Chunks[0]
	chunk.Status = models.StatusCompleted
	chunk.Records = 120
	chunk.StartedAt = &now
	chunk.CompletedAt = &now
	require.NoError(t, db.UpdateSyncChunk(ctx, &chunk))

	// Job counters advance.
	loaded.Status = models.StatusRunning
	loaded.CompletedChunks = 1
	loaded.RecordsSynced = 120
	loaded.ProcessingRate = 12.5
	loaded.CurrentOperation = "processing chunk 2/2"
	require.NoError(t, db.UpdateSyncJobProgress(ctx, loaded))

	reloaded, err := db.GetSyncJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, reloaded.Status)
	assert.Equal(t, 1, reloaded.CompletedChunks)
	assert.Equal(t, int64(120), reloaded.RecordsSynced)
	assert.Equal(t, models.StatusCompleted, reloaded.Chunks[0].Status)
	assert.Equal(t, int64(120), reloaded.Chunks[0].Records)
	assert.Equal(t, models.StatusPending, reloaded.Chunks[1].Status)
}

func TestCheckpointSyncProgress(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	job := testJob("job-cp")
	job.Status = models.StatusRunning
	require.NoError(t, db.CreateSyncJob(ctx, job))

	// Chunk result and job counters travel together: a restart must
	// never find one written without the other.
	now := time.Now()
	chunk := &job.Chunks[0]
	chunk.Status = models.StatusCompleted
	chunk.Records = 80
	chunk.StartedAt = &now
	chunk.CompletedAt = &now
	job.CompletedChunks = 1
	job.RecordsSynced = 80
	require.NoError(t, db.CheckpointSyncProgress(ctx, job, chunk))

	loaded, err := db.GetSyncJob(ctx, "job-cp")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, loaded.Chunks[0].Status)
	assert.Equal(t, int64(80), loaded.Chunks[0].Records)
	assert.Equal(t, 1, loaded.CompletedChunks)
	assert.Equal(t, int64(80), loaded.RecordsSynced)
}

func TestGetSyncJobNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetSyncJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHasActiveSyncJob(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	active, err := db.HasActiveSyncJob(ctx, "tenant-1", models.SyncKindCost)
	require.NoError(t, err)
	assert.False(t, active)

	job := testJob("job-2")
	require.NoError(t, db.CreateSyncJob(ctx, job))

	active, err = db.HasActiveSyncJob(ctx, "tenant-1", models.SyncKindCost)
	require.NoError(t, err)
	assert.True(t, active)

	// Other tenants are unaffected.
	active, err = db.HasActiveSyncJob(ctx, "tenant-2", models.SyncKindCost)
	require.NoError(t, err)
	assert.False(t, active)

	// Terminal job no longer blocks.
	job.Status = models.StatusCompleted
	require.NoError(t, db.UpdateSyncJobProgress(ctx, job))
	active, err = db.HasActiveSyncJob(ctx, "tenant-1", models.SyncKindCost)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestGetResumableJobIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSyncJob(ctx, testJob("job-a")))

	jobB := testJob("job-b")
	jobB.Status = models.StatusRunning
	require.NoError(t, db.CreateSyncJob(ctx, jobB))

	jobC := testJob("job-c")
	jobC.Status = models.StatusCompleted
	require.NoError(t, db.CreateSyncJob(ctx, jobC))

	ids, err := db.GetResumableJobIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"job-a", "job-b"}, ids)
}
