package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"costwatch/internal/models"
)

// CreateSyncJob persists a job together with its precomputed chunk list
// in one transaction. The chunk list never changes afterwards.
func (db *DB) CreateSyncJob(ctx context.Context, job *models.SyncJob) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_jobs (id, tenant_id, kind, range_start, range_end, status,
            total_chunks, completed_chunks, failed_chunks, records_synced, processing_rate,
            started_at, current_operation)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.TenantID,
		job.Kind,
		job.RangeStart.Format(models.DateLayout),
		job.RangeEnd.Format(models.DateLayout),
		job.Status,
		job.TotalChunks,
		job.CompletedChunks,
		job.FailedChunks,
		job.RecordsSynced,
		job.ProcessingRate,
		job.StartedAt,
		job.CurrentOperation,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}

	for i := range job.Chunks {
		c := &job.Chunks[i]
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sync_chunks (job_id, idx, label, range_start, range_end, status, records)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			job.ID,
			c.Index,
			c.Label,
			c.RangeStart.Format(models.DateLayout),
			c.RangeEnd.Format(models.DateLayout),
			c.Status,
			c.Records,
		)
		if err != nil {
			return fmt.Errorf("failed to create sync chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync job: %w", err)
	}
	return nil
}

// GetSyncJob loads the job record and its ordered chunk list.
func (db *DB) GetSyncJob(ctx context.Context, id string) (*models.SyncJob, error) {
	var (
		job        models.SyncJob
		rangeStart string
		rangeEnd   string
		completed  sql.NullTime
		estimated  sql.NullTime
		lastError  sql.NullString
	)

	err := db.QueryRowContext(ctx,
		`SELECT id, tenant_id, kind, range_start, range_end, status,
                total_chunks, completed_chunks, failed_chunks, records_synced, processing_rate,
                started_at, completed_at, estimated_completion_at, current_operation, last_error
         FROM sync_jobs WHERE id = ?`, id).Scan(
		&job.ID,
		&job.TenantID,
		&job.Kind,
		&rangeStart,
		&rangeEnd,
		&job.Status,
		&job.TotalChunks,
		&job.CompletedChunks,
		&job.FailedChunks,
		&job.RecordsSynced,
		&job.ProcessingRate,
		&job.StartedAt,
		&completed,
		&estimated,
		&job.CurrentOperation,
		&lastError,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}

	if job.RangeStart, err = time.Parse(models.DateLayout, rangeStart); err != nil {
		return nil, fmt.Errorf("failed to parse job range start: %w", err)
	}
	if job.RangeEnd, err = time.Parse(models.DateLayout, rangeEnd); err != nil {
		return nil, fmt.Errorf("failed to parse job range end: %w", err)
	}
	if completed.Valid {
		job.CompletedAt = &completed.Time
	}
	if estimated.Valid {
		job.EstimatedCompletionAt = &estimated.Time
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}

	job.Chunks, err = db.getJobChunks(ctx, id)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (db *DB) getJobChunks(ctx context.Context, jobID string) ([]models.SyncChunk, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT job_id, idx, label, range_start, range_end, status, records, started_at, completed_at, error
         FROM sync_chunks WHERE job_id = ? ORDER BY idx`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.SyncChunk
	for rows.Next() {
		var (
			c          models.SyncChunk
			rangeStart string
			rangeEnd   string
			started    sql.NullTime
			completed  sql.NullTime
			chunkErr   sql.NullString
		)
		if err := rows.Scan(&c.JobID, &c.Index, &c.Label, &rangeStart, &rangeEnd,
			&c.Status, &c.Records, &started, &completed, &chunkErr); err != nil {
			return nil, fmt.Errorf("failed to scan sync chunk: %w", err)
		}
		if c.RangeStart, err = time.Parse(models.DateLayout, rangeStart); err != nil {
			return nil, fmt.Errorf("failed to parse chunk range start: %w", err)
		}
		if c.RangeEnd, err = time.Parse(models.DateLayout, rangeEnd); err != nil {
			return nil, fmt.Errorf("failed to parse chunk range end: %w", err)
		}
		if started.Valid {
			c.StartedAt = &started.Time
		}
		if completed.Valid {
			c.CompletedAt = &completed.Time
		}
		if chunkErr.Valid {
			c.Error = &chunkErr.String
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// UpdateSyncJobProgress writes the mutable job fields: status, counters,
// rate, estimates and the observability label. The chunk list itself is
// immutable and untouched here.
func (db *DB) UpdateSyncJobProgress(ctx context.Context, job *models.SyncJob) error {
	return updateSyncJob(ctx, db, job)
}

func updateSyncJob(ctx context.Context, ex execer, job *models.SyncJob) error {
	var completedAt interface{}
	if job.CompletedAt != nil {
		completedAt = *job.CompletedAt
	}
	var estimatedAt interface{}
	if job.EstimatedCompletionAt != nil {
		estimatedAt = *job.EstimatedCompletionAt
	}
	var lastError interface{}
	if job.LastError != nil {
		lastError = *job.LastError
	}

	_, err := ex.ExecContext(ctx,
		`UPDATE sync_jobs SET status = ?, completed_chunks = ?, failed_chunks = ?,
            records_synced = ?, processing_rate = ?, completed_at = ?,
            estimated_completion_at = ?, current_operation = ?, last_error = ?
         WHERE id = ?`,
		job.Status,
		job.CompletedChunks,
		job.FailedChunks,
		job.RecordsSynced,
		job.ProcessingRate,
		completedAt,
		estimatedAt,
		job.CurrentOperation,
		lastError,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateSyncChunk writes one chunk's state in place.
func (db *DB) UpdateSyncChunk(ctx context.Context, chunk *models.SyncChunk) error {
	return updateSyncChunk(ctx, db, chunk)
}

func updateSyncChunk(ctx context.Context, ex execer, chunk *models.SyncChunk) error {
	var started interface{}
	if chunk.StartedAt != nil {
		started = *chunk.StartedAt
	}
	var completed interface{}
	if chunk.CompletedAt != nil {
		completed = *chunk.CompletedAt
	}
	var chunkErr interface{}
	if chunk.Error != nil {
		chunkErr = *chunk.Error
	}

	_, err := ex.ExecContext(ctx,
		`UPDATE sync_chunks SET status = ?, records = ?, started_at = ?, completed_at = ?, error = ?
         WHERE job_id = ? AND idx = ?`,
		chunk.Status,
		chunk.Records,
		started,
		completed,
		chunkErr,
		chunk.JobID,
		chunk.Index,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync chunk %s/%d: %w", chunk.JobID, chunk.Index, err)
	}
	return nil
}

// CheckpointSyncProgress persists one chunk's state together with the
// job counters in a single transaction. A restart can therefore never
// observe a terminal chunk whose results are missing from the job row.
func (db *DB) CheckpointSyncProgress(ctx context.Context, job *models.SyncJob, chunk *models.SyncChunk) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateSyncChunk(ctx, tx, chunk); err != nil {
		return err
	}
	if err := updateSyncJob(ctx, tx, job); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// HasActiveSyncJob reports whether the tenant already has a job of the
// given kind that is not yet terminal.
func (db *DB) HasActiveSyncJob(ctx context.Context, tenantID, kind string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_jobs
         WHERE tenant_id = ? AND kind = ? AND status IN (?, ?)`,
		tenantID, kind, models.StatusPending, models.StatusRunning).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count active sync jobs: %w", err)
	}
	return count > 0, nil
}

// GetResumableJobIDs returns ids of jobs left pending or running,
// oldest first. Used on startup to resume work interrupted by a
// restart.
func (db *DB) GetResumableJobIDs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id FROM sync_jobs WHERE status IN (?, ?) ORDER BY created_at ASC`,
		models.StatusPending, models.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to get resumable jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
