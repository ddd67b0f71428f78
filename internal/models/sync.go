package models

import "time"

// SyncJob is one historical sync attempt. The chunk list is computed
// once at creation and never changes; counters and chunk states are
// mutated by the sync worker as chunks reach terminal states.
type SyncJob struct {
	ID                    string      `json:"id"`
	TenantID              string      `json:"tenant_id"`
	Kind                  string      `json:"kind"`
	RangeStart            time.Time   `json:"range_start"`
	RangeEnd              time.Time   `json:"range_end"`
	Status                string      `json:"status"`
	TotalChunks           int         `json:"total_chunks"`
	CompletedChunks       int         `json:"completed_chunks"`
	FailedChunks          int         `json:"failed_chunks"`
	RecordsSynced         int64       `json:"records_synced"`
	ProcessingRate        float64     `json:"processing_rate"`
	StartedAt             time.Time   `json:"started_at"`
	CompletedAt           *time.Time  `json:"completed_at,omitempty"`
	EstimatedCompletionAt *time.Time  `json:"estimated_completion_at,omitempty"`
	CurrentOperation      string      `json:"current_operation"`
	LastError             *string     `json:"last_error,omitempty"`
	Chunks                []SyncChunk `json:"chunk_details"`
}

// SyncChunk is one API-legal sub-range of a job plus its processing
// state. A chunk goes through its lifecycle exactly once.
type SyncChunk struct {
	JobID       string     `json:"-"`
	Index       int        `json:"index"`
	Label       string     `json:"label"`
	RangeStart  time.Time  `json:"range_start"`
	RangeEnd    time.Time  `json:"range_end"`
	Status      string     `json:"status"`
	Records     int64      `json:"records"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Terminal reports whether the chunk reached a terminal state.
func (c *SyncChunk) Terminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusFailed
}
