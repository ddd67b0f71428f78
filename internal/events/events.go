package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventJobQueued    = "sync_job_queued"
	EventJobProgress  = "sync_job_progress"
	EventJobCompleted = "sync_job_completed"
	EventJobFailed    = "sync_job_failed"
)

// JobSnapshot is the sync job view carried by job lifecycle events.
// It mirrors the serialized models.SyncJob without forcing consumers
// to depend on the full chunk list.
type JobSnapshot struct {
	ID              string  `json:"id"`
	TenantID        string  `json:"tenant_id"`
	Status          string  `json:"status"`
	TotalChunks     int     `json:"total_chunks"`
	CompletedChunks int     `json:"completed_chunks"`
	FailedChunks    int     `json:"failed_chunks"`
	RecordsSynced   int64   `json:"records_synced"`
	ProcessingRate  float64 `json:"processing_rate"`
	LastError       *string `json:"last_error,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// DecodeJobSnapshot unpacks the job snapshot from a lifecycle event payload.
func DecodeJobSnapshot(event *Event) (*JobSnapshot, error) {
	var snap JobSnapshot
	if err := json.Unmarshal(event.Payload, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
