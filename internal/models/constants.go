package models

// Job and chunk statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Sync kinds.
const (
	SyncKindCost = "cost"
)

const (
	// DateLayout формат дат для usage_date и границ чанков
	DateLayout = "2006-01-02"

	// DefaultComparisonPageSize размер страницы при чтении cost_records
	DefaultComparisonPageSize = 1000

	// TopResourcesLimit количество ресурсов в таблице по отдельным ресурсам
	TopResourcesLimit = 20

	// ProgressCacheTTL время жизни снимка прогресса в Redis (секунды)
	ProgressCacheTTL = 60 * 60
)
