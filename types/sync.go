package types

import (
	"time"
)

// SyncScheduler owns the single-flight sync pass. Triggers that arrive while
// a pass runs are skipped, never queued.
type SyncScheduler interface {
	LifecycleManager
	TriggerSync(reason string) bool
	IsSyncing() bool
	LastPass() PassResult
}

type PassResult struct {
	Applied    int           `json:"applied"`
	Deferred   int           `json:"deferred"`
	Abandoned  int           `json:"abandoned"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

type SyncStatus struct {
	IsOnline          bool      `json:"is_online"`
	IsSyncing         bool      `json:"is_syncing"`
	PendingCount      int       `json:"pending_count"`
	FailedCount       int64     `json:"failed_count"`
	CacheSize         int64     `json:"cache_size"`
	LastPassAt        time.Time `json:"last_pass_at,omitempty"`
	LastPassApplied   int       `json:"last_pass_applied"`
	LastPassDeferred  int       `json:"last_pass_deferred"`
	LastPassAbandoned int       `json:"last_pass_abandoned"`
}
