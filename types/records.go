package types

import (
	"context"
	"time"
)

// RecordStore keeps locally created domain entities and their sync state.
// SyncHash is content-derived, so the same payload enqueued twice resolves to
// the same record.
type RecordStore interface {
	LifecycleManager
	Save(ctx context.Context, rec *LocalDomainRecord) error
	Get(ctx context.Context, localID string) (*LocalDomainRecord, error)
	FindByHash(ctx context.Context, syncHash string) (*LocalDomainRecord, error)
	MarkSynced(ctx context.Context, localID string) error
	UnsyncedCount(ctx context.Context) (int64, error)
	ResetSyncFlags(ctx context.Context) error
	Clear(ctx context.Context) error
	Load(ctx context.Context) error
}

type LocalDomainRecord struct {
	LocalID   string                 `json:"local_id"`
	Kind      string                 `json:"kind"`
	Fields    map[string]interface{} `json:"fields"`
	SyncHash  string                 `json:"sync_hash"`
	IsSynced  bool                   `json:"is_synced"`
	CreatedAt time.Time              `json:"created_at"`
	SyncedAt  time.Time              `json:"synced_at,omitempty"`
}

// Clone returns a copy for copy-on-write state transitions.
func (r *LocalDomainRecord) Clone() *LocalDomainRecord {
	clone := *r
	if r.Fields != nil {
		clone.Fields = make(map[string]interface{}, len(r.Fields))
		for k, v := range r.Fields {
			clone.Fields[k] = v
		}
	}
	return &clone
}
