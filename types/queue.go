package types

import (
	"context"
	"time"
)

const (
	MutationStatePending  MutationState = "pending"
	MutationStateInFlight MutationState = "in_flight"
)

type MutationState string

// MutationQueue is the durable outbox. Enqueue persists before returning;
// everything the in-memory index knows is rebuilt from the store on Load.
type MutationQueue interface {
	LifecycleManager
	Enqueue(ctx context.Context, req *EnqueueRequest) (int64, error)
	DrainReady(ctx context.Context, now time.Time) ([]*PendingMutation, error)
	Remove(ctx context.Context, id int64) error
	Reschedule(ctx context.Context, id int64, at time.Time, retryCount int) error
	MarkInFlight(id int64) bool
	Fail(ctx context.Context, m *PendingMutation, reason string) error
	PendingCount() int
	FailedCount(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Load(ctx context.Context) error
}

type EnqueueRequest struct {
	Endpoint   string             `json:"endpoint"`
	Method     string             `json:"method"`
	Payload    []byte             `json:"payload"`
	Headers    map[string]string  `json:"headers,omitempty"`
	Priority   int                `json:"priority"`
	MaxRetries int                `json:"max_retries"`
	LocalID    string             `json:"local_id,omitempty"`
	Record     *LocalDomainRecord `json:"record,omitempty"`
}

type PendingMutation struct {
	ID          int64             `json:"id"`
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method"`
	Payload     []byte            `json:"payload"`
	Headers     map[string]string `json:"headers,omitempty"`
	Priority    int               `json:"priority"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	CreatedAt   time.Time         `json:"created_at"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	LocalID     string            `json:"local_id,omitempty"`
	State       MutationState     `json:"state"`
}

// Clone returns a copy for copy-on-write state transitions.
func (m *PendingMutation) Clone() *PendingMutation {
	clone := *m
	if m.Payload != nil {
		clone.Payload = make([]byte, len(m.Payload))
		copy(clone.Payload, m.Payload)
	}
	if m.Headers != nil {
		clone.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			clone.Headers[k] = v
		}
	}
	return &clone
}

type FailedMutation struct {
	Mutation PendingMutation `json:"mutation"`
	Reason   string          `json:"reason"`
	FailedAt time.Time       `json:"failed_at"`
}
