package types

import (
	"time"
)

const (
	EventSyncPassCompleted   = "sync.pass.completed"
	EventMutationApplied     = "mutation.applied"
	EventMutationAbandoned   = "mutation.abandoned"
	EventConnectivityChanged = "connectivity.changed"
	EventCacheSwept          = "cache.swept"
	EventQueueOverflow       = "queue.overflow"
)

// EventBroker fans engine events out to local subscribers and optional
// outbound legs (websocket, webhooks). Publish failures are telemetry
// failures, never engine failures.
type EventBroker interface {
	Publish(event string, payload interface{}) error
	Subscribe(event string, handler EventHandler) error
	Unsubscribe(event string) error
}

// NotifyManager is the lifecycle-owning face of the dispatcher.
type NotifyManager interface {
	LifecycleManager
	EventBroker
}

type EventHandler func(event *SyncEvent) error

type EventBrokerCreator func(config interface{}) (EventBroker, error)

type SyncEvent struct {
	Name      string      `json:"name"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
	EventID   string      `json:"event_id"`
}

type WebhookSubscription struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
