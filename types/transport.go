package types

import (
	"context"
)

// Transport delivers one mutation to the remote service. Implementations
// classify outcomes into ErrTransientNetwork / ErrPermanentRejection; retry
// policy lives in the sync executor, never here.
type Transport interface {
	LifecycleManager
	Send(ctx context.Context, endpoint, method string, payload []byte, headers map[string]string) error
}

type TransportCreator func(config interface{}) (Transport, error)
