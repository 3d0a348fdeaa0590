package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
)

// Dispatcher is the engine's event hub. Local subscribers always fire;
// the websocket leg and webhook deliveries are optional and their
// failures never propagate past a log line.
type Dispatcher struct {
	ctx      context.Context
	logger   types.Logger
	source   string
	outbound types.EventBroker
	webhooks *WebhookNotifier
	subs     map[string][]types.EventHandler
	subsMu   sync.RWMutex
	running  int32
}

func NewDispatcher(ctx context.Context, config types.ConfigManager, logger types.Logger, store types.DurableStore) (*Dispatcher, error) {
	engineConfig := config.GetConfig()
	notifyConfig := engineConfig.Notify

	if notifyConfig == nil || !notifyConfig.Enabled {
		return nil, types.ErrNotifyIsDisabled
	}

	dispatcher := &Dispatcher{
		ctx:    ctx,
		logger: logger,
		source: engineConfig.Name,
		subs:   make(map[string][]types.EventHandler),
	}

	if notifyConfig.Webhook {
		if store == nil {
			return nil, types.Errorf(types.ErrConfigIsNil, "webhook notifications need a durable store")
		}
		dispatcher.webhooks = NewWebhookNotifier(ctx, logger, store)
	}

	switch notifyConfig.Type {
	case "", "local":
	case "websocket":
		broker, err := NewWebSocketBroker(ctx, logger, notifyConfig.Config)
		if err != nil {
			return nil, types.WrapError(err, "failed to create websocket broker")
		}
		dispatcher.outbound = broker
	default:
		creator, exists := customBrokerCreators[notifyConfig.Type]
		if !exists {
			return nil, types.Errorf(types.ErrNotifyTypeUnknown, "type: %s", notifyConfig.Type)
		}
		broker, err := creator(notifyConfig.Config)
		if err != nil {
			return nil, types.WrapError(err, "failed to create event broker")
		}
		dispatcher.outbound = broker
	}

	return dispatcher, nil
}

func (d *Dispatcher) Publish(event string, payload interface{}) error {
	if !d.IsRunning() {
		return types.ErrComponentNotRunning
	}

	message := &types.SyncEvent{
		Name:      event,
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    d.source,
		EventID:   uuid.NewString(),
	}

	d.dispatchLocal(message)

	var wg sync.WaitGroup

	if d.outbound != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.outbound.Publish(event, payload); err != nil {
				d.logger.Error("Outbound publish failed",
					zap.String("event", event),
					zap.Error(err))
			}
		}()
	}

	if d.webhooks != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.webhooks.Notify(event, message); err != nil {
				d.logger.Error("Webhook notification failed",
					zap.String("event", event),
					zap.Error(err))
			}
		}()
	}

	wg.Wait()
	return nil
}

// dispatchLocal runs every local handler in subscription order. A failing
// or panicking handler never blocks the rest.
func (d *Dispatcher) dispatchLocal(message *types.SyncEvent) {
	d.subsMu.RLock()
	handlers := make([]types.EventHandler, len(d.subs[message.Name]))
	copy(handlers, d.subs[message.Name])
	d.subsMu.RUnlock()

	for i, handler := range handlers {
		d.runHandler(message, handler, i)
	}
}

func (d *Dispatcher) runHandler(message *types.SyncEvent, handler types.EventHandler, index int) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Event handler panicked",
				zap.String("event", message.Name),
				zap.Int("handler_index", index),
				zap.Any("panic", r))
		}
	}()

	if err := handler(message); err != nil {
		d.logger.Warn("Event handler failed",
			zap.String("event", message.Name),
			zap.String("event_id", message.EventID),
			zap.Int("handler_index", index),
			zap.Error(err))
	}
}

func (d *Dispatcher) Subscribe(event string, handler types.EventHandler) error {
	if event == "" || handler == nil {
		return types.Errorf(types.ErrInvalidParameter, "event and handler are required")
	}

	d.subsMu.Lock()
	d.subs[event] = append(d.subs[event], handler)
	total := len(d.subs[event])
	d.subsMu.Unlock()

	d.logger.Debug("Subscribed to event",
		zap.String("event", event),
		zap.Int("total_handlers", total))

	// Mirror the subscription onto the outbound leg so remote events
	// reach the same handler.
	if d.outbound != nil {
		if err := d.outbound.Subscribe(event, handler); err != nil {
			d.logger.Warn("Outbound subscribe failed",
				zap.String("event", event),
				zap.Error(err))
		}
	}

	return nil
}

func (d *Dispatcher) Unsubscribe(event string) error {
	if event == "" {
		return types.Errorf(types.ErrInvalidParameter, "event is required")
	}

	d.subsMu.Lock()
	removed := len(d.subs[event])
	delete(d.subs, event)
	d.subsMu.Unlock()

	d.logger.Debug("Unsubscribed from event",
		zap.String("event", event),
		zap.Int("removed_handlers", removed))

	if d.outbound != nil {
		if err := d.outbound.Unsubscribe(event); err != nil {
			d.logger.Warn("Outbound unsubscribe failed",
				zap.String("event", event),
				zap.Error(err))
		}
	}

	return nil
}

// SetBroker swaps the outbound leg before the dispatcher starts.
func (d *Dispatcher) SetBroker(broker types.EventBroker) error {
	if d.IsRunning() {
		return types.Errorf(types.ErrInvalidState, "cannot set broker while dispatcher is running")
	}

	d.outbound = broker
	d.logger.Info("Outbound broker set", zap.String("type", fmt.Sprintf("%T", broker)))

	return nil
}

func (d *Dispatcher) Start() error {
	if !atomic.CompareAndSwapInt32(&d.running, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	// A dead outbound leg is degraded telemetry, not a failed start.
	if lifecycle, ok := d.outbound.(types.LifecycleManager); ok {
		if err := lifecycle.Start(); err != nil {
			d.logger.Error("Failed to start outbound broker", zap.Error(err))
		} else {
			d.logger.Info("Outbound broker started")
		}
	}

	d.logger.Info("Event dispatcher started")
	return nil
}

func (d *Dispatcher) Stop() error {
	if !atomic.CompareAndSwapInt32(&d.running, 1, 0) {
		return types.ErrComponentNotRunning
	}

	if lifecycle, ok := d.outbound.(types.LifecycleManager); ok {
		if err := lifecycle.Stop(); err != nil {
			d.logger.Error("Failed to stop outbound broker", zap.Error(err))
		}
	}

	d.logger.Info("Event dispatcher stopped")
	return nil
}

func (d *Dispatcher) IsRunning() bool {
	return atomic.LoadInt32(&d.running) == 1
}

// Webhooks exposes the registry so callers can manage subscriptions.
// Nil when webhook notifications are disabled.
func (d *Dispatcher) Webhooks() *WebhookNotifier {
	return d.webhooks
}
