package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-sync/types"
	"github.com/saiset-co/sai-sync/utils"
)

type BrokerState int32

const (
	BrokerStateStopped BrokerState = iota
	BrokerStateStarting
	BrokerStateRunning
	BrokerStateStopping
	BrokerStateReconnecting
)

type WebSocketConfig struct {
	URL            string        `yaml:"url" json:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	PingInterval   time.Duration `yaml:"ping_interval" json:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait" json:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait" json:"write_wait"`
}

// WebSocketBroker pushes engine events to a companion endpoint and feeds
// remote events back into subscribed handlers. The write pump lives for the
// broker's whole lifetime; a read pump is bound to one connection and dies
// with it. Reconnects are serialized through a capacity-one trigger channel.
type WebSocketBroker struct {
	ctx               context.Context
	cancel            context.CancelFunc
	logger            types.Logger
	config            *WebSocketConfig
	conn              *websocket.Conn
	connMu            sync.RWMutex
	subs              map[string][]types.EventHandler
	subsMu            sync.RWMutex
	send              chan *types.SyncEvent
	reconnectCh       chan struct{}
	state             atomic.Value
	pumps             sync.WaitGroup
	shutdownTimeout   time.Duration
	reconnectAttempts int32
}

func NewWebSocketBroker(ctx context.Context, logger types.Logger, config interface{}) (*WebSocketBroker, error) {
	wsConfig := &WebSocketConfig{
		ReconnectDelay: 5 * time.Second,
		MaxRetries:     10,
		PingInterval:   54 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, wsConfig); err != nil {
			return nil, types.WrapError(err, "failed to parse websocket config")
		}
	}

	if wsConfig.URL == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "websocket url is required")
	}

	brokerCtx, cancel := context.WithCancel(ctx)

	broker := &WebSocketBroker{
		ctx:             brokerCtx,
		cancel:          cancel,
		logger:          logger,
		config:          wsConfig,
		subs:            make(map[string][]types.EventHandler),
		send:            make(chan *types.SyncEvent, 256),
		reconnectCh:     make(chan struct{}, 1),
		shutdownTimeout: 10 * time.Second,
	}

	broker.state.Store(BrokerStateStopped)

	logger.Info("WebSocket broker initialized",
		zap.String("url", wsConfig.URL),
		zap.Duration("reconnect_delay", wsConfig.ReconnectDelay),
		zap.Int("max_retries", wsConfig.MaxRetries))

	return broker, nil
}

func (w *WebSocketBroker) Publish(event string, payload interface{}) error {
	if !w.IsRunning() {
		return types.ErrComponentNotRunning
	}

	message := &types.SyncEvent{
		Name:      event,
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    "websocket",
		EventID:   uuid.NewString(),
	}

	select {
	case w.send <- message:
		w.logger.Debug("Message queued for publishing",
			zap.String("event", event),
			zap.String("event_id", message.EventID))
		return nil
	case <-w.ctx.Done():
		return types.ErrComponentNotRunning
	default:
		w.logger.Error("Send channel is full, dropping message",
			zap.String("event", event),
			zap.String("event_id", message.EventID))
		return types.Errorf(types.ErrNotifyPublishFailed, "send buffer full, event: %s", event)
	}
}

func (w *WebSocketBroker) Subscribe(event string, handler types.EventHandler) error {
	if event == "" || handler == nil {
		return types.Errorf(types.ErrInvalidParameter, "event and handler are required")
	}

	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	w.subs[event] = append(w.subs[event], w.wrapHandler(event, handler))

	w.logger.Debug("Subscribed to event",
		zap.String("event", event),
		zap.Int("total_handlers", len(w.subs[event])))

	return nil
}

func (w *WebSocketBroker) Unsubscribe(event string) error {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	removed := len(w.subs[event])
	delete(w.subs, event)

	w.logger.Debug("Unsubscribed from event",
		zap.String("event", event),
		zap.Int("removed_handlers", removed))

	return nil
}

func (w *WebSocketBroker) Start() error {
	if !w.transitionState(BrokerStateStopped, BrokerStateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	conn, err := w.connect()
	if err != nil {
		w.setState(BrokerStateStopped)
		return types.WrapError(err, "failed to establish initial connection")
	}

	w.setState(BrokerStateRunning)

	w.pumps.Add(2)
	go w.writePump()
	go w.reconnectLoop()
	w.spawnReadPump(conn)

	w.logger.Info("WebSocket broker started")
	return nil
}

func (w *WebSocketBroker) Stop() error {
	if !w.transitionState(BrokerStateRunning, BrokerStateStopping) &&
		!w.transitionState(BrokerStateReconnecting, BrokerStateStopping) {
		return types.ErrComponentNotRunning
	}

	w.cancel()

	// Closing the connection unblocks a read pump stuck in ReadMessage.
	w.connMu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		w.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("WebSocket broker stopped gracefully")
	case <-time.After(w.shutdownTimeout):
		w.logger.Warn("WebSocket broker stop timeout, some pumps may not have stopped")
	}

	w.setState(BrokerStateStopped)
	return nil
}

func (w *WebSocketBroker) IsRunning() bool {
	state := w.getState()
	return state == BrokerStateRunning || state == BrokerStateReconnecting
}

func (w *WebSocketBroker) getState() BrokerState {
	return w.state.Load().(BrokerState)
}

func (w *WebSocketBroker) setState(newState BrokerState) bool {
	return w.state.CompareAndSwap(w.getState(), newState)
}

func (w *WebSocketBroker) transitionState(from, to BrokerState) bool {
	return w.state.CompareAndSwap(from, to)
}

func (w *WebSocketBroker) connect() (*websocket.Conn, error) {
	w.logger.Debug("Connecting to websocket endpoint", zap.String("url", w.config.URL))

	dialCtx, cancel := context.WithTimeout(w.ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, w.config.URL, nil)
	if err != nil {
		return nil, types.Errorf(types.ErrNotifyConnectionFailed, "dial %s: %v", w.config.URL, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(w.config.PongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(w.config.PongWait))
		return nil
	})

	w.connMu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
	}
	w.conn = conn
	w.connMu.Unlock()

	atomic.StoreInt32(&w.reconnectAttempts, 0)

	w.logger.Info("Connected to websocket endpoint", zap.String("url", w.config.URL))
	return conn, nil
}

func (w *WebSocketBroker) currentConn() *websocket.Conn {
	w.connMu.RLock()
	defer w.connMu.RUnlock()
	return w.conn
}

func (w *WebSocketBroker) spawnReadPump(conn *websocket.Conn) {
	w.pumps.Add(1)
	go w.readPump(conn)
}

// readPump drains one connection. When the read fails it requests a
// reconnect only if its connection is still the current one; a pump bound
// to a replaced connection exits silently.
func (w *WebSocketBroker) readPump(conn *websocket.Conn) {
	defer func() {
		w.pumps.Done()
		w.logger.Debug("Read pump stopped")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if w.ctx.Err() != nil || !w.IsRunning() {
				return
			}

			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				w.logger.Debug("WebSocket connection closed", zap.Error(err))
			} else {
				w.logger.Error("WebSocket read failed", zap.Error(err))
			}

			if w.currentConn() == conn {
				w.safeReconnectTrigger()
			}
			return
		}

		var message types.SyncEvent
		if err := utils.Unmarshal(data, &message); err != nil {
			w.logger.Error("Failed to unmarshal incoming message", zap.Error(err))
			continue
		}

		w.handleIncoming(&message)
	}
}

// writePump owns all writes: queued events and keepalive pings. A failed
// write drops the message and requests a reconnect, but the pump keeps
// serving the send channel across connections.
func (w *WebSocketBroker) writePump() {
	ticker := time.NewTicker(w.config.PingInterval)
	defer func() {
		ticker.Stop()
		w.pumps.Done()
		w.logger.Debug("Write pump stopped")
	}()

	for {
		select {
		case <-w.ctx.Done():
			return
		case message := <-w.send:
			data, err := utils.Marshal(message)
			if err != nil {
				w.logger.Error("Failed to marshal outgoing message",
					zap.String("event", message.Name),
					zap.Error(err))
				continue
			}

			if !w.writeMessage(websocket.TextMessage, data) {
				w.logger.Warn("Dropping message after write failure",
					zap.String("event", message.Name),
					zap.String("event_id", message.EventID))
				w.safeReconnectTrigger()
				continue
			}

			w.logger.Debug("Message sent",
				zap.String("event", message.Name),
				zap.String("event_id", message.EventID))

		case <-ticker.C:
			if !w.writeMessage(websocket.PingMessage, nil) {
				w.safeReconnectTrigger()
			}
		}
	}
}

func (w *WebSocketBroker) writeMessage(messageType int, data []byte) bool {
	w.connMu.RLock()
	defer w.connMu.RUnlock()

	if w.conn == nil {
		return false
	}

	_ = w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteWait))
	if err := w.conn.WriteMessage(messageType, data); err != nil {
		w.logger.Error("WebSocket write failed", zap.Error(err))
		return false
	}

	return true
}

func (w *WebSocketBroker) reconnectLoop() {
	defer func() {
		w.pumps.Done()
		w.logger.Debug("Reconnect loop stopped")
	}()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.reconnectCh:
			if !w.IsRunning() {
				return
			}

			w.transitionState(BrokerStateRunning, BrokerStateReconnecting)

			attempt := atomic.AddInt32(&w.reconnectAttempts, 1)
			if int(attempt) > w.config.MaxRetries {
				w.logger.Error("Max reconnection attempts reached, websocket leg gives up",
					zap.Int("max_retries", w.config.MaxRetries))
				w.setState(BrokerStateStopped)
				w.cancel()
				return
			}

			w.logger.Info("Reconnecting to websocket endpoint",
				zap.Int32("attempt", attempt),
				zap.Int("max_retries", w.config.MaxRetries))

			select {
			case <-time.After(w.config.ReconnectDelay):
			case <-w.ctx.Done():
				return
			}

			conn, err := w.connect()
			if err != nil {
				w.logger.Error("Reconnection attempt failed",
					zap.Int32("attempt", attempt),
					zap.Error(err))
				w.safeReconnectTrigger()
				continue
			}

			w.setState(BrokerStateRunning)
			w.spawnReadPump(conn)
		}
	}
}

func (w *WebSocketBroker) safeReconnectTrigger() {
	select {
	case w.reconnectCh <- struct{}{}:
	default:
	}
}

func (w *WebSocketBroker) handleIncoming(message *types.SyncEvent) {
	w.subsMu.RLock()
	handlers := make([]types.EventHandler, len(w.subs[message.Name]))
	copy(handlers, w.subs[message.Name])
	w.subsMu.RUnlock()

	if len(handlers) == 0 {
		w.logger.Debug("No handlers for incoming event",
			zap.String("event", message.Name),
			zap.String("event_id", message.EventID))
		return
	}

	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	for _, handler := range handlers {
		h := handler
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				return h(message)
			}
		})
	}

	if err := g.Wait(); err != nil {
		w.logger.Warn("Incoming event handling failed",
			zap.String("event", message.Name),
			zap.Error(err))
	}
}

func (w *WebSocketBroker) wrapHandler(event string, handler types.EventHandler) types.EventHandler {
	return func(message *types.SyncEvent) error {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Event handler panicked",
					zap.String("event", event),
					zap.Any("panic", r))
			}
		}()

		return handler(message)
	}
}
