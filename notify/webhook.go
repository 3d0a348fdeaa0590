package notify

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-sync/types"
	"github.com/saiset-co/sai-sync/utils"
)

const (
	DefaultDeliveryTimeout = 30 * time.Second
	DefaultRequestTimeout  = 5 * time.Second
)

// WebhookNotifier posts engine events to registered HTTP endpoints. The
// registry lives in the durable store, so subscriptions survive restarts
// together with the rest of the engine state.
//
// Rows are keyed "<event>/<id>": Notify filters by key prefix and never
// has to unmarshal subscriptions for other events.
type WebhookNotifier struct {
	ctx             context.Context
	logger          types.Logger
	store           types.DurableStore
	client          *fasthttp.Client
	deliveryTimeout time.Duration
	requestTimeout  time.Duration
}

func NewWebhookNotifier(ctx context.Context, logger types.Logger, store types.DurableStore) *WebhookNotifier {
	return &WebhookNotifier{
		ctx:    ctx,
		logger: logger,
		store:  store,
		client: &fasthttp.Client{
			ReadTimeout:  DefaultRequestTimeout,
			WriteTimeout: DefaultRequestTimeout,
		},
		deliveryTimeout: DefaultDeliveryTimeout,
		requestTimeout:  DefaultRequestTimeout,
	}
}

// Register stores a subscription for the given event. A missing secret is
// generated, so every delivery can be signed.
func (wn *WebhookNotifier) Register(ctx context.Context, event, url, secret string) (*types.WebhookSubscription, error) {
	if event == "" || url == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "event and url are required")
	}

	if secret == "" {
		generated, err := generateSecret()
		if err != nil {
			return nil, types.WrapError(err, "failed to generate webhook secret")
		}
		secret = generated
	}

	subscription := &types.WebhookSubscription{
		ID:        uuid.NewString(),
		Event:     event,
		URL:       url,
		Secret:    secret,
		CreatedAt: time.Now(),
	}

	value, err := utils.Marshal(subscription)
	if err != nil {
		return nil, types.WrapError(err, "failed to marshal webhook subscription")
	}

	if err := wn.store.Put(ctx, types.CollectionWebhooks, webhookKey(event, subscription.ID), value); err != nil {
		return nil, types.WrapError(err, "failed to store webhook subscription")
	}

	wn.logger.Info("Webhook registered",
		zap.String("id", subscription.ID),
		zap.String("event", event),
		zap.String("url", url))

	return subscription, nil
}

func (wn *WebhookNotifier) List(ctx context.Context) ([]*types.WebhookSubscription, error) {
	rows, err := wn.store.Scan(ctx, types.CollectionWebhooks, nil)
	if err != nil {
		return nil, types.WrapError(err, "failed to scan webhook subscriptions")
	}

	subscriptions := make([]*types.WebhookSubscription, 0, len(rows))
	for _, row := range rows {
		subscription := &types.WebhookSubscription{}
		if err := utils.Unmarshal(row.Value, subscription); err != nil {
			wn.logger.Warn("Skipping unreadable webhook subscription",
				zap.String("key", row.Key),
				zap.Error(err))
			continue
		}
		subscriptions = append(subscriptions, subscription)
	}

	return subscriptions, nil
}

func (wn *WebhookNotifier) Remove(ctx context.Context, id string) error {
	if id == "" {
		return types.Errorf(types.ErrInvalidParameter, "webhook id is required")
	}

	rows, err := wn.store.Scan(ctx, types.CollectionWebhooks, func(key string, _ []byte) bool {
		return strings.HasSuffix(key, "/"+id)
	})
	if err != nil {
		return types.WrapError(err, "failed to scan webhook subscriptions")
	}
	if len(rows) == 0 {
		return types.Errorf(types.ErrWebhookNotFound, "id: %s", id)
	}

	if err := wn.store.Delete(ctx, types.CollectionWebhooks, rows[0].Key); err != nil {
		return types.WrapError(err, "failed to delete webhook subscription")
	}

	wn.logger.Info("Webhook removed", zap.String("id", id))
	return nil
}

// Notify delivers the event to every matching subscription concurrently.
// Partial failure is logged and reported, but deliveries that succeeded
// stay succeeded; there is no retry here.
func (wn *WebhookNotifier) Notify(event string, message *types.SyncEvent) error {
	prefix := event + "/"
	rows, err := wn.store.Scan(wn.ctx, types.CollectionWebhooks, func(key string, _ []byte) bool {
		return strings.HasPrefix(key, prefix)
	})
	if err != nil {
		return types.WrapError(err, "failed to load webhook subscriptions")
	}

	if len(rows) == 0 {
		return nil
	}

	body, err := utils.Marshal(message)
	if err != nil {
		return types.WrapError(err, "failed to marshal webhook payload")
	}

	wn.logger.Debug("Notifying webhooks",
		zap.String("event", event),
		zap.Int("webhook_count", len(rows)))

	notifyCtx, cancel := context.WithTimeout(wn.ctx, wn.deliveryTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(notifyCtx)

	var delivered int32
	var failed int32

	for _, row := range rows {
		subscription := &types.WebhookSubscription{}
		if err := utils.Unmarshal(row.Value, subscription); err != nil {
			wn.logger.Warn("Skipping unreadable webhook subscription",
				zap.String("key", row.Key),
				zap.Error(err))
			continue
		}

		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}

			if err := wn.deliver(subscription, body); err != nil {
				atomic.AddInt32(&failed, 1)
				wn.logger.Error("Webhook delivery failed",
					zap.String("webhook_id", subscription.ID),
					zap.String("event", event),
					zap.String("url", subscription.URL),
					zap.Error(err))
				return err
			}

			atomic.AddInt32(&delivered, 1)
			wn.logger.Debug("Webhook delivered",
				zap.String("webhook_id", subscription.ID),
				zap.String("event", event))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if atomic.LoadInt32(&delivered) > 0 {
			wn.logger.Warn("Some webhook deliveries failed",
				zap.String("event", event),
				zap.Int32("delivered", atomic.LoadInt32(&delivered)),
				zap.Int32("failed", atomic.LoadInt32(&failed)))
			return nil
		}
		return types.WrapError(err, "all webhook deliveries failed")
	}

	return nil
}

func (wn *WebhookNotifier) deliver(subscription *types.WebhookSubscription, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(subscription.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.SetUserAgent("sai-sync-webhook/1.0")
	req.SetBody(body)

	if subscription.Secret != "" {
		signature := signPayload(subscription.Secret, body)
		req.Header.Set("X-Signature", "sha256="+signature)
	}

	if err := wn.client.DoTimeout(req, resp, wn.requestTimeout); err != nil {
		return types.WrapError(err, "webhook request failed")
	}

	if resp.StatusCode() >= 400 {
		return types.NewErrorf("webhook %s returned HTTP %d", subscription.ID, resp.StatusCode())
	}

	return nil
}

func webhookKey(event, id string) string {
	return fmt.Sprintf("%s/%s", event, id)
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func generateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
