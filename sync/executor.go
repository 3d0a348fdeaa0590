package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
)

type passOutcome int

const (
	outcomeApplied passOutcome = iota
	outcomeDeferred
	outcomeAbandoned
)

// executor runs one sync pass over the drained queue snapshot. Per-entry
// outcomes are isolated: a failed send never halts the pass, it only decides
// that entry's fate.
type executor struct {
	logger      types.Logger
	queue       types.MutationQueue
	records     types.RecordStore
	transport   types.Transport
	broker      types.EventBroker
	sendTimeout time.Duration
	baseDelay   time.Duration
}

func newExecutor(logger types.Logger, queue types.MutationQueue, records types.RecordStore, transport types.Transport, broker types.EventBroker, sendTimeout, baseDelay time.Duration) *executor {
	return &executor{
		logger:      logger,
		queue:       queue,
		records:     records,
		transport:   transport,
		broker:      broker,
		sendTimeout: sendTimeout,
		baseDelay:   baseDelay,
	}
}

func (e *executor) runPass(ctx context.Context) types.PassResult {
	start := time.Now()
	var result types.PassResult

	ready, err := e.queue.DrainReady(ctx, start)
	if err != nil {
		e.logger.Error("Failed to drain mutation queue", zap.Error(err))
		result.Duration = time.Since(start)
		result.FinishedAt = time.Now()
		return result
	}

	for i, mutation := range ready {
		select {
		case <-ctx.Done():
			e.logger.Warn("Sync pass interrupted",
				zap.Int("remaining", len(ready)-i))
			result.Duration = time.Since(start)
			result.FinishedAt = time.Now()
			return result
		default:
		}

		// The snapshot can be stale; skip entries claimed or removed since.
		if !e.queue.MarkInFlight(mutation.ID) {
			continue
		}

		switch e.sendOne(ctx, mutation) {
		case outcomeApplied:
			result.Applied++
		case outcomeDeferred:
			result.Deferred++
		case outcomeAbandoned:
			result.Abandoned++
		}
	}

	result.Duration = time.Since(start)
	result.FinishedAt = time.Now()
	return result
}

func (e *executor) sendOne(ctx context.Context, mutation *types.PendingMutation) passOutcome {
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	err := e.transport.Send(sendCtx, mutation.Endpoint, mutation.Method, mutation.Payload, mutation.Headers)
	cancel()

	if err == nil {
		return e.apply(ctx, mutation)
	}

	if types.IsError(err, types.ErrPermanentRejection) {
		return e.abandon(ctx, mutation, err.Error())
	}

	return e.postpone(ctx, mutation, err)
}

func (e *executor) apply(ctx context.Context, mutation *types.PendingMutation) passOutcome {
	if err := e.queue.Remove(ctx, mutation.ID); err != nil {
		// Delivered but not removed: at-least-once allows the resend that
		// follows from a stale row.
		e.logger.Error("Failed to remove applied mutation",
			zap.Int64("id", mutation.ID), zap.Error(err))
	}

	if mutation.LocalID != "" && e.records != nil {
		if err := e.records.MarkSynced(ctx, mutation.LocalID); err != nil {
			e.logger.Warn("Failed to mark record synced",
				zap.Int64("id", mutation.ID),
				zap.String("local_id", mutation.LocalID),
				zap.Error(err))
		}
	}

	e.logger.Debug("Mutation applied",
		zap.Int64("id", mutation.ID),
		zap.String("endpoint", mutation.Endpoint))

	e.publish(types.EventMutationApplied, map[string]interface{}{
		"id":       mutation.ID,
		"local_id": mutation.LocalID,
		"endpoint": mutation.Endpoint,
	})

	return outcomeApplied
}

func (e *executor) abandon(ctx context.Context, mutation *types.PendingMutation, reason string) passOutcome {
	if err := e.queue.Fail(ctx, mutation, reason); err != nil {
		e.logger.Error("Failed to dead-letter mutation",
			zap.Int64("id", mutation.ID), zap.Error(err))
	}

	e.logger.Warn("Mutation abandoned",
		zap.Int64("id", mutation.ID),
		zap.String("endpoint", mutation.Endpoint),
		zap.Int("retry_count", mutation.RetryCount),
		zap.String("reason", reason))

	e.publish(types.EventMutationAbandoned, map[string]interface{}{
		"id":          mutation.ID,
		"local_id":    mutation.LocalID,
		"endpoint":    mutation.Endpoint,
		"retry_count": mutation.RetryCount,
		"reason":      reason,
	})

	return outcomeAbandoned
}

func (e *executor) postpone(ctx context.Context, mutation *types.PendingMutation, sendErr error) passOutcome {
	retryCount := mutation.RetryCount + 1

	if retryCount >= mutation.MaxRetries {
		mutation.RetryCount = retryCount
		reason := fmt.Sprintf("retry limit reached (%d): %s", retryCount, sendErr.Error())
		return e.abandon(ctx, mutation, reason)
	}

	// Linear backoff: the delay grows with each attempt.
	at := time.Now().Add(time.Duration(retryCount) * e.baseDelay)

	if err := e.queue.Reschedule(ctx, mutation.ID, at, retryCount); err != nil {
		e.logger.Error("Failed to reschedule mutation",
			zap.Int64("id", mutation.ID), zap.Error(err))
		return outcomeDeferred
	}

	e.logger.Debug("Mutation deferred",
		zap.Int64("id", mutation.ID),
		zap.Int("retry_count", retryCount),
		zap.Time("scheduled_at", at),
		zap.Error(sendErr))

	return outcomeDeferred
}

func (e *executor) publish(event string, payload interface{}) {
	if e.broker == nil {
		return
	}

	if err := e.broker.Publish(event, payload); err != nil {
		e.logger.Debug("Failed to publish sync event",
			zap.String("event", event), zap.Error(err))
	}
}
