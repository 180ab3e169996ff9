package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// FlushWorkerConfig bounds the in-handler retry of durable writes.
type FlushWorkerConfig struct {
	// MaxAttempts caps durable-write attempts per drained delta.
	// Kept low relative to the sweep interval: a retried sweep picks up
	// freshly-accrued deltas even if an old one is lost.
	MaxAttempts int

	// BaseDelay is the first retry delay; it doubles per attempt.
	BaseDelay time.Duration
}

// FlushWorker processes flush and sweep jobs from the queue. Mutual
// exclusion per key needs no lock: the drain is a single atomic
// primitive, so a concurrent worker either wins the delta or gets zero.
type FlushWorker struct {
	buffers  BufferStore
	counters CounterStore
	enqueuer Enqueuer
	config   FlushWorkerConfig
}

// NewFlushWorker creates a new flush worker.
func NewFlushWorker(buffers BufferStore, counters CounterStore, enqueuer Enqueuer, cfg FlushWorkerConfig) *FlushWorker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	return &FlushWorker{
		buffers:  buffers,
		counters: counters,
		enqueuer: enqueuer,
		config:   cfg,
	}
}

// ProcessFlush handles one flush job: atomically drain the key's buffer
// and apply the drained delta as a relative durable increment. A zero
// drain is success: another job already flushed this key.
func (w *FlushWorker) ProcessFlush(ctx context.Context, task *asynq.Task) error {
	key, err := ParseFlushPayload(task.Payload())
	if err != nil {
		// Malformed payloads never become valid; dead-letter without retry.
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	start := time.Now()

	drained, err := w.buffers.Drain(ctx, key)
	if err != nil {
		// Nothing was consumed yet; let the queue retry with backoff.
		return fmt.Errorf("draining %s: %w", key.String(), err)
	}

	if drained.Delta == 0 {
		return nil
	}

	if err := w.applyWithRetry(ctx, key, drained.Delta); err != nil {
		// The pending state was already removed at drain time, so this is
		// the documented bounded-loss window. Returning the error would
		// make the queue re-run the handler against a fresh (empty or
		// newly-accrued) buffer, not the lost delta, so drop instead.
		slog.Error("flush exhausted retries, dropping drained delta",
			"key", key.String(),
			"delta", drained.Delta,
			"attempts", w.config.MaxAttempts,
			"error", err,
		)
		return nil
	}

	slog.Info("flush applied",
		"key", key.String(),
		"delta", drained.Delta,
		"actors", len(drained.Actors),
		"duration", time.Since(start),
	)
	return nil
}

// ProcessSweep handles one sweep tick: enumerate every key with pending
// state for the op family and enqueue one default-priority flush job
// per key. Keys already queued this epoch dedup at enqueue time.
func (w *FlushWorker) ProcessSweep(ctx context.Context, task *asynq.Task) error {
	op, err := ParseSweepPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	keys, err := w.buffers.PendingKeys(ctx, op)
	if err != nil {
		return fmt.Errorf("enumerating pending %s keys: %w", op, err)
	}

	if len(keys) == 0 {
		return nil
	}

	enqueued := 0
	for _, key := range keys {
		if err := w.enqueuer.EnqueueFlush(key, PriorityDefault); err != nil {
			slog.Error("sweep enqueue failed", "key", key.String(), "error", err)
			continue
		}
		enqueued++
	}

	slog.Info("sweep complete", "op", op, "pending", len(keys), "enqueued", enqueued)
	return nil
}

// applyWithRetry applies a drained delta with exponential backoff,
// bounded by MaxAttempts so a stuck durable store cannot pin a worker.
func (w *FlushWorker) applyWithRetry(ctx context.Context, key InteractionKey, delta int64) error {
	var lastErr error
	delay := w.config.BaseDelay

	for attempt := 1; attempt <= w.config.MaxAttempts; attempt++ {
		lastErr = w.counters.ApplyDelta(ctx, key.TargetID, key.TargetType, key.Op, delta)
		if lastErr == nil {
			return nil
		}

		if attempt == w.config.MaxAttempts {
			break
		}

		slog.Warn("durable counter write failed, retrying",
			"key", key.String(),
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	return lastErr
}
