package cacheinfra

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/rs/zerolog"
)

// BatchWriter wraps a backing store and splits writes into fixed size
// chunks. Transient failures are handed to a scheduler instead of failing
// the caller:
//
//   - a timeout retries the failing chunk once and defers every entity after
//     it with a fixed countdown, up to MaxAttempts;
//   - a quota failure defers the whole batch with a delay that doubles per
//     attempt, up to MaxAttempts.
//
// Reads, deletes and queries pass straight through.
type BatchWriter struct {
	cache.BackingStore

	scheduler        cache.Scheduler
	batchSize        int
	timeoutCountdown time.Duration
	quotaBaseDelay   time.Duration
	maxAttempts      int
	logger           zerolog.Logger
}

var _ cache.BackingStore = (*BatchWriter)(nil)

// NewBatchWriter wraps store. A nil scheduler disables deferral; transient
// failures are then returned to the caller.
func NewBatchWriter(store cache.BackingStore, scheduler cache.Scheduler, batchSize int, cfg QueueConfig, logger zerolog.Logger) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &BatchWriter{
		BackingStore:     store,
		scheduler:        scheduler,
		batchSize:        batchSize,
		timeoutCountdown: cfg.TimeoutCountdown,
		quotaBaseDelay:   cfg.QuotaBaseDelay,
		maxAttempts:      cfg.MaxAttempts,
		logger:           logger.With().Str("component", "batch_writer").Logger(),
	}
}

// Name implements cache.Store.
func (w *BatchWriter) Name() string {
	return "batched(" + w.BackingStore.Name() + ")"
}

// PutMany implements cache.Store. Returned keys cover only the entities
// written synchronously; deferred entities keep their keys until the
// scheduled write runs.
func (w *BatchWriter) PutMany(ctx context.Context, entities []cache.Entity, ttl time.Duration) ([]string, error) {
	return w.write(ctx, entities, ttl, 0)
}

// Retry is the TaskHandler for deferred writes.
func (w *BatchWriter) Retry(ctx context.Context, task cache.Task) error {
	_, err := w.write(ctx, task.Entities, 0, task.Attempt)
	return err
}

func (w *BatchWriter) write(ctx context.Context, entities []cache.Entity, ttl time.Duration, attempt int) ([]string, error) {
	keys := make([]string, 0, len(entities))

	for start := 0; start < len(entities); start += w.batchSize {
		end := min(start+w.batchSize, len(entities))
		chunk := entities[start:end]

		written, err := w.BackingStore.PutMany(ctx, chunk, ttl)
		if err == nil {
			keys = append(keys, written...)
			continue
		}

		switch {
		case cache.IsTimeout(err) && w.scheduler != nil:
			return w.onTimeout(ctx, keys, chunk, entities[end:], ttl, attempt, err)
		case cache.IsQuotaExceeded(err) && w.scheduler != nil:
			return w.onQuota(ctx, keys, entities, attempt, err)
		default:
			return keys, errors.Wrapf(err, "backing write of %d entities", len(chunk))
		}
	}
	return keys, nil
}

func (w *BatchWriter) onTimeout(ctx context.Context, keys []string, chunk, rest []cache.Entity, ttl time.Duration, attempt int, cause error) ([]string, error) {
	written, err := w.BackingStore.PutMany(ctx, chunk, ttl)
	if err == nil {
		keys = append(keys, written...)
	} else {
		w.logger.Warn().Err(err).Int("count", len(chunk)).Msg("chunk retry after timeout failed, deferring it")
		rest = append(append([]cache.Entity(nil), chunk...), rest...)
	}

	if len(rest) == 0 {
		return keys, nil
	}

	next := attempt + 1
	if next > w.maxAttempts {
		w.logger.Error().Err(cause).Int("attempt", attempt).Int("count", len(rest)).Msg("giving up deferred backing write")
		return keys, errors.Wrapf(cause, "backing write abandoned after %d attempts", attempt)
	}

	task := cache.Task{
		Entities: rest,
		Attempt:  next,
		Delay:    w.timeoutCountdown,
		Reason:   "timeout",
	}
	if err := w.schedule(ctx, task); err != nil {
		return keys, errors.CombineErrors(cause, err)
	}
	return keys, nil
}

func (w *BatchWriter) onQuota(ctx context.Context, keys []string, batch []cache.Entity, attempt int, cause error) ([]string, error) {
	next := attempt + 1
	if next > w.maxAttempts {
		w.logger.Error().Err(cause).Int("attempt", attempt).Int("count", len(batch)).Msg("giving up deferred backing write")
		return keys, errors.Wrapf(cause, "backing write abandoned after %d attempts", attempt)
	}

	task := cache.Task{
		Entities: batch,
		Attempt:  next,
		Delay:    QuotaDelay(w.quotaBaseDelay, next),
		Reason:   "quota",
	}
	if err := w.schedule(ctx, task); err != nil {
		return keys, errors.CombineErrors(cause, err)
	}

	if len(keys) > 0 {
		return keys, nil
	}
	return keys, errors.Wrap(cause, "backing write deferred")
}

func (w *BatchWriter) schedule(ctx context.Context, task cache.Task) error {
	w.logger.Info().
		Str("reason", task.Reason).
		Int("count", len(task.Entities)).
		Int("attempt", task.Attempt).
		Dur("delay", task.Delay).
		Msg("deferring backing write")

	return w.scheduler.Schedule(context.WithoutCancel(ctx), task)
}

// QuotaDelay is the countdown before the given quota attempt: base for the
// first attempt, doubling for each one after.
func QuotaDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
