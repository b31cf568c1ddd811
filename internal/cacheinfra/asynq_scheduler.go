package cacheinfra

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// TaskBackingPut is the asynq task type for deferred backing writes.
const TaskBackingPut = "layercache:backing_put"

// backingPutPayload is the msgpack body of a TaskBackingPut task.
type backingPutPayload struct {
	Attempt  int    `msgpack:"attempt"`
	Reason   string `msgpack:"reason"`
	Entities []byte `msgpack:"entities"`
}

// AsynqScheduler enqueues deferred writes on a redis backed asynq queue so
// they survive process restarts. Retries are driven by the batch writer,
// not by asynq, so tasks are enqueued with no asynq retries.
type AsynqScheduler struct {
	client *asynq.Client
	codec  *cache.EntityCodec
	queue  string
	logger zerolog.Logger
}

var _ cache.Scheduler = (*AsynqScheduler)(nil)

// NewAsynqScheduler connects to the queue redis named in cfg.
func NewAsynqScheduler(cfg QueueConfig, codec *cache.EntityCodec, logger zerolog.Logger) *AsynqScheduler {
	return &AsynqScheduler{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}),
		codec:  codec,
		queue:  cfg.Name,
		logger: logger.With().Str("component", "asynq_scheduler").Logger(),
	}
}

// NewBackingPutTask builds the asynq task for t.
func NewBackingPutTask(codec *cache.EntityCodec, t cache.Task) (*asynq.Task, error) {
	entities, err := codec.EncodeMany(t.Entities)
	if err != nil {
		return nil, errors.Wrap(err, "encode deferred entities")
	}

	payload, err := msgpack.Marshal(backingPutPayload{
		Attempt:  t.Attempt,
		Reason:   t.Reason,
		Entities: entities,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode task payload")
	}
	return asynq.NewTask(TaskBackingPut, payload), nil
}

// Schedule implements cache.Scheduler.
func (s *AsynqScheduler) Schedule(ctx context.Context, t cache.Task) error {
	task, err := NewBackingPutTask(s.codec, t)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(s.queue),
		asynq.MaxRetry(0),
		asynq.TaskID(uuid.NewString()),
	}
	if t.Delay > 0 {
		opts = append(opts, asynq.ProcessIn(t.Delay))
	}

	info, err := s.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return errors.Wrap(err, "enqueue deferred write")
	}

	s.logger.Info().
		Str("task_id", info.ID).
		Str("queue", info.Queue).
		Int("count", len(t.Entities)).
		Int("attempt", t.Attempt).
		Msg("enqueued deferred write")
	return nil
}

// Close implements cache.Scheduler.
func (s *AsynqScheduler) Close() error {
	return s.client.Close()
}

// NewAsynqHandler returns the worker side handler that decodes
// TaskBackingPut payloads and runs them through handler.
func NewAsynqHandler(handler cache.TaskHandler, codec *cache.EntityCodec) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		task, err := DecodeBackingPutTask(codec, t)
		if err != nil {
			// A payload that cannot be decoded will never succeed.
			return errors.Wrap(asynq.SkipRetry, err.Error())
		}
		return handler(ctx, task)
	})
}

// DecodeBackingPutTask reverses NewBackingPutTask.
func DecodeBackingPutTask(codec *cache.EntityCodec, t *asynq.Task) (cache.Task, error) {
	if t.Type() != TaskBackingPut {
		return cache.Task{}, errors.Newf("unexpected task type %q", t.Type())
	}

	var p backingPutPayload
	if err := msgpack.Unmarshal(t.Payload(), &p); err != nil {
		return cache.Task{}, errors.Wrap(err, "decode task payload")
	}

	entities, err := codec.DecodeMany(p.Entities)
	if err != nil {
		return cache.Task{}, err
	}
	return cache.Task{Entities: entities, Attempt: p.Attempt, Reason: p.Reason}, nil
}

// NewAsynqWorker builds an asynq server and mux that process deferred writes
// from the configured queue.
func NewAsynqWorker(cfg QueueConfig, handler cache.TaskHandler, codec *cache.EntityCodec) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency: max(cfg.Workers, 1),
		Queues: map[string]int{
			cfg.Name: 1,
		},
	})

	mux := asynq.NewServeMux()
	mux.Handle(TaskBackingPut, NewAsynqHandler(handler, codec))
	return srv, mux
}
