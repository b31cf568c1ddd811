package cacheinfra

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackingPutTaskRoundTrip(t *testing.T) {
	codec := testCodec()
	parent := cache.NewNameKey("folder", "home", nil)
	child := &testDoc{Base: cache.NewBase(cache.NewIncompleteKey("doc", parent)), Title: "draft"}

	task, err := NewBackingPutTask(codec, cache.Task{
		Entities: []cache.Entity{newDoc("a", "first"), child},
		Attempt:  3,
		Reason:   "quota",
	})
	require.NoError(t, err)
	assert.Equal(t, TaskBackingPut, task.Type())

	decoded, err := DecodeBackingPutTask(codec, task)
	require.NoError(t, err)
	assert.Equal(t, 3, decoded.Attempt)
	assert.Equal(t, "quota", decoded.Reason)
	require.Len(t, decoded.Entities, 2)

	assert.Equal(t, "doc:n:a", decoded.Entities[0].Key().Encode())
	assert.Equal(t, "first", titleOf(decoded.Entities[0]))

	draft := decoded.Entities[1].Key()
	assert.True(t, draft.Incomplete())
	assert.True(t, draft.Parent.Equal(parent))
	assert.Equal(t, "draft", titleOf(decoded.Entities[1]))
}

func TestDecodeBackingPutTaskRejectsOtherTypes(t *testing.T) {
	_, err := DecodeBackingPutTask(testCodec(), asynq.NewTask("other:type", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected task type")
}

func TestAsynqHandlerRunsTask(t *testing.T) {
	codec := testCodec()
	var got cache.Task
	handler := NewAsynqHandler(func(ctx context.Context, task cache.Task) error {
		got = task
		return nil
	}, codec)

	task, err := NewBackingPutTask(codec, cache.Task{Entities: []cache.Entity{newDoc("a", "first")}, Attempt: 1, Reason: "timeout"})
	require.NoError(t, err)

	require.NoError(t, handler.ProcessTask(context.Background(), task))
	assert.Equal(t, 1, got.Attempt)
	require.Len(t, got.Entities, 1)
}

func TestAsynqHandlerPropagatesHandlerErrors(t *testing.T) {
	codec := testCodec()
	handler := NewAsynqHandler(func(ctx context.Context, task cache.Task) error {
		return errQuota
	}, codec)

	task, err := NewBackingPutTask(codec, cache.Task{Entities: []cache.Entity{newDoc("a", "first")}})
	require.NoError(t, err)

	err = handler.ProcessTask(context.Background(), task)
	assert.True(t, cache.IsQuotaExceeded(err))
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestAsynqHandlerSkipsUndecodablePayloads(t *testing.T) {
	called := false
	handler := NewAsynqHandler(func(ctx context.Context, task cache.Task) error {
		called = true
		return nil
	}, testCodec())

	err := handler.ProcessTask(context.Background(), asynq.NewTask(TaskBackingPut, []byte("not msgpack")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.False(t, called)
}

func TestNewAsynqWorkerRegistersHandler(t *testing.T) {
	cfg := DefaultConfig().Queue
	cfg.Backend = QueueBackendAsynq

	srv, mux := NewAsynqWorker(cfg, func(context.Context, cache.Task) error { return nil }, testCodec())
	require.NotNil(t, srv)
	require.NotNil(t, mux)

	h, pattern := mux.Handler(asynq.NewTask(TaskBackingPut, nil))
	assert.Equal(t, TaskBackingPut, pattern)
	assert.NotNil(t, h)
}
