package cacheinfra

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/rs/zerolog"
)

// MemoryScheduler runs deferred writes on in-process workers. Delayed tasks
// wait on a timer before entering the queue. Pending work is lost when the
// process exits; use AsynqScheduler when writes must survive restarts.
type MemoryScheduler struct {
	workers int
	handler cache.TaskHandler
	logger  zerolog.Logger

	queue chan cache.Task
	wg    sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	scheduled int64
	processed int64
	failed    int64
	dropped   int64
}

var _ cache.Scheduler = (*MemoryScheduler)(nil)

// NewMemoryScheduler creates a scheduler with the configured worker count
// and queue size.
func NewMemoryScheduler(cfg QueueConfig, logger zerolog.Logger) *MemoryScheduler {
	workers, size := cfg.Workers, cfg.Size
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 64
	}
	return &MemoryScheduler{
		workers: workers,
		queue:   make(chan cache.Task, size),
		logger:  logger.With().Str("component", "memory_scheduler").Logger(),
	}
}

// Handle sets the function that executes tasks. It must be called before Start.
func (s *MemoryScheduler) Handle(handler cache.TaskHandler) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.handler = handler
}

// Start launches the workers. They stop when ctx is cancelled or Close is called.
func (s *MemoryScheduler) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}
	if s.handler == nil {
		return errors.New("scheduler has no task handler")
	}

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.started = true
	return nil
}

// Schedule implements cache.Scheduler. Tasks with a delay are enqueued when
// their timer fires; an overflowing queue drops them with a log entry.
func (s *MemoryScheduler) Schedule(_ context.Context, task cache.Task) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.stopped {
		return cache.ErrSchedulerClosed
	}

	atomic.AddInt64(&s.scheduled, 1)
	if task.Delay <= 0 {
		return s.enqueue(task)
	}

	time.AfterFunc(task.Delay, func() {
		s.lifecycleMu.Lock()
		defer s.lifecycleMu.Unlock()
		if s.stopped {
			atomic.AddInt64(&s.dropped, 1)
			return
		}
		if err := s.enqueue(task); err != nil {
			s.logger.Error().Err(err).Int("count", len(task.Entities)).Msg("dropping delayed task")
		}
	})
	return nil
}

// enqueue must be called with lifecycleMu held.
func (s *MemoryScheduler) enqueue(task cache.Task) error {
	select {
	case s.queue <- task:
		return nil
	default:
		atomic.AddInt64(&s.dropped, 1)
		return cache.ErrQueueFull
	}
}

func (s *MemoryScheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-s.queue:
			if !ok {
				return
			}

			err := s.handler(ctx, task)
			atomic.AddInt64(&s.processed, 1)
			if err != nil {
				atomic.AddInt64(&s.failed, 1)
				s.logger.Warn().Err(err).
					Str("reason", task.Reason).
					Int("attempt", task.Attempt).
					Int("count", len(task.Entities)).
					Msg("deferred task failed")
			}
		}
	}
}

// Close stops accepting tasks, drops pending timers and waits for running
// tasks to finish.
func (s *MemoryScheduler) Close() error {
	s.lifecycleMu.Lock()
	if s.stopped {
		s.lifecycleMu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.queue)
	s.lifecycleMu.Unlock()

	s.wg.Wait()
	return nil
}

// SchedulerStats reports task counters.
type SchedulerStats struct {
	Scheduled int64 `json:"scheduled"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

// Stats returns current scheduler statistics.
func (s *MemoryScheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Scheduled: atomic.LoadInt64(&s.scheduled),
		Processed: atomic.LoadInt64(&s.processed),
		Failed:    atomic.LoadInt64(&s.failed),
		Dropped:   atomic.LoadInt64(&s.dropped),
		Pending:   len(s.queue),
	}
}
