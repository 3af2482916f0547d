// Package perkey provides an executor that serializes work per key while
// allowing work for different keys to run concurrently.
//
// The event bus uses it to deliver events to each listener in publication
// order without letting a slow listener hold up the others or the publisher.
package perkey

import (
	"log/slog"
	"sync"
)

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
	log        *slog.Logger
}

// WithBufferSize sets the task buffer size per key (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// WithLogger sets the logger used to report failed tasks.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// Scheduler runs tasks such that for any given key K tasks execute
// sequentially, in submission order. Tasks for different keys can proceed in
// parallel. Each key with queued work has one goroutine.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]*worker
	closed     bool
	running    sync.WaitGroup // tracks worker goroutines
	bufferSize int
	log        *slog.Logger
}

type worker struct {
	tasks chan func() error
}

// New creates a new Scheduler.
func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64, log: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		workers:    make(map[K]*worker),
		bufferSize: cfg.bufferSize,
		log:        cfg.log,
	}
}

// Submit enqueues fn for key and returns without waiting for it to run. It
// never blocks: a key whose buffer is full gets ErrQueueFull and fn is
// dropped. Errors returned by fn are logged.
func (s *Scheduler[K]) Submit(key K, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}

	w := s.getOrCreateWorkerLocked(key)
	select {
	case w.tasks <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Forget retires key. Tasks already queued for it still run, then its
// goroutine exits. A later Submit for key starts afresh.
func (s *Scheduler[K]) Forget(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[key]; ok {
		delete(s.workers, key)
		close(w.tasks)
	}
}

// Len returns the number of keys with a live worker.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Close stops accepting new tasks, lets queued tasks finish and waits for all
// workers to exit. It is idempotent.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for _, w := range s.workers {
			close(w.tasks)
		}
		s.workers = nil
	}
	s.mu.Unlock()

	s.running.Wait()
}

func (s *Scheduler[K]) getOrCreateWorkerLocked(key K) *worker {
	w, ok := s.workers[key]
	if ok {
		return w
	}

	w = &worker{
		tasks: make(chan func() error, s.bufferSize),
	}
	s.workers[key] = w
	s.running.Add(1)
	go s.runWorker(key, w)

	return w
}

// runWorker processes tasks sequentially for a single key.
func (s *Scheduler[K]) runWorker(key K, w *worker) {
	defer s.running.Done()
	for fn := range w.tasks {
		if err := s.run(fn); err != nil {
			s.log.Warn("perkey task failed", slog.Any("key", key), slog.Any("error", err))
		}
	}
}

func (s *Scheduler[K]) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SchedulerError{msg: "task panicked"}
			s.log.Error("perkey task panicked", slog.Any("recovered", r))
		}
	}()
	return fn()
}

// ----- Errors -----

var (
	// ErrSchedulerClosed is returned when work is submitted to a closed scheduler.
	ErrSchedulerClosed = &SchedulerError{"scheduler is closed"}
	// ErrQueueFull is returned when a key has no room for another task.
	ErrQueueFull = &SchedulerError{"queue is full"}
)

// SchedulerError is a simple error implementation.
type SchedulerError struct {
	msg string
}

func (e *SchedulerError) Error() string { return e.msg }
