package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

type callState int

const (
	callPending callState = iota
	// callCancelled is a tombstone: the callback already fired with
	// ErrCancelled, the envelope may still be queued or running.
	callCancelled
)

type call struct {
	cb     Callback
	opType string
	state  callState
}

// CallbackRegistry maps correlation ids to the callbacks waiting for them and
// guarantees every registered callback runs exactly once.
type CallbackRegistry struct {
	log     *slog.Logger
	metrics Metrics

	mu      sync.Mutex
	calls   map[string]*call
	pending int
	idle    chan struct{} // closed while pending == 0
	closed  bool

	// callbacks currently executing, so CancelAll can promise silence
	firing sync.WaitGroup
}

func NewCallbackRegistry(log *slog.Logger, m Metrics) *CallbackRegistry {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = NopMetrics()
	}
	idle := make(chan struct{})
	close(idle)
	return &CallbackRegistry{
		log:     log.With(slog.String("component", "callbacks")),
		metrics: m,
		calls:   make(map[string]*call),
		idle:    idle,
	}
}

// Register stores cb for id. A duplicate id is an ErrInternalRegistry.
func (r *CallbackRegistry) Register(id, opType string, cb Callback) error {
	if cb == nil {
		cb = func(Result) {}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrAlreadyShutdown
	}
	if _, exists := r.calls[id]; exists {
		r.log.Error("duplicate correlation id", slog.String("correlation_id", id))
		return fmt.Errorf("%w: duplicate correlation id %s", ErrInternalRegistry, id)
	}
	r.calls[id] = &call{cb: cb, opType: opType}
	r.incLocked()
	return nil
}

// Begin reports whether the envelope with id should still be processed. It
// clears the tombstone of a call that was cancelled while queued.
func (r *CallbackRegistry) Begin(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	c, ok := r.calls[id]
	if !ok {
		return false
	}
	if c.state == callCancelled {
		delete(r.calls, id)
		return false
	}
	return true
}

// Resolve fires the callback of id with the outcome. Resolving a cancelled
// call removes its tombstone silently; resolving an unknown id is logged and
// returns ErrInternalRegistry. After CancelAll it does nothing.
func (r *CallbackRegistry) Resolve(id string, value any, err error) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	c, ok := r.calls[id]
	if !ok {
		r.mu.Unlock()
		r.log.Error("completion for unknown correlation id", slog.String("correlation_id", id))
		return fmt.Errorf("%w: unknown correlation id %s", ErrInternalRegistry, id)
	}
	delete(r.calls, id)
	if c.state == callCancelled {
		r.mu.Unlock()
		return nil
	}
	r.decLocked()
	r.firing.Add(1)
	r.mu.Unlock()

	defer r.firing.Done()
	r.fire(c, Result{CorrelationID: id, Type: c.opType, Value: value, Err: err})
	return nil
}

// Cancel fires the callback of a pending call with ErrCancelled. The entry
// stays as a tombstone until the scheduler skips or resolves it.
func (r *CallbackRegistry) Cancel(id string) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	c, ok := r.calls[id]
	if !ok || c.state != callPending {
		r.mu.Unlock()
		return false
	}
	c.state = callCancelled
	r.decLocked()
	r.firing.Add(1)
	r.mu.Unlock()

	defer r.firing.Done()
	r.fire(c, Result{CorrelationID: id, Type: c.opType, Err: ErrCancelled})
	return true
}

// CancelAll closes the registry and fails every pending call with
// ErrCancelled. When it returns no callback is running and none will run.
func (r *CallbackRegistry) CancelAll(reason string) int {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.firing.Wait()
		return 0
	}
	r.closed = true
	type victim struct {
		id string
		c  *call
	}
	var victims []victim
	for id, c := range r.calls {
		if c.state == callPending {
			victims = append(victims, victim{id, c})
		}
	}
	r.calls = make(map[string]*call)
	if r.pending > 0 {
		r.pending = 0
		close(r.idle)
	}
	r.metrics.PendingCalls(0)
	r.mu.Unlock()

	err := ErrCancelled
	if reason != "" {
		err = fmt.Errorf("%w: %s", ErrCancelled, reason)
	}
	for _, v := range victims {
		r.fire(v.c, Result{CorrelationID: v.id, Type: v.c.opType, Err: err})
	}

	r.firing.Wait()
	return len(victims)
}

// Pending returns the number of calls whose callback has not fired yet.
func (r *CallbackRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Wait blocks until no call is pending or ctx is done.
func (r *CallbackRegistry) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.pending == 0 {
			r.mu.Unlock()
			return nil
		}
		idle := r.idle
		r.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *CallbackRegistry) incLocked() {
	if r.pending == 0 {
		r.idle = make(chan struct{})
	}
	r.pending++
	r.metrics.PendingCalls(r.pending)
}

func (r *CallbackRegistry) decLocked() {
	r.pending--
	if r.pending == 0 {
		close(r.idle)
	}
	r.metrics.PendingCalls(r.pending)
}

func (r *CallbackRegistry) fire(c *call, res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("callback panicked",
				slog.String("correlation_id", res.CorrelationID),
				slog.Any("recovered", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	c.cb(res)
}
