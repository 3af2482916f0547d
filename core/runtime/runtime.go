package runtime

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/walletrt-go/core/actor"
	"github.com/codewandler/walletrt-go/core/envelope"
	"github.com/codewandler/walletrt-go/core/events"
)

const DefaultShutdownTimeout = 30 * time.Second

type Options struct {
	Logger  *slog.Logger
	Metrics Metrics
	// Messages decodes textual messages. Required for SendMessage.
	Messages *envelope.Registry
	// Workers defaults to GOMAXPROCS.
	Workers int
	// MailboxSize bounds unfinished envelopes per actor; zero is unbounded.
	MailboxSize int
	// ShutdownTimeout bounds the drain phase of Shutdown when the caller's
	// context has no deadline.
	ShutdownTimeout time.Duration
	// StrictInit makes a second Init return ErrAlreadyInitialized instead of
	// doing nothing.
	StrictInit bool
	// Emit receives events published by actors.
	Emit func(events.Event)
	// NewID generates correlation ids.
	NewID func() string
	Clock func() time.Time
}

type state int

const (
	stateNew state = iota
	stateRunning
	stateShutdown
)

// Runtime owns the scheduler and the callback registry of one wallet
// service. Nothing is accepted before Init or after Shutdown.
type Runtime struct {
	opts    Options
	log     *slog.Logger
	factory actor.Factory

	mu    sync.RWMutex
	state state

	ctx    context.Context
	cancel context.CancelFunc
	calls  *CallbackRegistry
	sched  *Scheduler
}

// New creates an uninitialized Runtime whose actors are created by factory.
func New(opts Options, factory actor.Factory) *Runtime {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	if opts.Workers <= 0 {
		opts.Workers = goruntime.GOMAXPROCS(0)
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return gonanoid.Must() }
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Runtime{
		opts:    opts,
		log:     opts.Logger.With(slog.String("component", "runtime")),
		factory: factory,
	}
}

// Init starts the worker pool. Calling it again is a no-op, or
// ErrAlreadyInitialized with StrictInit. A shut down runtime cannot be
// initialized again.
func (r *Runtime) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateRunning:
		if r.opts.StrictInit {
			return ErrAlreadyInitialized
		}
		r.log.Debug("runtime already initialized")
		return nil
	case stateShutdown:
		return ErrAlreadyShutdown
	}
	if r.factory == nil {
		return fmt.Errorf("runtime: no actor factory configured")
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.calls = NewCallbackRegistry(r.opts.Logger, r.opts.Metrics)
	r.sched = NewScheduler(SchedulerOptions{
		Logger:      r.opts.Logger,
		Metrics:     r.opts.Metrics,
		Workers:     r.opts.Workers,
		MailboxSize: r.opts.MailboxSize,
		Registry:    r.calls,
		Factory:     r.factory,
		HandlerCtx:  r.handlerCtx,
	})
	r.sched.Start()
	r.state = stateRunning

	r.log.Info("runtime initialized",
		slog.Int("workers", r.opts.Workers),
		slog.Int("mailbox_size", r.opts.MailboxSize),
	)
	return nil
}

func (r *Runtime) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == stateRunning
}

// SendMessage decodes msg and submits it. Lifecycle, decoding and capacity
// failures are returned; everything else, including operation failures,
// reaches cb exactly once.
func (r *Runtime) SendMessage(msg []byte, cb Callback) (string, error) {
	if err := r.checkRunning(); err != nil {
		r.opts.Metrics.MessageRejected(KindOf(err))
		return "", err
	}
	if r.opts.Messages == nil {
		return "", fmt.Errorf("%w: no message registry configured", ErrMalformedMessage)
	}

	req, frame, err := r.opts.Messages.Decode(msg)
	if err != nil {
		r.opts.Metrics.MessageRejected(KindMalformedMessage)
		r.log.Debug("rejected malformed message", slog.Any("error", err))
		return "", err
	}
	return r.submit(req, frame.Payload, cb)
}

// Submit is SendMessage for a request that is already decoded.
func (r *Runtime) Submit(req envelope.Request, cb Callback) (string, error) {
	if err := r.checkRunning(); err != nil {
		r.opts.Metrics.MessageRejected(KindOf(err))
		return "", err
	}
	if req == nil || req.OpType() == "" || req.ActorID() == "" {
		r.opts.Metrics.MessageRejected(KindMalformedMessage)
		return "", fmt.Errorf("%w: request must name a type and a target actor", ErrMalformedMessage)
	}
	return r.submit(req, nil, cb)
}

func (r *Runtime) submit(req envelope.Request, payload []byte, cb Callback) (string, error) {
	r.mu.RLock()
	sched := r.sched
	r.mu.RUnlock()

	id := r.opts.NewID()
	env := envelope.New(id, req, payload, r.opts.Clock())
	if err := sched.Submit(env, cb); err != nil {
		r.opts.Metrics.MessageRejected(KindOf(err))
		return "", err
	}
	return id, nil
}

// submitInternal is used by actors asking other actors. It keeps working
// while Shutdown drains, so operations accepted before shutdown can finish.
func (r *Runtime) submitInternal(req envelope.Request, cb Callback) (string, error) {
	r.mu.RLock()
	sched := r.sched
	r.mu.RUnlock()
	if sched == nil {
		return "", ErrNotInitialized
	}
	if req == nil || req.OpType() == "" || req.ActorID() == "" {
		return "", fmt.Errorf("%w: request must name a type and a target actor", ErrMalformedMessage)
	}

	id := r.opts.NewID()
	env := envelope.New(id, req, nil, r.opts.Clock())
	if err := sched.SubmitInternal(env, cb); err != nil {
		return "", err
	}
	return id, nil
}

// Ask submits req and blocks until its result arrives. If ctx ends first the
// call is cancelled and ctx's error is returned.
func (r *Runtime) Ask(ctx context.Context, req envelope.Request) (any, error) {
	return r.await(ctx, r.Submit, req)
}

func (r *Runtime) askInternal(ctx context.Context, req envelope.Request) (any, error) {
	return r.await(ctx, r.submitInternal, req)
}

func (r *Runtime) await(ctx context.Context, submit func(envelope.Request, Callback) (string, error), req envelope.Request) (any, error) {
	ch := make(chan Result, 1)
	id, err := submit(req, func(res Result) { ch <- res })
	if err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.Value, res.Err
	case <-ctx.Done():
		r.Cancel(id)
		return nil, ctx.Err()
	}
}

// Cancel fails a pending message with ErrCancelled. It reports false when the
// message already completed or is unknown.
func (r *Runtime) Cancel(correlationID string) bool {
	r.mu.RLock()
	calls := r.calls
	r.mu.RUnlock()
	if calls == nil {
		return false
	}
	return calls.Cancel(correlationID)
}

// Pending returns the number of accepted messages without a result yet.
func (r *Runtime) Pending() int {
	r.mu.RLock()
	calls := r.calls
	r.mu.RUnlock()
	if calls == nil {
		return 0
	}
	return calls.Pending()
}

func (r *Runtime) Stats() Stats {
	r.mu.RLock()
	sched := r.sched
	r.mu.RUnlock()
	if sched == nil {
		return Stats{}
	}
	return sched.Stats()
}

// Shutdown stops accepting messages and waits for pending ones until ctx or
// ShutdownTimeout ends. Actors may still ask each other while it waits. Messages still pending then are cancelled. When
// Shutdown returns no callback runs anymore. A second call returns
// ErrAlreadyShutdown.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case stateNew:
		r.state = stateShutdown
		r.mu.Unlock()
		return nil
	case stateShutdown:
		r.mu.Unlock()
		return ErrAlreadyShutdown
	}
	r.state = stateShutdown
	r.mu.Unlock()

	r.sched.StopAccepting()

	drainCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, r.opts.ShutdownTimeout)
		defer cancel()
	}

	pending := r.calls.Pending()
	r.log.Info("runtime shutting down", slog.Int("pending", pending))
	if err := r.calls.Wait(drainCtx); err != nil {
		r.log.Warn("shutdown drain interrupted", slog.Any("error", err))
	}
	if n := r.calls.CancelAll("runtime shutting down"); n > 0 {
		r.log.Warn("cancelled pending messages", slog.Int("count", n))
	}

	r.cancel()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.ShutdownTimeout)
	defer cancel()
	if err := r.sched.Close(stopCtx); err != nil {
		r.log.Error("scheduler did not stop cleanly", slog.Any("error", err))
		return err
	}

	r.log.Info("runtime shut down")
	return nil
}

func (r *Runtime) checkRunning() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch r.state {
	case stateNew:
		return ErrNotInitialized
	case stateShutdown:
		return ErrAlreadyShutdown
	}
	return nil
}

func (r *Runtime) handlerCtx(env envelope.Envelope) actor.HandlerCtx {
	return actor.NewHandlerCtx(actor.HandlerCtxOptions{
		Context: r.ctx,
		Log: r.opts.Logger.With(
			slog.String("actor", env.ActorID()),
			slog.String("correlation_id", env.CorrelationID()),
			slog.String("msg_type", env.Type()),
		),
		ActorID:       env.ActorID(),
		CorrelationID: env.CorrelationID(),
		Ask:           r.askInternal,
		Emit:          r.opts.Emit,
	})
}
