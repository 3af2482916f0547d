package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/codewandler/walletrt-go/core/actor"
	"github.com/codewandler/walletrt-go/core/envelope"
	"github.com/codewandler/walletrt-go/core/metrics"
)

// SchedulerOptions configure a Scheduler. Registry, Factory and HandlerCtx
// are required.
type SchedulerOptions struct {
	Logger  *slog.Logger
	Metrics Metrics
	// Workers is the size of the worker pool (minimum 1).
	Workers int
	// MailboxSize bounds the accepted but unfinished envelopes of one actor,
	// counting the one in progress. Zero or less means unbounded.
	MailboxSize int
	Registry    *CallbackRegistry
	Factory     actor.Factory
	// HandlerCtx builds the context handed to an actor for one envelope.
	HandlerCtx func(env envelope.Envelope) actor.HandlerCtx
}

type mailbox struct {
	id    string
	actor actor.Actor
	inbox []envelope.Envelope
	// accepted counts queued envelopes plus the one being processed
	accepted int
	// busy is set from the start of an envelope until its terminal step,
	// including while it is suspended on I/O
	busy   bool
	queued bool
}

type turn struct {
	env   envelope.Envelope
	hc    actor.HandlerCtx
	timer metrics.Timer
}

type resumption struct {
	turn
	step actor.Step
	v    any
	err  error
}

// readyItem is either "start the next envelope of mb" or "resume a suspended
// turn of mb".
type readyItem struct {
	mb     *mailbox
	resume *resumption
}

// Scheduler runs actor turns on a fixed worker pool. Each actor has a FIFO
// inbox and processes one envelope at a time; different actors run in
// parallel. A turn that suspends on I/O gives its worker back while the actor
// stays busy.
type Scheduler struct {
	log        *slog.Logger
	metrics    Metrics
	registry   *CallbackRegistry
	factory    actor.Factory
	handlerCtx func(env envelope.Envelope) actor.HandlerCtx
	workers    int
	maxInbox   int

	mu          sync.Mutex
	cond        *sync.Cond
	ready       []readyItem
	mailboxes   map[string]*mailbox
	accepting   bool
	stopped     bool
	started     bool
	busyWorkers int
	suspended   int

	workerWG sync.WaitGroup
	ioWG     sync.WaitGroup
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Registry == nil {
		opts.Registry = NewCallbackRegistry(opts.Logger, opts.Metrics)
	}
	s := &Scheduler{
		log:        opts.Logger.With(slog.String("component", "scheduler")),
		metrics:    opts.Metrics,
		registry:   opts.Registry,
		factory:    opts.Factory,
		handlerCtx: opts.HandlerCtx,
		workers:    opts.Workers,
		maxInbox:   opts.MailboxSize,
		mailboxes:  make(map[string]*mailbox),
		accepting:  true,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the worker pool. Envelopes submitted before Start wait in
// their inboxes.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	for i := 0; i < s.workers; i++ {
		s.workerWG.Add(1)
		go s.work()
	}
	s.log.Debug("scheduler started", slog.Int("workers", s.workers))
}

// Submit registers cb for env and appends env to its actor's inbox. It never
// blocks. A full inbox returns ErrBackpressure and registers nothing.
func (s *Scheduler) Submit(env envelope.Envelope, cb Callback) error {
	return s.submit(env, cb, false)
}

// SubmitInternal is Submit for envelopes sent by actors. It is still accepted
// after StopAccepting and only refused once the scheduler is closed.
func (s *Scheduler) SubmitInternal(env envelope.Envelope, cb Callback) error {
	return s.submit(env, cb, true)
}

func (s *Scheduler) submit(env envelope.Envelope, cb Callback, internal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || (!internal && !s.accepting) {
		return ErrAlreadyShutdown
	}

	mb, ok := s.mailboxes[env.ActorID()]
	if !ok {
		mb = &mailbox{id: env.ActorID()}
	}
	if s.maxInbox > 0 && mb.accepted >= s.maxInbox {
		return fmt.Errorf("%w: actor %s has %d unfinished messages", ErrBackpressure, mb.id, mb.accepted)
	}
	if err := s.registry.Register(env.CorrelationID(), env.Type(), cb); err != nil {
		return err
	}

	s.mailboxes[mb.id] = mb
	mb.accepted++
	mb.inbox = append(mb.inbox, env)
	s.metrics.MailboxDepth(mb.id, len(mb.inbox))
	s.scheduleLocked(mb)
	return nil
}

// StopAccepting makes every further Submit fail with ErrAlreadyShutdown.
// Queued envelopes keep running and SubmitInternal keeps working.
func (s *Scheduler) StopAccepting() {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()
}

// Close stops accepting, stops the workers after their current step and
// waits for them and for outstanding I/O, or until ctx is done. Envelopes
// still queued are dropped; their callbacks belong to the registry.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.accepting = false
	s.stopped = true
	s.ready = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		s.ioWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop: %w", ctx.Err())
	}
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Actors      int
	Queued      int
	BusyWorkers int
	Suspended   int
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Actors: len(s.mailboxes), BusyWorkers: s.busyWorkers, Suspended: s.suspended}
	for _, mb := range s.mailboxes {
		st.Queued += len(mb.inbox)
	}
	return st
}

func (s *Scheduler) scheduleLocked(mb *mailbox) {
	if mb.busy || mb.queued || len(mb.inbox) == 0 {
		return
	}
	mb.queued = true
	s.ready = append(s.ready, readyItem{mb: mb})
	s.cond.Signal()
}

func (s *Scheduler) work() {
	defer s.workerWG.Done()
	for {
		s.mu.Lock()
		for len(s.ready) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		item := s.ready[0]
		s.ready[0] = readyItem{}
		s.ready = s.ready[1:]

		var env envelope.Envelope
		if item.resume == nil {
			mb := item.mb
			mb.queued = false
			env = mb.inbox[0]
			mb.inbox[0] = envelope.Envelope{}
			mb.inbox = mb.inbox[1:]
			mb.busy = true
			s.metrics.MailboxDepth(mb.id, len(mb.inbox))
		}
		s.busyWorkers++
		s.metrics.WorkersBusy(s.busyWorkers)
		s.mu.Unlock()

		if item.resume == nil {
			s.start(item.mb, env)
		} else {
			r := item.resume
			s.advance(item.mb, r.turn, r.step.Resume(r.v, r.err))
		}

		s.mu.Lock()
		s.busyWorkers--
		s.metrics.WorkersBusy(s.busyWorkers)
		s.mu.Unlock()
	}
}

func (s *Scheduler) start(mb *mailbox, env envelope.Envelope) {
	if !s.registry.Begin(env.CorrelationID()) {
		s.log.Debug("skipping cancelled message",
			slog.String("correlation_id", env.CorrelationID()),
			slog.String("actor", mb.id),
		)
		s.finish(mb)
		return
	}

	t := turn{env: env, hc: s.handlerCtx(env), timer: s.metrics.MessageDuration(env.Type())}

	if mb.actor == nil {
		a, err := s.factory(mb.id)
		if err != nil {
			s.log.Error("failed to create actor", slog.String("actor", mb.id), slog.Any("error", err))
			s.advance(mb, t, actor.Failf("failed to create actor %s: %s", mb.id, err))
			return
		}
		mb.actor = a
	}

	s.advance(mb, t, s.process(mb.actor, t))
}

func (s *Scheduler) process(a actor.Actor, t turn) (step actor.Step) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.MessagePanic(t.env.Type())
			s.log.Error("actor panicked",
				slog.String("actor", a.ID()),
				slog.String("msg_type", t.env.Type()),
				slog.Any("recovered", r),
				slog.String("stack", string(debug.Stack())),
			)
			step = actor.Failf("panic: %v", r)
		}
	}()
	return a.Process(t.hc, t.env)
}

// advance either parks a suspended step on I/O or completes the turn.
func (s *Scheduler) advance(mb *mailbox, t turn, step actor.Step) {
	if step.IsSuspended() {
		s.suspend(mb, t, step)
		return
	}

	v, err := step.Result()
	kind := KindOf(err)
	t.timer.ObserveDuration()
	s.metrics.MessageProcessed(t.env.Type(), kind)
	if err != nil {
		t.hc.Log().Debug("message failed", slog.String("kind", kind.String()), slog.Any("error", err))
	}

	_ = s.registry.Resolve(t.env.CorrelationID(), v, err)
	s.finish(mb)
}

func (s *Scheduler) suspend(mb *mailbox, t turn, step actor.Step) {
	s.mu.Lock()
	s.suspended++
	s.metrics.Suspended(s.suspended)
	s.ioWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.ioWG.Done()
		v, err := step.RunIO(t.hc)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.suspended--
		s.metrics.Suspended(s.suspended)
		if s.stopped {
			return
		}
		s.ready = append(s.ready, readyItem{mb: mb, resume: &resumption{turn: t, step: step, v: v, err: err}})
		s.cond.Signal()
	}()
}

func (s *Scheduler) finish(mb *mailbox) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb.accepted--
	mb.busy = false
	if mb.accepted == 0 && (mb.actor == nil || isIdle(mb.actor)) {
		delete(s.mailboxes, mb.id)
		return
	}
	s.scheduleLocked(mb)
}

func isIdle(a actor.Actor) bool {
	i, ok := a.(actor.Idler)
	return ok && i.Idle()
}
