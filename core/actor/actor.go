package actor

import (
	"log/slog"
	"runtime/debug"

	"github.com/codewandler/walletrt-go/core/envelope"
)

type (
	OnPanic func(recovered any, stack []byte, env envelope.Envelope)

	// Actor owns a slice of wallet state. Process is only ever called by the
	// scheduler, for one envelope at a time.
	Actor interface {
		ID() string
		Process(hc HandlerCtx, env envelope.Envelope) Step
	}

	// Factory creates the actor for an id on its first envelope.
	Factory func(actorID string) (Actor, error)

	// Idler is implemented by actors that can tell when they hold nothing
	// worth keeping. The scheduler drops an idle actor once its inbox is
	// empty; the next envelope for its id creates it again.
	Idler interface {
		Idle() bool
	}
)

type Options struct {
	Logger  *slog.Logger
	OnPanic OnPanic
	// Idle reports whether the actor may be dropped between envelopes. It is
	// only called between turns.
	Idle func() bool
}

// BaseActor adapts a [RawHandler] to [Actor]. Init handlers run in the first
// turn; handler panics are contained and reported as operation failures.
type BaseActor struct {
	id      string
	log     *slog.Logger
	handler RawHandler
	onPanic OnPanic
	idle    func() bool

	// only touched from inside turns, which the scheduler serializes
	initialized bool
	initErr     error
}

func New(id string, opt Options, handler RawHandler) *BaseActor {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	log := opt.Logger.With(slog.String("actor", id))
	if opt.OnPanic == nil {
		opt.OnPanic = func(recovered any, stack []byte, env envelope.Envelope) {
			log.Error("actor panicked",
				slog.Any("recovered", recovered),
				slog.String("stack", string(stack)),
				slog.String("msg_type", env.Type()),
				slog.String("correlation_id", env.CorrelationID()),
			)
		}
	}
	return &BaseActor{
		id:      id,
		log:     log,
		handler: handler,
		onPanic: opt.OnPanic,
		idle:    opt.Idle,
	}
}

func (a *BaseActor) ID() string { return a.id }

func (a *BaseActor) Idle() bool { return a.idle != nil && a.idle() }

func (a *BaseActor) Process(hc HandlerCtx, env envelope.Envelope) (step Step) {
	defer func() {
		if r := recover(); r != nil {
			a.onPanic(r, debug.Stack(), env)
			step = Failf("panic: %v", r)
		}
	}()

	if !a.initialized {
		a.initialized = true
		a.initErr = a.handler.InitHandler(hc)
		if a.initErr != nil {
			a.log.Error("actor init failed", slog.Any("error", a.initErr))
		}
	}
	if a.initErr != nil {
		return Failf("actor %s failed to initialize: %s", a.id, a.initErr)
	}

	return a.handler.HandleRequest(hc, env.Request())
}

var (
	_ Actor = (*BaseActor)(nil)
	_ Idler = (*BaseActor)(nil)
)
