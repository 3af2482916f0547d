package actor

import (
	"context"
	"log/slog"

	"github.com/codewandler/walletrt-go/core/envelope"
	"github.com/codewandler/walletrt-go/core/events"
)

type (
	// HandlerCtx is handed to an actor for the duration of one envelope,
	// including every continuation of that envelope.
	HandlerCtx interface {
		context.Context
		Log() *slog.Logger
		ActorID() string
		CorrelationID() string
		// Ask suspends the turn until the actor owning req replies.
		Ask(req envelope.Request) Step
		// AskIO returns the blocking form of Ask for use inside an IOFunc,
		// e.g. to fan out with [AwaitAll].
		AskIO(req envelope.Request) IOFunc
		// Emit publishes a wallet event to listeners.
		Emit(evt events.Event)
	}

	// AskFunc submits req through the runtime and blocks for the reply.
	AskFunc func(ctx context.Context, req envelope.Request) (any, error)

	// HandlerCtxOptions carry the runtime hooks behind a HandlerCtx.
	HandlerCtxOptions struct {
		Context       context.Context
		Log           *slog.Logger
		ActorID       string
		CorrelationID string
		Ask           AskFunc
		Emit          func(events.Event)
	}
)

type handlerCtx struct {
	context.Context
	log           *slog.Logger
	actorID       string
	correlationID string
	ask           AskFunc
	emit          func(events.Event)
}

// NewHandlerCtx is used by the runtime to build the context of one envelope.
func NewHandlerCtx(opts HandlerCtxOptions) HandlerCtx {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &handlerCtx{
		Context:       opts.Context,
		log:           opts.Log,
		actorID:       opts.ActorID,
		correlationID: opts.CorrelationID,
		ask:           opts.Ask,
		emit:          opts.Emit,
	}
}

func (hc *handlerCtx) Log() *slog.Logger     { return hc.log }
func (hc *handlerCtx) ActorID() string       { return hc.actorID }
func (hc *handlerCtx) CorrelationID() string { return hc.correlationID }

func (hc *handlerCtx) Ask(req envelope.Request) Step {
	if req.ActorID() == hc.actorID {
		return Fail(ErrSelfRequest)
	}
	return Await(hc.AskIO(req), nil)
}

func (hc *handlerCtx) AskIO(req envelope.Request) IOFunc {
	return func(ctx context.Context) (any, error) {
		if req.ActorID() == hc.actorID {
			return nil, ErrSelfRequest
		}
		if hc.ask == nil {
			return nil, OperationFailed("ask is not available in this context")
		}
		return hc.ask(ctx, req)
	}
}

func (hc *handlerCtx) Emit(evt events.Event) {
	if hc.emit != nil {
		hc.emit(evt)
	}
}

var _ HandlerCtx = (*handlerCtx)(nil)
