package actor

import (
	"fmt"
	"sync"

	"github.com/codewandler/walletrt-go/core/envelope"
	"github.com/codewandler/walletrt-go/internal/reflector"
)

type (
	// RawHandler is the low-level interface for handling actor messages.
	// Most users should use [TypedHandlers] instead of implementing this directly.
	RawHandler interface {
		// InitHandler is called once, inside the actor's first turn.
		InitHandler(hc HandlerCtx) error
		// HandleRequest processes one request and returns its first step.
		HandleRequest(hc HandlerCtx, req envelope.Request) Step
	}

	// MsgHandlerFunc is the signature for message handler functions.
	MsgHandlerFunc func(hc HandlerCtx, req envelope.Request) Step

	// HandlerInitFunc is called during actor initialization.
	HandlerInitFunc func(hc HandlerCtx) error

	// HandlerRegistrar allows registering message handlers with the actor.
	HandlerRegistrar interface {
		// Register adds a handler for a message type.
		Register(msgType string, handle MsgHandlerFunc, init HandlerInitFunc)
	}

	// HandlerRegistration is a function that registers handlers with a registrar.
	// Create these using [Handle], [HandleSync], [Init], etc.
	HandlerRegistration func(registrar HandlerRegistrar)
)

// TypedHandlerRegistry dispatches requests to handlers by their wire type.
type TypedHandlerRegistry struct {
	mu             sync.RWMutex
	inits          []HandlerInitFunc
	handlers       map[string]MsgHandlerFunc
	defaultHandler MsgHandlerFunc
}

// ToActor creates an actor with the given id using this handler registry.
func (t *TypedHandlerRegistry) ToActor(id string, opts Options) Actor {
	return New(id, opts, t)
}

// Register adds a handler for a message type. This is typically called
// indirectly via [Handle], [HandleSync], etc.
func (t *TypedHandlerRegistry) Register(msgType string, msgHandler MsgHandlerFunc, init HandlerInitFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msgType != "" && msgHandler != nil {
		if msgType == "*" {
			t.defaultHandler = msgHandler
		} else {
			t.handlers[msgType] = msgHandler
		}
	}

	if init != nil {
		t.inits = append(t.inits, init)
	}
}

// InitHandler runs all registered init functions in registration order.
func (t *TypedHandlerRegistry) InitHandler(hc HandlerCtx) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, i := range t.inits {
		if err := i(hc); err != nil {
			return fmt.Errorf("failed to init handler: %w", err)
		}
	}
	return nil
}

// HandleRequest dispatches a request to the registered handler for its type.
func (t *TypedHandlerRegistry) HandleRequest(hc HandlerCtx, req envelope.Request) Step {
	t.mu.RLock()
	h, ok := t.handlers[req.OpType()]
	dh := t.defaultHandler
	t.mu.RUnlock()

	if ok {
		return h(hc, req)
	}
	if dh != nil {
		return dh(hc, req)
	}
	return Fail(&OperationError{
		Reason: fmt.Sprintf("no handler for msg: msg_type=%s go_type=%s", req.OpType(), reflector.TypeInfoOf(req).Short),
		Err:    ErrNoHandler,
	})
}

// TypedHandlers creates a new handler registry with the given handlers.
// This is the primary way to define actor message handlers.
//
// Example:
//
//	registry := actor.TypedHandlers(
//	    actor.HandleSync[GetBalance, BalanceResponse](getBalance),
//	    actor.Handle[SyncAccount](syncAccount),
//	)
func TypedHandlers(handlers ...HandlerRegistration) *TypedHandlerRegistry {
	th := &TypedHandlerRegistry{
		handlers: make(map[string]MsgHandlerFunc),
		inits:    make([]HandlerInitFunc, 0),
	}

	for _, h := range handlers {
		h(th)
	}

	return th
}

// DefaultHandler registers a fallback handler for requests without a specific handler.
func DefaultHandler(h func(HandlerCtx, envelope.Request) Step) HandlerRegistration {
	return func(registrar HandlerRegistrar) {
		registrar.Register("*", h, nil)
	}
}

// Init registers an initialization function run in the actor's first turn.
func Init(initFunc HandlerInitFunc) HandlerRegistration {
	return func(registrar HandlerRegistrar) {
		registrar.Register("", nil, initFunc)
	}
}

// Handle registers a handler for requests of type IN that may suspend on I/O.
func Handle[IN envelope.Request](h func(hc HandlerCtx, in IN) Step) HandlerRegistration {
	var zero IN
	msgType := zero.OpType()
	return func(registrar HandlerRegistrar) {
		registrar.Register(msgType, func(hc HandlerCtx, req envelope.Request) Step {
			in, ok := req.(IN)
			if !ok {
				return Failf("invalid request message type: %T", req)
			}
			return h(hc, in)
		}, nil)
	}
}

// HandleSync registers a handler that completes without suspending.
func HandleSync[IN envelope.Request, OUT any](h func(hc HandlerCtx, in IN) (*OUT, error)) HandlerRegistration {
	return Handle[IN](func(hc HandlerCtx, in IN) Step {
		out, err := h(hc, in)
		if err != nil {
			return Fail(err)
		}
		return Done(out)
	})
}
