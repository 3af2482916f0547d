package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/walletrt-go/core/envelope"
	"github.com/codewandler/walletrt-go/core/events"
)

type (
	ping struct{ Seq int }
	pong struct{ Seq int }
	noop struct{}
)

func (ping) OpType() string  { return "Ping" }
func (ping) ActorID() string { return "a" }
func (noop) OpType() string  { return "Noop" }
func (noop) ActorID() string { return "a" }

func env(req envelope.Request) envelope.Envelope {
	return envelope.New("c-1", req, nil, time.Now())
}

func testCtx(t *testing.T, ask AskFunc) HandlerCtx {
	return NewHandlerCtx(HandlerCtxOptions{
		Context:       t.Context(),
		ActorID:       "a",
		CorrelationID: "c-1",
		Ask:           ask,
	})
}

// drive runs a step to completion the way the scheduler does, inline.
func drive(ctx context.Context, s Step) (any, error) {
	for s.IsSuspended() {
		v, err := s.RunIO(ctx)
		s = s.Resume(v, err)
	}
	return s.Result()
}

func TestActor_HandleSync(t *testing.T) {
	a := TypedHandlers(
		HandleSync[ping, pong](func(hc HandlerCtx, p ping) (*pong, error) {
			return &pong{Seq: p.Seq + 1}, nil
		}),
	).ToActor("a", Options{})

	v, err := drive(t.Context(), a.Process(testCtx(t, nil), env(ping{Seq: 1})))
	require.NoError(t, err)
	require.Equal(t, &pong{Seq: 2}, v)
}

func TestActor_NoHandler(t *testing.T) {
	a := TypedHandlers().ToActor("a", Options{})
	_, err := drive(t.Context(), a.Process(testCtx(t, nil), env(noop{})))
	require.ErrorIs(t, err, ErrOperationFailed)
	require.ErrorIs(t, err, ErrNoHandler)
}

func TestActor_DefaultHandler(t *testing.T) {
	a := TypedHandlers(
		DefaultHandler(func(hc HandlerCtx, req envelope.Request) Step {
			return Done(req.OpType())
		}),
	).ToActor("a", Options{})
	v, err := drive(t.Context(), a.Process(testCtx(t, nil), env(noop{})))
	require.NoError(t, err)
	require.Equal(t, "Noop", v)
}

func TestActor_InitRunsOnce(t *testing.T) {
	inits := 0
	a := TypedHandlers(
		Init(func(hc HandlerCtx) error { inits++; return nil }),
		HandleSync[ping, pong](func(hc HandlerCtx, p ping) (*pong, error) { return &pong{}, nil }),
	).ToActor("a", Options{})

	for i := 0; i < 3; i++ {
		_, err := drive(t.Context(), a.Process(testCtx(t, nil), env(ping{})))
		require.NoError(t, err)
	}
	require.Equal(t, 1, inits)
}

func TestActor_InitFailure(t *testing.T) {
	a := TypedHandlers(
		Init(func(hc HandlerCtx) error { return errors.New("storage unavailable") }),
		HandleSync[ping, pong](func(hc HandlerCtx, p ping) (*pong, error) { return &pong{}, nil }),
	).ToActor("a", Options{})

	for i := 0; i < 2; i++ {
		_, err := drive(t.Context(), a.Process(testCtx(t, nil), env(ping{})))
		require.ErrorIs(t, err, ErrOperationFailed)
		require.Contains(t, err.Error(), "storage unavailable")
	}
}

func TestActor_PanicBecomesFailure(t *testing.T) {
	var recovered any
	a := TypedHandlers(
		Handle[ping](func(hc HandlerCtx, p ping) Step { panic("kaputt") }),
	).ToActor("a", Options{OnPanic: func(r any, _ []byte, _ envelope.Envelope) { recovered = r }})

	_, err := drive(t.Context(), a.Process(testCtx(t, nil), env(ping{})))
	require.ErrorIs(t, err, ErrOperationFailed)
	require.Contains(t, err.Error(), "kaputt")
	require.Equal(t, "kaputt", recovered)
}

func TestStep_AwaitThen(t *testing.T) {
	s := Await(func(ctx context.Context) (any, error) { return 20, nil }, nil).
		Then(func(v any) Step { return Done(v.(int) + 1) }).
		Then(func(v any) Step { return Done(v.(int) * 2) })
	require.True(t, s.IsSuspended())

	v, err := drive(t.Context(), s)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestStep_FailShortCircuits(t *testing.T) {
	called := false
	s := Await(func(ctx context.Context) (any, error) { return nil, errors.New("ledger down") }, nil).
		Then(func(v any) Step { called = true; return Done(v) })

	_, err := drive(t.Context(), s)
	require.ErrorIs(t, err, ErrOperationFailed)
	require.Contains(t, err.Error(), "ledger down")
	require.False(t, called)
}

func TestStep_PanicsContained(t *testing.T) {
	s := Await(func(ctx context.Context) (any, error) { panic("io") }, func(v any, err error) Step {
		return Fail(err)
	})
	_, err := drive(t.Context(), s)
	require.ErrorContains(t, err, "io panic")

	s = Await(func(ctx context.Context) (any, error) { return nil, nil }, func(v any, err error) Step {
		panic("continuation")
	})
	_, err = drive(t.Context(), s)
	require.ErrorIs(t, err, ErrOperationFailed)
	require.ErrorContains(t, err, "continuation")
}

func TestStep_ResultOnSuspendedPanics(t *testing.T) {
	require.Panics(t, func() {
		_, _ = Await(func(ctx context.Context) (any, error) { return nil, nil }, nil).Result()
	})
}

func TestStep_AwaitAll(t *testing.T) {
	ios := []IOFunc{
		func(ctx context.Context) (any, error) { time.Sleep(10 * time.Millisecond); return 1, nil },
		func(ctx context.Context) (any, error) { return 2, nil },
		func(ctx context.Context) (any, error) { return 3, nil },
	}
	v, err := drive(t.Context(), AwaitAll(ios, func(vs []any, err error) Step {
		if err != nil {
			return Fail(err)
		}
		sum := 0
		for _, v := range vs {
			sum += v.(int)
		}
		return Done(sum)
	}))
	require.NoError(t, err)
	require.Equal(t, 6, v)

	ios = append(ios, func(ctx context.Context) (any, error) { return nil, errors.New("boom") })
	_, err = drive(t.Context(), AwaitAll(ios, func(vs []any, err error) Step {
		require.Nil(t, vs)
		return Fail(err)
	}))
	require.ErrorContains(t, err, "boom")
}

func TestHandlerCtx_Ask(t *testing.T) {
	var asked envelope.Request
	hc := testCtx(t, func(ctx context.Context, req envelope.Request) (any, error) {
		asked = req
		return "reply", nil
	})

	v, err := drive(t.Context(), hc.Ask(otherActorReq{}))
	require.NoError(t, err)
	require.Equal(t, "reply", v)
	require.Equal(t, otherActorReq{}, asked)

	_, err = drive(t.Context(), hc.Ask(ping{}))
	require.ErrorIs(t, err, ErrSelfRequest)

	_, err = hc.AskIO(ping{})(t.Context())
	require.ErrorIs(t, err, ErrSelfRequest)

	_, err = drive(t.Context(), testCtx(t, nil).Ask(otherActorReq{}))
	require.ErrorIs(t, err, ErrOperationFailed)
}

func TestHandlerCtx_Emit(t *testing.T) {
	var got []events.Event
	hc := NewHandlerCtx(HandlerCtxOptions{Emit: func(e events.Event) { got = append(got, e) }})
	hc.Emit(events.Event{Type: events.Broadcast})
	require.Len(t, got, 1)

	require.NotPanics(t, func() { testCtx(t, nil).Emit(events.Event{Type: events.Broadcast}) })
}

type otherActorReq struct{}

func (otherActorReq) OpType() string  { return "Other" }
func (otherActorReq) ActorID() string { return "b" }

func TestOperationError(t *testing.T) {
	err := OperationFailed("insufficient funds: have %d", 3)
	require.ErrorIs(t, err, ErrOperationFailed)
	require.Equal(t, "operation failed: insufficient funds: have 3", err.Error())

	wrapped := AsOperationError(context.Canceled)
	require.ErrorIs(t, wrapped, ErrOperationFailed)
	require.ErrorIs(t, wrapped, context.Canceled)
	require.Same(t, err, AsOperationError(err))
	require.NoError(t, AsOperationError(nil))
}
