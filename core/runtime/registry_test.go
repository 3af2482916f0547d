package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/walletrt-go/core/actor"
)

func TestCallbackRegistry_ResolveOnce(t *testing.T) {
	r := NewCallbackRegistry(nil, nil)
	var got []Result
	require.NoError(t, r.Register("1", "Echo", func(res Result) { got = append(got, res) }))
	require.Equal(t, 1, r.Pending())

	require.True(t, r.Begin("1"))
	require.NoError(t, r.Resolve("1", "ok", nil))
	require.ErrorIs(t, r.Resolve("1", "again", nil), ErrInternalRegistry)

	require.Len(t, got, 1)
	require.Equal(t, Result{CorrelationID: "1", Type: "Echo", Value: "ok"}, got[0])
	require.Equal(t, 0, r.Pending())
}

func TestCallbackRegistry_DuplicateID(t *testing.T) {
	r := NewCallbackRegistry(nil, nil)
	require.NoError(t, r.Register("1", "Echo", nil))
	err := r.Register("1", "Echo", nil)
	require.ErrorIs(t, err, ErrInternalRegistry)
	require.Equal(t, KindInternal, KindOf(err))
	require.Equal(t, 1, r.Pending())
}

func TestCallbackRegistry_UnknownID(t *testing.T) {
	r := NewCallbackRegistry(nil, nil)
	require.ErrorIs(t, r.Resolve("nope", nil, nil), ErrInternalRegistry)
	require.False(t, r.Begin("nope"))
}

func TestCallbackRegistry_CancelLeavesTombstone(t *testing.T) {
	r := NewCallbackRegistry(nil, nil)
	var got []Result
	require.NoError(t, r.Register("1", "Echo", func(res Result) { got = append(got, res) }))

	require.True(t, r.Cancel("1"))
	require.False(t, r.Cancel("1"))
	require.Equal(t, 0, r.Pending())

	// the late completion is swallowed
	require.NoError(t, r.Resolve("1", "late", nil))
	require.Len(t, got, 1)
	require.ErrorIs(t, got[0].Err, ErrCancelled)

	// the tombstone is gone now
	require.ErrorIs(t, r.Resolve("1", "later", nil), ErrInternalRegistry)
}

func TestCallbackRegistry_BeginSkipsCancelled(t *testing.T) {
	r := NewCallbackRegistry(nil, nil)
	require.NoError(t, r.Register("1", "Echo", nil))
	require.True(t, r.Cancel("1"))
	require.False(t, r.Begin("1"))
	require.False(t, r.Begin("1"))
}

func TestCallbackRegistry_CancelAll(t *testing.T) {
	r := NewCallbackRegistry(nil, nil)
	var (
		mu  sync.Mutex
		got = map[string]error{}
	)
	cb := func(res Result) {
		mu.Lock()
		got[res.CorrelationID] = res.Err
		mu.Unlock()
	}
	require.NoError(t, r.Register("1", "Echo", cb))
	require.NoError(t, r.Register("2", "Echo", cb))
	require.NoError(t, r.Register("3", "Echo", cb))
	require.True(t, r.Cancel("3"))

	require.Equal(t, 2, r.CancelAll("stopping"))
	require.Len(t, got, 3)
	require.ErrorIs(t, got["1"], ErrCancelled)
	require.Contains(t, got["1"].Error(), "stopping")

	// closed: nothing fires anymore
	require.NoError(t, r.Resolve("1", nil, nil))
	require.ErrorIs(t, r.Register("4", "Echo", cb), ErrAlreadyShutdown)
	require.False(t, r.Cancel("2"))
	require.Equal(t, 0, r.CancelAll("again"))
	require.Len(t, got, 3)
}

func TestCallbackRegistry_Wait(t *testing.T) {
	r := NewCallbackRegistry(nil, nil)
	require.NoError(t, r.Wait(t.Context()))

	require.NoError(t, r.Register("1", "Echo", nil))
	require.NoError(t, r.Register("2", "Echo", nil))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = r.Resolve("1", nil, nil)
		_ = r.Resolve("2", nil, nil)
	}()
	require.NoError(t, r.Wait(t.Context()))
}

func TestCallbackRegistry_CallbackPanicContained(t *testing.T) {
	r := NewCallbackRegistry(nil, nil)
	require.NoError(t, r.Register("1", "Echo", func(Result) { panic("callback") }))
	require.NotPanics(t, func() { _ = r.Resolve("1", nil, nil) })
	require.Equal(t, 0, r.Pending())
}

func TestKindOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		kind Kind
	}{
		{nil, KindNone},
		{ErrNotInitialized, KindNotInitialized},
		{ErrAlreadyInitialized, KindAlreadyInitialized},
		{ErrAlreadyShutdown, KindAlreadyShutdown},
		{ErrMalformedMessage, KindMalformedMessage},
		{ErrBackpressure, KindBackpressure},
		{ErrCancelled, KindCancelled},
		{ErrInternalRegistry, KindInternal},
		{ErrOperationFailed, KindOperationFailed},
		{context.DeadlineExceeded, KindOperationFailed},
		// actor failures never surface a submission kind
		{actor.AsOperationError(fmt.Errorf("ask: %w", ErrBackpressure)), KindOperationFailed},
		{actor.AsOperationError(ErrAlreadyShutdown), KindOperationFailed},
		{actor.AsOperationError(fmt.Errorf("ask: %w", ErrCancelled)), KindCancelled},
	} {
		require.Equal(t, tc.kind, KindOf(tc.err), "%v", tc.err)
	}
}
