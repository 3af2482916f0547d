package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/walletrt-go/core/events"
	"github.com/codewandler/walletrt-go/core/runtime"
	"github.com/codewandler/walletrt-go/core/wallet"
	"github.com/codewandler/walletrt-go/ports/kv"
	"github.com/codewandler/walletrt-go/ports/ledger"
)

func send(t *testing.T, a *App, msg string) runtime.Result {
	t.Helper()
	ch := make(chan runtime.Result, 1)
	_, err := a.SendMessage([]byte(msg), func(r runtime.Result) { ch <- r })
	require.NoError(t, err)
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no callback")
		return runtime.Result{}
	}
}

func TestApp(t *testing.T) {
	app, err := Run(Config{})
	require.NoError(t, err)
	defer app.Stop()

	res := send(t, app, `{"type":"CreateAccount","payload":{"alias":"main"}}`)
	require.NoError(t, res.Err)
	view := res.Value.(*wallet.AccountView)
	require.Equal(t, "main", view.Alias)

	res = send(t, app, `{"type":"ListAccounts"}`)
	require.NoError(t, res.Err)
	require.Len(t, res.Value.(*wallet.AccountList).Accounts, 1)
}

func TestApp_EventsReachListeners(t *testing.T) {
	l := ledger.NewMemLedger(ledger.MemLedgerOptions{})
	store := kv.NewMemStore()
	app, err := Run(Config{Store: store, Ledger: LedgerConfig{Client: l}})
	require.NoError(t, err)
	defer app.Stop()

	var (
		mu  sync.Mutex
		got []events.Event
	)
	app.Listen(events.BalanceChange, func(e events.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	res := send(t, app, `{"type":"CreateAccount","payload":{}}`)
	require.NoError(t, res.Err)
	view := res.Value.(*wallet.AccountView)
	l.Fund(view.Addresses[0].Address, decimal.NewFromInt(5))

	res = send(t, app, `{"type":"SyncAccount","payload":{"accountId":"`+view.ID+`"}}`)
	require.NoError(t, res.Err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].AccountID == view.ID
	}, time.Second, 5*time.Millisecond)

	keys, err := store.Keys(t.Context(), "accounts.")
	require.NoError(t, err)
	require.Equal(t, []string{"accounts." + view.ID}, keys)
}

func TestApp_VersionConstraint(t *testing.T) {
	app, err := Run(Config{Runtime: RuntimeConfig{VersionConstraint: ">= 1.0, < 2"}})
	require.NoError(t, err)
	defer app.Stop()

	res := send(t, app, `{"type":"ListAccounts","version":"1.2.0"}`)
	require.NoError(t, res.Err)

	_, err = app.SendMessage([]byte(`{"type":"ListAccounts","version":"2.0.0"}`), func(runtime.Result) {})
	require.ErrorIs(t, err, runtime.ErrMalformedMessage)

	_, err = New(Config{Runtime: RuntimeConfig{VersionConstraint: "not a constraint"}})
	require.Error(t, err)
}

func TestApp_RunIsIdempotent(t *testing.T) {
	app, err := Run(Config{})
	require.NoError(t, err)
	defer app.Stop()
	require.NoError(t, app.Run())

	strict, err := Run(Config{Runtime: RuntimeConfig{StrictInit: true}})
	require.NoError(t, err)
	defer strict.Stop()
	require.ErrorIs(t, strict.Run(), runtime.ErrAlreadyInitialized)
}

func TestApp_Shutdown(t *testing.T) {
	app, err := Run(Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, app.Shutdown(ctx))
	require.ErrorIs(t, app.Shutdown(ctx), runtime.ErrAlreadyShutdown)

	select {
	case <-app.Done():
	default:
		t.Fatal("Done() should be closed after Shutdown")
	}

	_, err = app.SendMessage([]byte(`{"type":"ListAccounts"}`), func(runtime.Result) {})
	require.ErrorIs(t, err, runtime.ErrAlreadyShutdown)
}

func TestApp_Stop(t *testing.T) {
	app, err := Run(Config{})
	require.NoError(t, err)

	app.Stop()
	app.Stop()

	select {
	case <-app.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() should be closed after Stop")
	}
}

func TestApp_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	app, err := Run(Config{Context: ctx})
	require.NoError(t, err)

	cancel()
	select {
	case <-app.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("app should stop when its context is cancelled")
	}
	require.False(t, app.Runtime().Initialized())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestApp_RunTwiceStartsOnce(t *testing.T) {
	var out syncBuffer
	app, err := Run(Config{Log: slog.New(slog.NewTextHandler(&out, nil))})
	require.NoError(t, err)
	defer app.Stop()

	require.NoError(t, app.Run())
	require.NoError(t, app.Run())
	require.Equal(t, 1, strings.Count(out.String(), "app started"))
}
