package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMemLedger_FundAndBroadcast(t *testing.T) {
	l := NewMemLedger(MemLedgerOptions{})
	deposit := l.Fund("a1", d("10"))
	l.Fund("a2", d("5"))
	require.NotEmpty(t, deposit.Hash)
	require.False(t, deposit.Confirmed)

	tx, err := l.Broadcast(t.Context(), Transfer{
		Inputs:    []string{"a1", "a2"},
		To:        "b1",
		Amount:    d("12"),
		Remainder: "a3",
		Tag:       "rent",
	})
	require.NoError(t, err)
	require.True(t, tx.Change.Equal(d("3")))

	bals, err := l.Balances(t.Context(), []string{"a1", "a2", "a3", "b1", "unknown"})
	require.NoError(t, err)
	require.True(t, bals["a1"].IsZero())
	require.True(t, bals["a2"].IsZero())
	require.True(t, bals["a3"].Equal(d("3")))
	require.True(t, bals["b1"].Equal(d("12")))
	require.True(t, bals["unknown"].IsZero())

	txs, err := l.Transactions(t.Context(), []string{"a1"})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, deposit.Hash, txs[0].Hash)
	require.Equal(t, tx.Hash, txs[1].Hash)

	require.NoError(t, l.Confirm(tx.Hash))
	got, err := l.Transaction(t.Context(), tx.Hash)
	require.NoError(t, err)
	require.True(t, got.Confirmed)
}

func TestMemLedger_BroadcastErrors(t *testing.T) {
	l := NewMemLedger(MemLedgerOptions{})
	l.Fund("a1", d("1"))

	_, err := l.Broadcast(t.Context(), Transfer{Inputs: []string{"a1"}, To: "b", Amount: d("2")})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = l.Broadcast(t.Context(), Transfer{Inputs: []string{"a1"}, To: "b", Amount: d("0.5")})
	require.ErrorIs(t, err, ErrInvalidTransfer, "change without remainder")

	_, err = l.Broadcast(t.Context(), Transfer{To: "b", Amount: d("1")})
	require.ErrorIs(t, err, ErrInvalidTransfer)

	_, err = l.Transaction(t.Context(), "nope")
	require.ErrorIs(t, err, ErrUnknownTransaction)
	require.ErrorIs(t, l.Confirm("nope"), ErrUnknownTransaction)
}

func TestMemLedger_LatencyHonoursContext(t *testing.T) {
	l := NewMemLedger(MemLedgerOptions{Latency: time.Second})
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Balances(ctx, []string{"a"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGuard_DedupesBalances(t *testing.T) {
	l := NewMemLedger(MemLedgerOptions{Latency: 30 * time.Millisecond})
	l.Fund("a", d("1"))
	g := NewGuard(l, GuardOptions{})
	defer g.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bals, err := g.Balances(t.Context(), []string{"b", "a"})
			require.NoError(t, err)
			require.True(t, bals["a"].Equal(d("1")))
			bals["a"] = d("99")
		}()
	}
	wg.Wait()
	require.Less(t, l.Calls("balances"), 10)
}

func TestGuard_CachesConfirmedTransactions(t *testing.T) {
	l := NewMemLedger(MemLedgerOptions{})
	pending := l.Fund("a", d("1"))
	confirmed := l.Fund("a", d("2"))
	require.NoError(t, l.Confirm(confirmed.Hash))

	g := NewGuard(l, GuardOptions{})
	defer g.Close()

	_, err := g.Transactions(t.Context(), []string{"a"})
	require.NoError(t, err)

	_, err = g.Transaction(t.Context(), confirmed.Hash)
	require.NoError(t, err)
	require.Equal(t, 0, l.Calls("transaction"))

	_, err = g.Transaction(t.Context(), pending.Hash)
	require.NoError(t, err)
	require.Equal(t, 1, l.Calls("transaction"))
}

func TestGuard_BreakerOpens(t *testing.T) {
	l := NewMemLedger(MemLedgerOptions{})
	g := NewGuard(l, GuardOptions{MaxFailures: 2, OpenTimeout: time.Hour, CacheSize: -1})
	defer g.Close()

	// business errors keep the breaker closed
	for i := 0; i < 3; i++ {
		_, err := g.Transaction(t.Context(), "nope")
		require.ErrorIs(t, err, ErrUnknownTransaction)
	}
	require.Equal(t, "closed", g.State())

	l.SetUnavailable(true)
	for i := 0; i < 2; i++ {
		_, err := g.Balances(t.Context(), []string{"a"})
		require.ErrorIs(t, err, ErrUnavailable)
	}
	require.Equal(t, "open", g.State())

	l.SetUnavailable(false)
	calls := l.Calls("balances")
	_, err := g.Balances(t.Context(), []string{"a"})
	require.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, calls, l.Calls("balances"), "open breaker must not reach the ledger")
}
