package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/walletrt-go/core/actor"
	"github.com/codewandler/walletrt-go/core/envelope"
	"github.com/codewandler/walletrt-go/core/events"
	"github.com/codewandler/walletrt-go/core/runtime"
	"github.com/codewandler/walletrt-go/ports/kv"
	"github.com/codewandler/walletrt-go/ports/ledger"
)

const externalAddr = "00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	rt     *runtime.Runtime
	store  *kv.MemStore
	ledger *ledger.MemLedger

	mu     sync.Mutex
	events []events.Event
}

func newHarness(t *testing.T) *harness {
	h := &harness{store: kv.NewMemStore(), ledger: ledger.NewMemLedger(ledger.MemLedgerOptions{})}
	h.start(t)
	return h
}

// start (re)creates the runtime on top of the harness' store and ledger.
func (h *harness) start(t *testing.T) {
	t.Helper()
	if h.rt != nil {
		require.NoError(t, h.rt.Shutdown(t.Context()))
	}
	msgs, err := NewMessageRegistry()
	require.NoError(t, err)

	h.rt = runtime.New(runtime.Options{
		Messages:    msgs,
		Workers:     4,
		MailboxSize: 64,
		Emit: func(e events.Event) {
			h.mu.Lock()
			h.events = append(h.events, e)
			h.mu.Unlock()
		},
	}, Factory(Deps{Store: h.store, Ledger: h.ledger, IOTimeout: time.Second}))
	require.NoError(t, h.rt.Init())
	t.Cleanup(func() { _ = h.rt.Shutdown(context.Background()) })
}

func (h *harness) ask(t *testing.T, req envelope.Request) (any, error) {
	t.Helper()
	return h.rt.Ask(t.Context(), req)
}

func (h *harness) create(t *testing.T, alias string) *AccountView {
	t.Helper()
	v, err := h.ask(t, CreateAccount{Alias: alias})
	require.NoError(t, err)
	return v.(*AccountView)
}

func (h *harness) sync(t *testing.T, id string) *SyncResult {
	t.Helper()
	v, err := h.ask(t, SyncAccount{AccountID: id})
	require.NoError(t, err)
	return v.(*SyncResult)
}

func (h *harness) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	v, err := h.ask(t, GetBalance{AccountID: id})
	require.NoError(t, err)
	return v.(*BalanceView).Balance
}

func (h *harness) eventTypes(accountID string) []events.Type {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []events.Type
	for _, e := range h.events {
		if e.AccountID == accountID {
			out = append(out, e.Type)
		}
	}
	return out
}

func (h *harness) resetEvents() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
}

func TestWallet_CreateAndList(t *testing.T) {
	h := newHarness(t)

	a := h.create(t, "")
	b := h.create(t, "")
	require.Equal(t, "Account 1", a.Alias)
	require.Equal(t, "Account 2", b.Alias)
	require.Len(t, a.Addresses, 1)
	require.True(t, a.Balance.IsZero())

	_, err := h.ask(t, CreateAccount{Alias: "Account 1"})
	require.ErrorIs(t, err, ErrAliasTaken)
	require.ErrorIs(t, err, actor.ErrOperationFailed)

	v, err := h.ask(t, ListAccounts{})
	require.NoError(t, err)
	list := v.(*AccountList)
	require.Len(t, list.Accounts, 2)
	require.Equal(t, a.ID, list.Accounts[0].ID)
	require.Equal(t, b.ID, list.Accounts[1].ID)
}

func TestWallet_StatePersistsAcrossRuntimes(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, "savings")
	v, err := h.ask(t, GenerateAddress{AccountID: a.ID})
	require.NoError(t, err)
	addr := v.(*Address)
	require.Equal(t, uint32(1), addr.KeyIndex)

	h.start(t)

	v, err = h.ask(t, GetAccount{AccountID: a.ID})
	require.NoError(t, err)
	got := v.(*AccountView)
	require.Equal(t, "savings", got.Alias)
	require.Len(t, got.Addresses, 2)
	require.Equal(t, addr.Address, got.Addresses[1].Address)

	v, err = h.ask(t, ListAccounts{})
	require.NoError(t, err)
	require.Len(t, v.(*AccountList).Accounts, 1)
}

func TestWallet_MnemonicIsDeterministic(t *testing.T) {
	h := newHarness(t)
	v1, err := h.ask(t, CreateAccount{Alias: "one", Mnemonic: "correct horse battery staple"})
	require.NoError(t, err)
	v2, err := h.ask(t, CreateAccount{Alias: "two", Mnemonic: "correct horse battery staple"})
	require.NoError(t, err)
	v3 := h.create(t, "three")

	a1, a2 := v1.(*AccountView), v2.(*AccountView)
	require.NotEqual(t, a1.ID, a2.ID)
	require.Equal(t, a1.Addresses[0].Address, a2.Addresses[0].Address)
	require.NotEqual(t, a1.Addresses[0].Address, v3.Addresses[0].Address)
}

func TestWallet_UnknownAccount(t *testing.T) {
	h := newHarness(t)
	_, err := h.ask(t, GetBalance{AccountID: "7d0f1a36-9f6f-4b1e-9a55-0c0e6b3a1a11"})
	require.ErrorIs(t, err, ErrAccountNotFound)
	require.ErrorIs(t, err, actor.ErrOperationFailed)

	_, err = h.ask(t, RemoveAccount{AccountID: "7d0f1a36-9f6f-4b1e-9a55-0c0e6b3a1a11"})
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestWallet_SyncEmitsEvents(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, "")
	deposit := h.ledger.Fund(a.Addresses[0].Address, d("10"))

	res := h.sync(t, a.ID)
	require.Equal(t, 1, res.NewTransactions)
	require.True(t, res.Balance.Equal(d("10")))
	require.Equal(t, []events.Type{events.BalanceChange, events.NewTransaction}, h.eventTypes(a.ID))

	h.resetEvents()
	res = h.sync(t, a.ID)
	require.Zero(t, res.NewTransactions)
	require.Empty(t, h.eventTypes(a.ID), "nothing changed")

	require.NoError(t, h.ledger.Confirm(deposit.Hash))
	res = h.sync(t, a.ID)
	require.Equal(t, 1, res.Confirmed)
	require.Equal(t, []events.Type{events.ConfirmationStateChange}, h.eventTypes(a.ID))

	v, err := h.ask(t, GetAccount{AccountID: a.ID})
	require.NoError(t, err)
	view := v.(*AccountView)
	require.Len(t, view.Transactions, 1)
	require.True(t, view.Transactions[0].Incoming)
	require.True(t, view.Transactions[0].Confirmed)
	require.NotNil(t, view.LastSyncedAt)
}

func TestWallet_SyncLedgerUnavailable(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, "")
	h.ledger.SetUnavailable(true)

	_, err := h.ask(t, SyncAccount{AccountID: a.ID})
	require.ErrorIs(t, err, actor.ErrOperationFailed)
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	require.Equal(t, []events.Type{events.ErrorThrown}, h.eventTypes(a.ID))
}

func TestWallet_SendTransfer(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, "")

	_, err := h.ask(t, SendTransfer{AccountID: a.ID, Address: externalAddr, Amount: d("1")})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.ErrorIs(t, err, actor.ErrOperationFailed)

	h.ledger.Fund(a.Addresses[0].Address, d("10"))
	h.sync(t, a.ID)
	h.resetEvents()

	v, err := h.ask(t, SendTransfer{AccountID: a.ID, Address: externalAddr, Amount: d("4"), Tag: "rent"})
	require.NoError(t, err)
	res := v.(*TransferResult)
	require.NotEmpty(t, res.Transaction.Hash)
	require.True(t, res.Transaction.Broadcasted)
	require.False(t, res.Transaction.Incoming)
	require.NotNil(t, res.Remainder)
	require.True(t, res.Remainder.Balance.Equal(d("6")))
	require.Equal(t, []events.Type{events.Broadcast}, h.eventTypes(a.ID))

	require.True(t, h.balance(t, a.ID).Equal(d("6")))

	bals, err := h.ledger.Balances(t.Context(), []string{externalAddr, res.Remainder.Address})
	require.NoError(t, err)
	require.True(t, bals[externalAddr].Equal(d("4")))
	require.True(t, bals[res.Remainder.Address].Equal(d("6")))

	// the sync after a broadcast doesn't report our own transfer as new
	synced := h.sync(t, a.ID)
	require.Zero(t, synced.NewTransactions)
	require.True(t, synced.Balance.Equal(d("6")))
}

func TestWallet_RetryTransfer(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, "")
	h.ledger.Fund(a.Addresses[0].Address, d("5"))
	h.sync(t, a.ID)

	v, err := h.ask(t, SendTransfer{AccountID: a.ID, Address: externalAddr, Amount: d("5")})
	require.NoError(t, err)
	tx := v.(*TransferResult).Transaction
	require.Nil(t, v.(*TransferResult).Remainder, "exact amount needs no remainder")
	h.resetEvents()

	v, err = h.ask(t, RetryTransfer{AccountID: a.ID, Hash: tx.Hash})
	require.NoError(t, err)
	require.Equal(t, &RetryResult{Hash: tx.Hash, Attempts: 2}, v)
	require.Equal(t, []events.Type{events.Reattachment}, h.eventTypes(a.ID))

	require.NoError(t, h.ledger.Confirm(tx.Hash))
	v, err = h.ask(t, RetryTransfer{AccountID: a.ID, Hash: tx.Hash})
	require.NoError(t, err)
	require.True(t, v.(*RetryResult).Confirmed)

	_, err = h.ask(t, RetryTransfer{AccountID: a.ID, Hash: "abcdef"})
	require.ErrorIs(t, err, ErrUnknownTransfer)
}

func TestWallet_InternalTransfer(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, "")
	b := h.create(t, "")
	h.ledger.Fund(a.Addresses[0].Address, d("10"))
	h.sync(t, a.ID)

	v, err := h.ask(t, InternalTransfer{From: a.ID, To: b.ID, Amount: d("3")})
	require.NoError(t, err)
	require.True(t, v.(*TransferResult).Transaction.Amount.Equal(d("3")))

	require.True(t, h.balance(t, a.ID).Equal(d("7")))
	require.True(t, h.sync(t, b.ID).Balance.Equal(d("3")))

	_, err = h.ask(t, InternalTransfer{From: a.ID, To: b.ID, Amount: d("100")})
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestWallet_SyncAccountsToleratesFailures(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, "")
	b := h.create(t, "")
	h.ledger.Fund(a.Addresses[0].Address, d("2"))

	// b's snapshot disappears behind the manager's back
	require.NoError(t, h.store.Delete(t.Context(), accountKey(b.ID)))
	h.start(t)

	v, err := h.ask(t, SyncAccounts{})
	require.NoError(t, err)
	report := v.(*SyncReport)
	require.Len(t, report.Accounts, 2)

	byID := map[string]SyncOutcome{}
	for _, o := range report.Accounts {
		byID[o.AccountID] = o
	}
	require.NotNil(t, byID[a.ID].Result)
	require.True(t, byID[a.ID].Result.Balance.Equal(d("2")))
	require.Contains(t, byID[b.ID].Error, "not found")
}

func TestWallet_SetAliasAndRemove(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, "a")
	b := h.create(t, "b")

	_, err := h.ask(t, SetAlias{AccountID: b.ID, Alias: "a"})
	require.ErrorIs(t, err, ErrAliasTaken)

	_, err = h.ask(t, SetAlias{AccountID: a.ID, Alias: "a"})
	require.NoError(t, err, "keeping the own alias is fine")

	_, err = h.ask(t, SetAlias{AccountID: b.ID, Alias: "checking"})
	require.NoError(t, err)
	v, err := h.ask(t, GetAccount{AccountID: b.ID})
	require.NoError(t, err)
	require.Equal(t, "checking", v.(*AccountView).Alias)

	_, err = h.ask(t, RemoveAccount{AccountID: a.ID})
	require.NoError(t, err)

	_, err = h.ask(t, GetAccount{AccountID: a.ID})
	require.ErrorIs(t, err, ErrAccountNotFound)
	_, err = h.store.Get(t.Context(), accountKey(a.ID))
	require.ErrorIs(t, err, kv.ErrNotFound)

	v, err = h.ask(t, ListAccounts{})
	require.NoError(t, err)
	list := v.(*AccountList).Accounts
	require.Len(t, list, 1)
	assert.Equal(t, "checking", list[0].Alias)
}

func TestWallet_OverTheWire(t *testing.T) {
	h := newHarness(t)

	done := make(chan runtime.Result, 1)
	id, err := h.rt.SendMessage([]byte(`{"type":"CreateAccount","payload":{"alias":"wire"}}`), func(r runtime.Result) { done <- r })
	require.NoError(t, err)
	res := <-done
	require.NoError(t, res.Err)
	require.Equal(t, id, res.CorrelationID)

	frame, err := envelope.DecodeFrame(res.Encode())
	require.NoError(t, err)
	require.Equal(t, "CreateAccountResponse", frame.Type)
	require.Contains(t, string(frame.Payload), `"alias":"wire"`)
	require.NotContains(t, string(frame.Payload), "seed")

	for _, msg := range []string{
		`{"type":"GetBalance","payload":{"accountId":"not-a-uuid"}}`,
		`{"type":"SendTransfer","payload":{"accountId":"7d0f1a36-9f6f-4b1e-9a55-0c0e6b3a1a11","address":"ab","amount":"-1"}}`,
		`{"type":"InternalTransfer","payload":{"from":"7d0f1a36-9f6f-4b1e-9a55-0c0e6b3a1a11","to":"7d0f1a36-9f6f-4b1e-9a55-0c0e6b3a1a11","amount":"1"}}`,
		`{"type":"openAccount","payload":{}}`,
	} {
		_, err := h.rt.SendMessage([]byte(msg), func(runtime.Result) { t.Error("callback for rejected message") })
		require.ErrorIs(t, err, runtime.ErrMalformedMessage, msg)
	}
}

func TestFactory(t *testing.T) {
	f := Factory(Deps{Store: kv.NewMemStore(), Ledger: ledger.NewMemLedger(ledger.MemLedgerOptions{})})

	a, err := f(ManagerID)
	require.NoError(t, err)
	require.Equal(t, ManagerID, a.ID())

	a, err = f(AccountActorID("7d0f1a36-9f6f-4b1e-9a55-0c0e6b3a1a11"))
	require.NoError(t, err)
	require.Equal(t, "account/7d0f1a36-9f6f-4b1e-9a55-0c0e6b3a1a11", a.ID())

	for _, id := range []string{"account/xyz", "ledger", ""} {
		_, err := f(id)
		require.ErrorIs(t, err, ErrUnknownActor, id)
	}
}

func TestDeriveAddress(t *testing.T) {
	seed := make([]byte, seedSize)
	a0 := deriveAddress(seed, 0)
	require.Len(t, a0, 64)
	require.Equal(t, a0, deriveAddress(seed, 0))
	require.NotEqual(t, a0, deriveAddress(seed, 1))
}

// gatedStore holds reads until released.
type gatedStore struct {
	*kv.MemStore
	release chan struct{}
}

func (s *gatedStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return kv.Entry{}, ctx.Err()
	}
	return s.MemStore.Get(ctx, key)
}

func TestWallet_ShutdownFinishesAcceptedOperations(t *testing.T) {
	store := &gatedStore{MemStore: kv.NewMemStore(), release: make(chan struct{})}
	msgs, err := NewMessageRegistry()
	require.NoError(t, err)
	rt := runtime.New(runtime.Options{Messages: msgs, Workers: 2}, Factory(Deps{
		Store:  store,
		Ledger: ledger.NewMemLedger(ledger.MemLedgerOptions{}),
	}))
	require.NoError(t, rt.Init())

	results := make(chan runtime.Result, 1)
	_, err = rt.Submit(CreateAccount{Alias: "late"}, func(r runtime.Result) { results <- r })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rt.Stats().Suspended == 1 }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- rt.Shutdown(context.Background()) }()
	require.Eventually(t, func() bool { return !rt.Initialized() }, time.Second, time.Millisecond)
	close(store.release)

	res := <-results
	require.NoError(t, res.Err)
	require.Equal(t, runtime.KindNone, res.Kind())
	view := res.Value.(*AccountView)
	require.Equal(t, "late", view.Alias)
	require.NoError(t, <-done)

	// the account and its index entry were both written
	_, err = store.MemStore.Get(t.Context(), accountKey(view.ID))
	require.NoError(t, err)
	ix, err := kv.Get[accountIndex](t.Context(), store.MemStore, indexKey)
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 1)
}

func TestWallet_AbsentAccountsAreNotRetained(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 500; i++ {
		_, err := h.ask(t, GetBalance{AccountID: uuid.NewString()})
		require.ErrorIs(t, err, ErrAccountNotFound)
	}
	require.Eventually(t, func() bool { return h.rt.Stats().Actors == 0 }, time.Second, time.Millisecond)

	keep := h.create(t, "keep")
	drop := h.create(t, "drop")
	_, err := h.ask(t, RemoveAccount{AccountID: drop.ID})
	require.NoError(t, err)

	// the manager and the remaining account
	require.Eventually(t, func() bool { return h.rt.Stats().Actors == 2 }, time.Second, time.Millisecond)
	require.True(t, h.balance(t, keep.ID).IsZero())
	_, err = h.ask(t, GetAccount{AccountID: drop.ID})
	require.ErrorIs(t, err, ErrAccountNotFound)
}
