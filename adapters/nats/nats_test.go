package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/walletrt-go/core/app"
	"github.com/codewandler/walletrt-go/core/envelope"
	"github.com/codewandler/walletrt-go/core/events"
	"github.com/codewandler/walletrt-go/core/runtime"
	"github.com/codewandler/walletrt-go/ports/ledger"
)

func TestNats_Adapters(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))

	t.Run("ledger", func(t *testing.T) {
		mem := ledger.NewMemLedger(ledger.MemLedgerOptions{})
		deposit := mem.Fund("a1", decimal.NewFromInt(10))

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		_, err := ServeLedger(ctx, LedgerConfig{Connect: connect, SubjectPrefix: "t1"}, mem)
		require.NoError(t, err)

		client, err := NewLedgerClient(LedgerConfig{Connect: connect, SubjectPrefix: "t1"})
		require.NoError(t, err)
		defer client.Close()

		bals, err := client.Balances(t.Context(), []string{"a1", "a2"})
		require.NoError(t, err)
		require.True(t, bals["a1"].Equal(decimal.NewFromInt(10)))
		require.True(t, bals["a2"].IsZero())

		txs, err := client.Transactions(t.Context(), []string{"a1"})
		require.NoError(t, err)
		require.Len(t, txs, 1)
		require.Equal(t, deposit.Hash, txs[0].Hash)

		tx, err := client.Broadcast(t.Context(), ledger.Transfer{
			Inputs: []string{"a1"}, To: "b1", Amount: decimal.NewFromInt(4), Remainder: "a3",
		})
		require.NoError(t, err)
		require.True(t, tx.Change.Equal(decimal.NewFromInt(6)))

		_, err = client.Transaction(t.Context(), "nope")
		require.ErrorIs(t, err, ledger.ErrUnknownTransaction)

		_, err = client.Broadcast(t.Context(), ledger.Transfer{Inputs: []string{"a1"}, To: "b1", Amount: decimal.NewFromInt(4)})
		require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

		other, err := NewLedgerClient(LedgerConfig{Connect: connect, SubjectPrefix: "nobody"})
		require.NoError(t, err)
		defer other.Close()
		_, err = other.Balances(t.Context(), []string{"a1"})
		require.ErrorIs(t, err, ledger.ErrUnavailable)
	})

	t.Run("events", func(t *testing.T) {
		nc, release, err := connect()
		require.NoError(t, err)
		defer release()

		ch := make(chan *natsgo.Msg, 1)
		sub, err := nc.ChanSubscribe("t2.events.>", ch)
		require.NoError(t, err)
		defer func() { _ = sub.Unsubscribe() }()
		require.NoError(t, nc.Flush())

		pub, err := NewEventPublisher(EventPublisherConfig{Connect: connect, SubjectPrefix: "t2"})
		require.NoError(t, err)
		defer pub.Close()

		require.NoError(t, pub.Publish(t.Context(), events.Event{Type: events.Broadcast, AccountID: "acc-1"}))
		select {
		case msg := <-ch:
			require.Equal(t, "t2.events.Broadcast", msg.Subject)
			var evt events.Event
			require.NoError(t, json.Unmarshal(msg.Data, &evt))
			require.Equal(t, "acc-1", evt.AccountID)
		case <-time.After(2 * time.Second):
			t.Fatal("event not published")
		}
	})

	t.Run("binding", func(t *testing.T) {
		a, err := app.Run(app.Config{})
		require.NoError(t, err)
		defer a.Stop()

		srv, err := NewBindingServer(BindingConfig{Connect: connect, SubjectPrefix: "t3"}, a)
		require.NoError(t, err)
		defer srv.Close()

		client, err := NewBindingClient(BindingConfig{Connect: connect, SubjectPrefix: "t3"})
		require.NoError(t, err)
		defer client.Close()

		resp, err := client.Send(t.Context(), `{"type":"CreateAccount","payload":{"alias":"nats"}}`)
		require.NoError(t, err)
		f, err := envelope.DecodeFrame([]byte(resp))
		require.NoError(t, err)
		require.Equal(t, "CreateAccountResponse", f.Type)

		resp, err = client.Send(t.Context(), "not-json-garbage")
		require.NoError(t, err)
		f, err = envelope.DecodeFrame([]byte(resp))
		require.NoError(t, err)
		require.Equal(t, envelope.FrameTypeError, f.Type)
		var ep envelope.ErrorPayload
		require.NoError(t, json.Unmarshal(f.Payload, &ep))
		require.Equal(t, string(runtime.KindMalformedMessage), ep.Kind)
	})
}
