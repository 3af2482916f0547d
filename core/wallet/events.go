package wallet

import (
	"github.com/shopspring/decimal"

	"github.com/codewandler/walletrt-go/core/events"
)

// Event payloads, one per event type.
type (
	BalanceChangePayload struct {
		Address  string          `json:"address"`
		Previous decimal.Decimal `json:"previous"`
		Balance  decimal.Decimal `json:"balance"`
	}

	ConfirmationPayload struct {
		Hash      string `json:"hash"`
		Confirmed bool   `json:"confirmed"`
		Incoming  bool   `json:"incoming"`
	}

	ReattachmentPayload struct {
		Hash     string `json:"hash"`
		Attempts int    `json:"attempts"`
	}

	ErrorPayload struct {
		Operation string `json:"operation"`
		Error     string `json:"error"`
	}
)

// outbox collects the events of one turn. They are emitted only after the
// state they describe is persisted.
type outbox struct {
	accountID string
	evts      []events.Event
}

func (o *outbox) add(t events.Type, payload any) {
	o.evts = append(o.evts, events.Event{Type: t, AccountID: o.accountID, Payload: payload})
}

func (o *outbox) flush(emit func(events.Event)) {
	for _, e := range o.evts {
		emit(e)
	}
	o.evts = nil
}
