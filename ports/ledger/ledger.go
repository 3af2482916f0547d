// Package ledger is the port to the distributed ledger the wallet syncs
// against and broadcasts transfers to. Every call crosses the network, so
// actors only reach it from inside an I/O step.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidTransfer    = errors.New("invalid transfer")
	ErrUnavailable        = errors.New("ledger unavailable")
)

type Transaction struct {
	Hash string `json:"hash"`
	// Inputs are the addresses the value was taken from; empty for deposits.
	Inputs    []string        `json:"inputs,omitempty"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Remainder string          `json:"remainder,omitempty"`
	Change    decimal.Decimal `json:"change"`
	Tag       string          `json:"tag,omitempty"`
	Message   string          `json:"message,omitempty"`
	Confirmed bool            `json:"confirmed"`
	Timestamp time.Time       `json:"timestamp"`
}

// Touches reports whether addr sends or receives value in tx.
func (tx Transaction) Touches(addr string) bool {
	if tx.To == addr || tx.Remainder == addr {
		return true
	}
	for _, in := range tx.Inputs {
		if in == addr {
			return true
		}
	}
	return false
}

// Transfer spends Inputs completely: Amount goes to To, whatever is left to
// Remainder.
type Transfer struct {
	Inputs    []string        `json:"inputs"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Remainder string          `json:"remainder,omitempty"`
	Tag       string          `json:"tag,omitempty"`
	Message   string          `json:"message,omitempty"`
}

func (t Transfer) Validate() error {
	switch {
	case len(t.Inputs) == 0:
		return errors.Join(ErrInvalidTransfer, errors.New("no inputs"))
	case t.To == "":
		return errors.Join(ErrInvalidTransfer, errors.New("no destination"))
	case !t.Amount.IsPositive():
		return errors.Join(ErrInvalidTransfer, errors.New("amount must be positive"))
	}
	return nil
}

type Client interface {
	// Balances returns the balance of every requested address; unknown
	// addresses have a zero balance.
	Balances(ctx context.Context, addrs []string) (map[string]decimal.Decimal, error)
	// Transactions returns the transactions touching any of addrs, oldest
	// first.
	Transactions(ctx context.Context, addrs []string) ([]Transaction, error)
	Transaction(ctx context.Context, hash string) (Transaction, error)
	Broadcast(ctx context.Context, t Transfer) (Transaction, error)
}
