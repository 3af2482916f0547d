package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	natsgo "github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/codewandler/walletrt-go/ports/ledger"
)

const (
	ledgerOpBalances     = "balances"
	ledgerOpTransactions = "transactions"
	ledgerOpTransaction  = "transaction"
	ledgerOpBroadcast    = "broadcast"
)

// ledgerReply is the reply frame of every ledger request. Code carries
// errors the wallet distinguishes.
type ledgerReply struct {
	Data json.RawMessage `json:"data,omitempty"`
	Err  string          `json:"err,omitempty"`
	Code string          `json:"code,omitempty"`
}

type ledgerQuery struct {
	Addrs []string `json:"addrs,omitempty"`
	Hash  string   `json:"hash,omitempty"`
}

var ledgerCodes = map[string]error{
	"unknown_transaction": ledger.ErrUnknownTransaction,
	"insufficient_funds":  ledger.ErrInsufficientFunds,
	"invalid_transfer":    ledger.ErrInvalidTransfer,
	"unavailable":         ledger.ErrUnavailable,
}

func ledgerCode(err error) string {
	for code, target := range ledgerCodes {
		if errors.Is(err, target) {
			return code
		}
	}
	return ""
}

func ledgerSubject(prefix, op string) string {
	if prefix == "" {
		prefix = "walletrt"
	}
	return prefix + ".ledger." + op
}

type LedgerConfig struct {
	Connect       Connector
	Log           *slog.Logger
	SubjectPrefix string // e.g. "walletrt" -> walletrt.ledger.<op>
}

// LedgerClient is a [ledger.Client] talking request/reply to a ledger
// gateway, see ServeLedger.
type LedgerClient struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	prefix  string
}

func NewLedgerClient(cfg LedgerConfig) (*LedgerClient, error) {
	connect := cfg.Connect
	if connect == nil {
		connect = ConnectDefault()
	}
	nc, closeNc, err := connect()
	if err != nil {
		return nil, err
	}
	return &LedgerClient{nc: nc, closeNc: closeNc, prefix: cfg.SubjectPrefix}, nil
}

func (c *LedgerClient) Close() { c.closeNc() }

func (c *LedgerClient) request(ctx context.Context, op string, req any, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	msg, err := c.nc.RequestWithContext(ctx, ledgerSubject(c.prefix, op), payload)
	if err != nil {
		if errors.Is(err, natsgo.ErrNoResponders) || errors.Is(err, natsgo.ErrConnectionClosed) {
			return fmt.Errorf("%w: %s", ledger.ErrUnavailable, err)
		}
		return fmt.Errorf("nats: ledger %s: %w", op, err)
	}
	var reply ledgerReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", op, err)
	}
	if reply.Err != "" {
		if target, ok := ledgerCodes[reply.Code]; ok {
			return fmt.Errorf("%w: %s", target, reply.Err)
		}
		return errors.New(reply.Err)
	}
	return json.Unmarshal(reply.Data, out)
}

func (c *LedgerClient) Balances(ctx context.Context, addrs []string) (out map[string]decimal.Decimal, err error) {
	err = c.request(ctx, ledgerOpBalances, ledgerQuery{Addrs: addrs}, &out)
	return out, err
}

func (c *LedgerClient) Transactions(ctx context.Context, addrs []string) (out []ledger.Transaction, err error) {
	err = c.request(ctx, ledgerOpTransactions, ledgerQuery{Addrs: addrs}, &out)
	return out, err
}

func (c *LedgerClient) Transaction(ctx context.Context, hash string) (out ledger.Transaction, err error) {
	err = c.request(ctx, ledgerOpTransaction, ledgerQuery{Hash: hash}, &out)
	return out, err
}

func (c *LedgerClient) Broadcast(ctx context.Context, t ledger.Transfer) (out ledger.Transaction, err error) {
	err = c.request(ctx, ledgerOpBroadcast, t, &out)
	return out, err
}

var _ ledger.Client = (*LedgerClient)(nil)

// LedgerServer exposes a ledger.Client on NATS. It backs LedgerClient in
// tests and local setups where the ledger gateway runs in-process.
type LedgerServer struct {
	log  *slog.Logger
	subs []*natsgo.Subscription
	once sync.Once
}

func ServeLedger(ctx context.Context, cfg LedgerConfig, client ledger.Client) (*LedgerServer, error) {
	connect := cfg.Connect
	if connect == nil {
		connect = ConnectDefault()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	nc, closeNc, err := connect()
	if err != nil {
		return nil, err
	}
	s := &LedgerServer{log: log.With(slog.String("component", "ledger_server"))}

	handlers := map[string]func(ctx context.Context, data []byte) (any, error){
		ledgerOpBalances: func(ctx context.Context, data []byte) (any, error) {
			var q ledgerQuery
			if err := json.Unmarshal(data, &q); err != nil {
				return nil, err
			}
			return client.Balances(ctx, q.Addrs)
		},
		ledgerOpTransactions: func(ctx context.Context, data []byte) (any, error) {
			var q ledgerQuery
			if err := json.Unmarshal(data, &q); err != nil {
				return nil, err
			}
			return client.Transactions(ctx, q.Addrs)
		},
		ledgerOpTransaction: func(ctx context.Context, data []byte) (any, error) {
			var q ledgerQuery
			if err := json.Unmarshal(data, &q); err != nil {
				return nil, err
			}
			return client.Transaction(ctx, q.Hash)
		},
		ledgerOpBroadcast: func(ctx context.Context, data []byte) (any, error) {
			var t ledger.Transfer
			if err := json.Unmarshal(data, &t); err != nil {
				return nil, err
			}
			return client.Broadcast(ctx, t)
		},
	}

	for op, h := range handlers {
		sub, err := nc.Subscribe(ledgerSubject(cfg.SubjectPrefix, op), func(msg *natsgo.Msg) {
			var reply ledgerReply
			v, err := h(ctx, msg.Data)
			if err == nil {
				reply.Data, err = json.Marshal(v)
			}
			if err != nil {
				reply.Err = err.Error()
				reply.Code = ledgerCode(err)
			}
			b, _ := json.Marshal(reply)
			if err := msg.Respond(b); err != nil {
				s.log.Error("failed to publish ledger reply", slog.String("op", op), slog.Any("error", err))
			}
		})
		if err != nil {
			s.close()
			closeNc()
			return nil, fmt.Errorf("nats: subscribe ledger %s: %w", op, err)
		}
		s.subs = append(s.subs, sub)
	}

	go func() {
		<-ctx.Done()
		s.close()
		closeNc()
	}()
	return s, nil
}

func (s *LedgerServer) close() {
	s.once.Do(func() {
		for _, sub := range s.subs {
			_ = sub.Unsubscribe()
		}
	})
}
