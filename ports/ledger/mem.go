package ledger

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

type MemLedgerOptions struct {
	// Latency delays every call, honouring context cancellation.
	Latency time.Duration
	Clock   func() time.Time
}

// MemLedger is an in-process ledger used in tests, examples and the
// standalone daemon.
type MemLedger struct {
	latency time.Duration
	clock   func() time.Time

	mu          sync.Mutex
	balances    map[string]decimal.Decimal
	txs         []Transaction
	byHash      map[string]int
	seq         uint64
	unavailable bool
	calls       map[string]int
}

func NewMemLedger(opts MemLedgerOptions) *MemLedger {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &MemLedger{
		latency:  opts.Latency,
		clock:    opts.Clock,
		balances: make(map[string]decimal.Decimal),
		byHash:   make(map[string]int),
		calls:    make(map[string]int),
	}
}

// Fund deposits amount to addr with an unconfirmed transaction.
func (m *MemLedger) Fund(addr string, amount decimal.Decimal) Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] = m.balances[addr].Add(amount)
	return m.appendLocked(Transaction{To: addr, Amount: amount})
}

// Confirm marks a transaction as confirmed.
func (m *MemLedger) Confirm(hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byHash[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransaction, hash)
	}
	m.txs[i].Confirmed = true
	return nil
}

// SetUnavailable makes every call fail with ErrUnavailable.
func (m *MemLedger) SetUnavailable(v bool) {
	m.mu.Lock()
	m.unavailable = v
	m.mu.Unlock()
}

// Calls returns how often op was called.
func (m *MemLedger) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemLedger) Balances(ctx context.Context, addrs []string) (map[string]decimal.Decimal, error) {
	if err := m.enter(ctx, "balances"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(addrs))
	for _, a := range addrs {
		out[a] = m.balances[a]
	}
	return out, nil
}

func (m *MemLedger) Transactions(ctx context.Context, addrs []string) ([]Transaction, error) {
	if err := m.enter(ctx, "transactions"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, tx := range m.txs {
		for _, a := range addrs {
			if tx.Touches(a) {
				out = append(out, cloneTx(tx))
				break
			}
		}
	}
	return out, nil
}

func (m *MemLedger) Transaction(ctx context.Context, hash string) (Transaction, error) {
	if err := m.enter(ctx, "transaction"); err != nil {
		return Transaction{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byHash[hash]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %s", ErrUnknownTransaction, hash)
	}
	return cloneTx(m.txs[i]), nil
}

func (m *MemLedger) Broadcast(ctx context.Context, t Transfer) (Transaction, error) {
	if err := m.enter(ctx, "broadcast"); err != nil {
		return Transaction{}, err
	}
	if err := t.Validate(); err != nil {
		return Transaction{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sum := decimal.Zero
	for _, in := range t.Inputs {
		sum = sum.Add(m.balances[in])
	}
	if sum.LessThan(t.Amount) {
		return Transaction{}, fmt.Errorf("%w: inputs hold %s, need %s", ErrInsufficientFunds, sum, t.Amount)
	}
	change := sum.Sub(t.Amount)
	if change.IsPositive() && t.Remainder == "" {
		return Transaction{}, fmt.Errorf("%w: change of %s needs a remainder address", ErrInvalidTransfer, change)
	}

	for _, in := range t.Inputs {
		m.balances[in] = decimal.Zero
	}
	m.balances[t.To] = m.balances[t.To].Add(t.Amount)
	if change.IsPositive() {
		m.balances[t.Remainder] = m.balances[t.Remainder].Add(change)
	}

	return cloneTx(m.appendLocked(Transaction{
		Inputs:    append([]string(nil), t.Inputs...),
		To:        t.To,
		Amount:    t.Amount,
		Remainder: t.Remainder,
		Change:    change,
		Tag:       t.Tag,
		Message:   t.Message,
	})), nil
}

func (m *MemLedger) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	unavailable := m.unavailable
	m.mu.Unlock()

	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if unavailable {
		return ErrUnavailable
	}
	return nil
}

func (m *MemLedger) appendLocked(tx Transaction) Transaction {
	m.seq++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], m.seq)
	sum := blake2b.Sum256(append(seq[:], []byte(tx.To+tx.Amount.String())...))
	tx.Hash = hex.EncodeToString(sum[:])
	tx.Timestamp = m.clock()

	m.byHash[tx.Hash] = len(m.txs)
	m.txs = append(m.txs, tx)
	return tx
}

func cloneTx(tx Transaction) Transaction {
	tx.Inputs = append([]string(nil), tx.Inputs...)
	return tx
}

var _ Client = (*MemLedger)(nil)
