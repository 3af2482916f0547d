package wallet

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/codewandler/walletrt-go/core/ds"
	"github.com/codewandler/walletrt-go/ports/ledger"
)

const (
	indexKey         = "index"
	accountKeyPrefix = "accounts."
	seedSize         = 32
)

func accountKey(id string) string { return accountKeyPrefix + id }

type Address struct {
	Address  string          `json:"address"`
	KeyIndex uint32          `json:"keyIndex"`
	Balance  decimal.Decimal `json:"balance"`
}

type Transaction struct {
	ledger.Transaction
	Incoming    bool `json:"incoming"`
	Broadcasted bool `json:"broadcasted"`
	Attempts    int  `json:"attempts,omitempty"`
}

// accountSnapshot is the persisted form of an account, stored under
// "accounts.<id>".
type accountSnapshot struct {
	ID           string        `json:"id"`
	Alias        string        `json:"alias"`
	Seed         string        `json:"seed"`
	Addresses    []Address     `json:"addresses"`
	Transactions []Transaction `json:"transactions"`
	CreatedAt    time.Time     `json:"createdAt"`
	LastSyncedAt *time.Time    `json:"lastSyncedAt,omitempty"`
}

type accountState struct {
	accountSnapshot
	seed  []byte
	owned *ds.Set[string] // addresses
	known *ds.Set[string] // transaction hashes
}

func newAccountState(id, alias, mnemonic string, now time.Time) (*accountState, error) {
	seed, err := deriveSeed(mnemonic)
	if err != nil {
		return nil, err
	}
	st := &accountState{
		accountSnapshot: accountSnapshot{
			ID:        id,
			Alias:     alias,
			Seed:      hex.EncodeToString(seed),
			CreatedAt: now,
		},
		seed:  seed,
		owned: ds.NewSet[string](),
		known: ds.NewSet[string](),
	}
	st.nextAddress()
	return st, nil
}

func restoreAccountState(snap accountSnapshot) (*accountState, error) {
	seed, err := hex.DecodeString(snap.Seed)
	if err != nil || len(seed) != seedSize {
		return nil, fmt.Errorf("account %s has a corrupt seed", snap.ID)
	}
	st := &accountState{accountSnapshot: snap, seed: seed, owned: ds.NewSet[string](), known: ds.NewSet[string]()}
	for _, a := range snap.Addresses {
		st.owned.Add(a.Address)
	}
	for _, tx := range snap.Transactions {
		st.known.Add(tx.Hash)
	}
	return st, nil
}

func deriveSeed(mnemonic string) ([]byte, error) {
	if mnemonic != "" {
		sum := blake2b.Sum256([]byte(mnemonic))
		return sum[:], nil
	}
	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return seed, nil
}

// deriveAddress is a keyed blake2b hash of the key index.
func deriveAddress(seed []byte, index uint32) string {
	h, err := blake2b.New256(seed)
	if err != nil {
		// only fails for keys longer than 64 bytes
		panic(err)
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], index)
	h.Write(b[:])
	return hex.EncodeToString(h.Sum(nil))
}

func (st *accountState) nextAddress() Address {
	a := Address{
		Address:  deriveAddress(st.seed, uint32(len(st.Addresses))),
		KeyIndex: uint32(len(st.Addresses)),
	}
	st.Addresses = append(st.Addresses, a)
	st.owned.Add(a.Address)
	return a
}

// depositAddress is the newest address.
func (st *accountState) depositAddress() Address {
	return st.Addresses[len(st.Addresses)-1]
}

func (st *accountState) balance() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range st.Addresses {
		sum = sum.Add(a.Balance)
	}
	return sum
}

func (st *accountState) addressList() []string {
	out := make([]string, len(st.Addresses))
	for i, a := range st.Addresses {
		out[i] = a.Address
	}
	return out
}

// selectInputs picks funded addresses, oldest first, until amount is
// covered.
func (st *accountState) selectInputs(amount decimal.Decimal) ([]string, decimal.Decimal, bool) {
	var (
		inputs []string
		sum    = decimal.Zero
	)
	for _, a := range st.Addresses {
		if !a.Balance.IsPositive() {
			continue
		}
		inputs = append(inputs, a.Address)
		sum = sum.Add(a.Balance)
		if sum.GreaterThanOrEqual(amount) {
			return inputs, sum, true
		}
	}
	return nil, sum, false
}

func (st *accountState) setBalance(addr string, bal decimal.Decimal) (prev decimal.Decimal, changed bool) {
	for i := range st.Addresses {
		if st.Addresses[i].Address == addr {
			prev = st.Addresses[i].Balance
			st.Addresses[i].Balance = bal
			return prev, !prev.Equal(bal)
		}
	}
	return decimal.Zero, false
}

func (st *accountState) summary() AccountSummary {
	return AccountSummary{ID: st.ID, Alias: st.Alias, CreatedAt: st.CreatedAt}
}

func (st *accountState) findTx(hash string) (int, bool) {
	if !st.known.Contains(hash) {
		return -1, false
	}
	for i := range st.Transactions {
		if st.Transactions[i].Hash == hash {
			return i, true
		}
	}
	return -1, false
}

// isIncoming reports whether none of the transaction's inputs belong to us.
func (st *accountState) isIncoming(tx ledger.Transaction) bool {
	for _, in := range tx.Inputs {
		if st.owned.Contains(in) {
			return false
		}
	}
	return true
}

func (st *accountState) addTx(tx Transaction) {
	if st.known.Add(tx.Hash) {
		st.Transactions = append(st.Transactions, tx)
	}
}

// clone returns a deep copy. Handlers mutate a clone and swap it in once
// the snapshot is persisted.
func (st *accountState) clone() *accountState {
	next, err := restoreAccountState(st.snapshot())
	if err != nil {
		panic(err)
	}
	return next
}

func (st *accountState) snapshot() accountSnapshot {
	snap := st.accountSnapshot
	snap.Addresses = append([]Address(nil), st.Addresses...)
	snap.Transactions = make([]Transaction, len(st.Transactions))
	for i, tx := range st.Transactions {
		tx.Inputs = append([]string(nil), tx.Inputs...)
		snap.Transactions[i] = tx
	}
	if st.LastSyncedAt != nil {
		at := *st.LastSyncedAt
		snap.LastSyncedAt = &at
	}
	return snap
}

// Views returned to callers. They never contain the seed.

type AccountView struct {
	ID           string          `json:"id"`
	Alias        string          `json:"alias"`
	Balance      decimal.Decimal `json:"balance"`
	Addresses    []Address       `json:"addresses"`
	Transactions []Transaction   `json:"transactions"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastSyncedAt *time.Time      `json:"lastSyncedAt,omitempty"`
}

func (st *accountState) view() *AccountView {
	snap := st.snapshot()
	return &AccountView{
		ID:           snap.ID,
		Alias:        snap.Alias,
		Balance:      st.balance(),
		Addresses:    snap.Addresses,
		Transactions: snap.Transactions,
		CreatedAt:    snap.CreatedAt,
		LastSyncedAt: snap.LastSyncedAt,
	}
}

type BalanceView struct {
	AccountID string          `json:"accountId"`
	Balance   decimal.Decimal `json:"balance"`
	Addresses []Address       `json:"addresses"`
}

type SyncResult struct {
	AccountID       string          `json:"accountId"`
	Balance         decimal.Decimal `json:"balance"`
	NewTransactions int             `json:"newTransactions"`
	Confirmed       int             `json:"confirmed"`
	LastSyncedAt    time.Time       `json:"lastSyncedAt"`
}

type SyncOutcome struct {
	AccountID string      `json:"accountId"`
	Result    *SyncResult `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type SyncReport struct {
	Accounts []SyncOutcome `json:"accounts"`
}

type TransferResult struct {
	Transaction Transaction `json:"transaction"`
	Remainder   *Address    `json:"remainder,omitempty"`
}

type RetryResult struct {
	Hash      string `json:"hash"`
	Confirmed bool   `json:"confirmed"`
	Attempts  int    `json:"attempts"`
}

type AccountSummary struct {
	ID        string    `json:"id"`
	Alias     string    `json:"alias"`
	CreatedAt time.Time `json:"createdAt"`
}

type AccountList struct {
	Accounts []AccountSummary `json:"accounts"`
}

type RemovedAccount struct {
	AccountID string `json:"accountId"`
}
