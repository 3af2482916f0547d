package wallet

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/codewandler/walletrt-go/core/envelope"
)

const ManagerID = "manager"

const accountActorPrefix = "account/"

// AccountActorID is the actor owning the state of account id.
func AccountActorID(id string) string { return accountActorPrefix + id }

// Manager operations. The manager owns the account index.
type (
	CreateAccount struct {
		Alias string `json:"alias,omitempty" valid:"runelength(1|64)"`
		// Mnemonic makes address derivation reproducible. A random seed is
		// used when empty.
		Mnemonic string `json:"mnemonic,omitempty"`
	}

	ListAccounts struct{}

	RemoveAccount struct {
		AccountID string `json:"accountId" valid:"required,uuid"`
	}

	SetAlias struct {
		AccountID string `json:"accountId" valid:"required,uuid"`
		Alias     string `json:"alias" valid:"required,runelength(1|64)"`
	}

	SyncAccounts struct{}

	InternalTransfer struct {
		From   string          `json:"from" valid:"required,uuid"`
		To     string          `json:"to" valid:"required,uuid"`
		Amount decimal.Decimal `json:"amount" valid:"-"`
	}
)

func (CreateAccount) OpType() string    { return "CreateAccount" }
func (ListAccounts) OpType() string     { return "ListAccounts" }
func (RemoveAccount) OpType() string    { return "RemoveAccount" }
func (SetAlias) OpType() string         { return "SetAlias" }
func (SyncAccounts) OpType() string     { return "SyncAccounts" }
func (InternalTransfer) OpType() string { return "InternalTransfer" }

func (CreateAccount) ActorID() string    { return ManagerID }
func (ListAccounts) ActorID() string     { return ManagerID }
func (RemoveAccount) ActorID() string    { return ManagerID }
func (SetAlias) ActorID() string         { return ManagerID }
func (SyncAccounts) ActorID() string     { return ManagerID }
func (InternalTransfer) ActorID() string { return ManagerID }

func (t InternalTransfer) Validate() error {
	if t.From == t.To {
		return errors.New("source and destination account are the same")
	}
	if !t.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	return nil
}

// Account operations, routed to the account's own actor.
type (
	GetAccount struct {
		AccountID string `json:"accountId" valid:"required,uuid"`
	}

	GetBalance struct {
		AccountID string `json:"accountId" valid:"required,uuid"`
	}

	GenerateAddress struct {
		AccountID string `json:"accountId" valid:"required,uuid"`
	}

	SyncAccount struct {
		AccountID string `json:"accountId" valid:"required,uuid"`
	}

	SendTransfer struct {
		AccountID string          `json:"accountId" valid:"required,uuid"`
		Address   string          `json:"address" valid:"required,hexadecimal"`
		Amount    decimal.Decimal `json:"amount" valid:"-"`
		Tag       string          `json:"tag,omitempty" valid:"alphanum,runelength(1|27)"`
		Message   string          `json:"message,omitempty" valid:"runelength(1|1024)"`
	}

	// RetryTransfer checks an unconfirmed outgoing transfer against the
	// ledger and reattaches it when it is still pending.
	RetryTransfer struct {
		AccountID string `json:"accountId" valid:"required,uuid"`
		Hash      string `json:"hash" valid:"required,hexadecimal"`
	}
)

func (GetAccount) OpType() string      { return "GetAccount" }
func (GetBalance) OpType() string      { return "GetBalance" }
func (GenerateAddress) OpType() string { return "GenerateAddress" }
func (SyncAccount) OpType() string     { return "SyncAccount" }
func (SendTransfer) OpType() string    { return "SendTransfer" }
func (RetryTransfer) OpType() string   { return "RetryTransfer" }

func (r GetAccount) ActorID() string      { return AccountActorID(r.AccountID) }
func (r GetBalance) ActorID() string      { return AccountActorID(r.AccountID) }
func (r GenerateAddress) ActorID() string { return AccountActorID(r.AccountID) }
func (r SyncAccount) ActorID() string     { return AccountActorID(r.AccountID) }
func (r SendTransfer) ActorID() string    { return AccountActorID(r.AccountID) }
func (r RetryTransfer) ActorID() string   { return AccountActorID(r.AccountID) }

func (t SendTransfer) Validate() error {
	if !t.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	return nil
}

// Requests only the manager sends to accounts. They are not registered for
// the wire.
type (
	openAccount struct {
		AccountID string
		Alias     string
		Mnemonic  string
	}
	renameAccount struct {
		AccountID string
		Alias     string
	}
	closeAccount struct {
		AccountID string
	}
)

func (openAccount) OpType() string   { return "openAccount" }
func (renameAccount) OpType() string { return "renameAccount" }
func (closeAccount) OpType() string  { return "closeAccount" }

func (r openAccount) ActorID() string   { return AccountActorID(r.AccountID) }
func (r renameAccount) ActorID() string { return AccountActorID(r.AccountID) }
func (r closeAccount) ActorID() string  { return AccountActorID(r.AccountID) }

// RegisterMessages makes every public wallet operation decodable from the
// wire.
func RegisterMessages(reg *envelope.Registry) {
	envelope.Register[CreateAccount](reg)
	envelope.Register[ListAccounts](reg)
	envelope.Register[RemoveAccount](reg)
	envelope.Register[SetAlias](reg)
	envelope.Register[SyncAccounts](reg)
	envelope.Register[InternalTransfer](reg)
	envelope.Register[GetAccount](reg)
	envelope.Register[GetBalance](reg)
	envelope.Register[GenerateAddress](reg)
	envelope.Register[SyncAccount](reg)
	envelope.Register[SendTransfer](reg)
	envelope.Register[RetryTransfer](reg)
}

// NewMessageRegistry returns a registry with all wallet operations.
func NewMessageRegistry(opts ...envelope.RegistryOption) (*envelope.Registry, error) {
	reg, err := envelope.NewRegistry(opts...)
	if err != nil {
		return nil, err
	}
	RegisterMessages(reg)
	return reg, nil
}
