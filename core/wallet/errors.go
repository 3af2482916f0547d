package wallet

import "errors"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrAliasTaken        = errors.New("alias already in use")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownTransfer   = errors.New("unknown transfer")
	ErrUnknownActor      = errors.New("unknown wallet actor")
)
