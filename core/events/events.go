// Package events carries wallet notifications (balance changes, new
// transactions, broadcasts, errors) from actors to listeners registered
// through the binding.
package events

import (
	"context"
	"fmt"
	"time"
)

type Type string

const (
	ErrorThrown             Type = "ErrorThrown"
	BalanceChange           Type = "BalanceChange"
	NewTransaction          Type = "NewTransaction"
	ConfirmationStateChange Type = "ConfirmationStateChange"
	Reattachment            Type = "Reattachment"
	Broadcast               Type = "Broadcast"
)

var allTypes = []Type{
	ErrorThrown,
	BalanceChange,
	NewTransaction,
	ConfirmationStateChange,
	Reattachment,
	Broadcast,
}

// Types lists every event type.
func Types() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// ParseType accepts the exact event names used on the wire.
func ParseType(s string) (Type, error) {
	for _, t := range allTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid event name %s", s)
}

type Event struct {
	Type      Type      `json:"type"`
	AccountID string    `json:"accountId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives events of the type it was registered for.
type Listener func(Event)

// Sink forwards events to an external system, e.g. a NATS subject.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}
