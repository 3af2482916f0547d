package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/walletrt-go/core/actor"
	"github.com/codewandler/walletrt-go/ports/kv"
	"github.com/codewandler/walletrt-go/ports/ledger"
)

// Deps are shared by every wallet actor.
type Deps struct {
	Store  kv.Store
	Ledger ledger.Client
	Logger *slog.Logger
	// OnPanic overrides the default panic logging of actors.
	OnPanic actor.OnPanic
	Clock   func() time.Time
	// NewID generates account ids (default: random uuid).
	NewID func() string
	// IOTimeout bounds each storage and ledger call. Zero means the call is
	// only bounded by the turn's context.
	IOTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return d
}

func (d Deps) actorOptions() actor.Options {
	return actor.Options{Logger: d.Logger, OnPanic: d.OnPanic}
}

// await suspends on fn, bounded by IOTimeout.
func (d Deps) await(fn actor.IOFunc, then actor.Continuation) actor.Step {
	if d.IOTimeout > 0 {
		inner, timeout := fn, d.IOTimeout
		fn = func(ctx context.Context) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return inner(ctx)
		}
	}
	return actor.Await(fn, then)
}

// Factory creates the manager for [ManagerID] and an account actor for
// every "account/<uuid>" id.
func Factory(deps Deps) actor.Factory {
	deps = deps.withDefaults()
	return func(actorID string) (actor.Actor, error) {
		if actorID == ManagerID {
			return newManager(deps), nil
		}
		id, ok := strings.CutPrefix(actorID, accountActorPrefix)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownActor, actorID)
		}
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrUnknownActor, actorID, err)
		}
		return newAccount(id, deps), nil
	}
}
