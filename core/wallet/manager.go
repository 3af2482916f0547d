package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/codewandler/walletrt-go/core/actor"
	"github.com/codewandler/walletrt-go/ports/kv"
)

const defaultAliasPrefix = "Account "

// accountIndex is persisted under "index". The manager is its only writer.
type accountIndex struct {
	Accounts []AccountSummary `json:"accounts"`
}

func (ix *accountIndex) find(id string) (int, bool) {
	i := slices.IndexFunc(ix.Accounts, func(s AccountSummary) bool { return s.ID == id })
	return i, i >= 0
}

func (ix *accountIndex) aliasTaken(alias, except string) bool {
	return slices.ContainsFunc(ix.Accounts, func(s AccountSummary) bool {
		return s.Alias == alias && s.ID != except
	})
}

func (ix *accountIndex) nextAlias() string {
	for n := len(ix.Accounts) + 1; ; n++ {
		alias := defaultAliasPrefix + strconv.Itoa(n)
		if !ix.aliasTaken(alias, "") {
			return alias
		}
	}
}

func (ix *accountIndex) clone() *accountIndex {
	return &accountIndex{Accounts: slices.Clone(ix.Accounts)}
}

// manager owns the account index and coordinates operations that span
// accounts. It is the only actor that asks other actors.
type manager struct {
	deps  Deps
	index *accountIndex
}

func newManager(deps Deps) actor.Actor {
	m := &manager{deps: deps}
	return actor.TypedHandlers(
		actor.Handle[CreateAccount](m.createAccount),
		actor.Handle[ListAccounts](m.listAccounts),
		actor.Handle[RemoveAccount](m.removeAccount),
		actor.Handle[SetAlias](m.setAlias),
		actor.Handle[SyncAccounts](m.syncAccounts),
		actor.Handle[InternalTransfer](m.internalTransfer),
	).ToActor(ManagerID, deps.actorOptions())
}

func (m *manager) withIndex(fn func(ix *accountIndex) actor.Step) actor.Step {
	if m.index != nil {
		return fn(m.index)
	}
	return m.deps.await(func(ctx context.Context) (any, error) {
		return kv.Get[accountIndex](ctx, m.deps.Store, indexKey)
	}, func(v any, err error) actor.Step {
		switch {
		case errors.Is(err, kv.ErrNotFound):
			m.index = &accountIndex{}
		case err != nil:
			return actor.Fail(fmt.Errorf("load account index: %w", err))
		default:
			ix := v.(accountIndex)
			m.index = &ix
		}
		return fn(m.index)
	})
}

func (m *manager) persist(next *accountIndex) actor.IOFunc {
	return func(ctx context.Context) (any, error) {
		return nil, kv.Put(ctx, m.deps.Store, indexKey, next, kv.PutOptions{})
	}
}

func (m *manager) commit(next *accountIndex) actor.Step {
	return m.deps.await(m.persist(next), func(_ any, err error) actor.Step {
		if err != nil {
			return actor.Fail(fmt.Errorf("persist account index: %w", err))
		}
		m.index = next
		return actor.Done(nil)
	})
}

func notFound(id string) error {
	return &actor.OperationError{Reason: fmt.Sprintf("account %s not found", id), Err: ErrAccountNotFound}
}

func (m *manager) createAccount(hc actor.HandlerCtx, req CreateAccount) actor.Step {
	return m.withIndex(func(ix *accountIndex) actor.Step {
		alias := req.Alias
		if alias == "" {
			alias = ix.nextAlias()
		} else if ix.aliasTaken(alias, "") {
			return actor.Fail(&actor.OperationError{Reason: fmt.Sprintf("alias %q already in use", alias), Err: ErrAliasTaken})
		}

		id := m.deps.NewID()
		return hc.Ask(openAccount{AccountID: id, Alias: alias, Mnemonic: req.Mnemonic}).Then(func(v any) actor.Step {
			view := v.(*AccountView)
			next := ix.clone()
			next.Accounts = append(next.Accounts, AccountSummary{ID: view.ID, Alias: view.Alias, CreatedAt: view.CreatedAt})

			return m.deps.await(m.persist(next), func(_ any, err error) actor.Step {
				if err == nil {
					m.index = next
					return actor.Done(view)
				}
				// roll back so the snapshot doesn't outlive its index entry
				hc.Log().Error("persist account index failed, removing account",
					slog.String("account_id", id), slog.Any("error", err))
				return hc.Ask(closeAccount{AccountID: id}).Then(func(any) actor.Step {
					return actor.Fail(fmt.Errorf("persist account index: %w", err))
				})
			})
		})
	})
}

func (m *manager) listAccounts(hc actor.HandlerCtx, _ ListAccounts) actor.Step {
	return m.withIndex(func(ix *accountIndex) actor.Step {
		return actor.Done(&AccountList{Accounts: slices.Clone(ix.Accounts)})
	})
}

func (m *manager) removeAccount(hc actor.HandlerCtx, req RemoveAccount) actor.Step {
	return m.withIndex(func(ix *accountIndex) actor.Step {
		i, ok := ix.find(req.AccountID)
		if !ok {
			return actor.Fail(notFound(req.AccountID))
		}
		return actor.Await(hc.AskIO(closeAccount{AccountID: req.AccountID}), func(_ any, err error) actor.Step {
			// an index entry without snapshot is still removed
			if err != nil && !errors.Is(err, ErrAccountNotFound) {
				return actor.Fail(err)
			}
			next := ix.clone()
			next.Accounts = slices.Delete(next.Accounts, i, i+1)
			return m.commit(next).Then(func(any) actor.Step {
				return actor.Done(&RemovedAccount{AccountID: req.AccountID})
			})
		})
	})
}

func (m *manager) setAlias(hc actor.HandlerCtx, req SetAlias) actor.Step {
	return m.withIndex(func(ix *accountIndex) actor.Step {
		i, ok := ix.find(req.AccountID)
		if !ok {
			return actor.Fail(notFound(req.AccountID))
		}
		if ix.aliasTaken(req.Alias, req.AccountID) {
			return actor.Fail(&actor.OperationError{Reason: fmt.Sprintf("alias %q already in use", req.Alias), Err: ErrAliasTaken})
		}
		return hc.Ask(renameAccount{AccountID: req.AccountID, Alias: req.Alias}).Then(func(v any) actor.Step {
			next := ix.clone()
			next.Accounts[i].Alias = req.Alias
			return m.commit(next).Then(func(any) actor.Step {
				return actor.Done(v)
			})
		})
	})
}

// syncAccounts syncs every account concurrently. A failing account is
// reported in its outcome and doesn't fail the others.
func (m *manager) syncAccounts(hc actor.HandlerCtx, _ SyncAccounts) actor.Step {
	return m.withIndex(func(ix *accountIndex) actor.Step {
		ios := make([]actor.IOFunc, len(ix.Accounts))
		for i, s := range ix.Accounts {
			ask := hc.AskIO(SyncAccount{AccountID: s.ID})
			ios[i] = func(ctx context.Context) (any, error) {
				out := SyncOutcome{AccountID: s.ID}
				v, err := ask(ctx)
				if err != nil {
					out.Error = err.Error()
				} else {
					out.Result = v.(*SyncResult)
				}
				return out, nil
			}
		}
		return actor.AwaitAll(ios, func(vs []any, err error) actor.Step {
			if err != nil {
				return actor.Fail(err)
			}
			report := &SyncReport{Accounts: make([]SyncOutcome, len(vs))}
			for i, v := range vs {
				report.Accounts[i] = v.(SyncOutcome)
			}
			return actor.Done(report)
		})
	})
}

// internalTransfer moves funds between two accounts of this wallet: the
// destination hands out a fresh address, then the source sends to it.
func (m *manager) internalTransfer(hc actor.HandlerCtx, req InternalTransfer) actor.Step {
	return m.withIndex(func(ix *accountIndex) actor.Step {
		for _, id := range []string{req.From, req.To} {
			if _, ok := ix.find(id); !ok {
				return actor.Fail(notFound(id))
			}
		}
		return hc.Ask(GenerateAddress{AccountID: req.To}).Then(func(v any) actor.Step {
			addr := v.(*Address)
			return hc.Ask(SendTransfer{
				AccountID: req.From,
				Address:   addr.Address,
				Amount:    req.Amount,
				Message:   "internal transfer to " + req.To,
			})
		})
	})
}
