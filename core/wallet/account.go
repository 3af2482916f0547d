package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/codewandler/walletrt-go/core/actor"
	"github.com/codewandler/walletrt-go/core/events"
	"github.com/codewandler/walletrt-go/ports/kv"
	"github.com/codewandler/walletrt-go/ports/ledger"
)

// account owns the state of a single account. The snapshot is loaded on the
// first request and every change is persisted before it becomes visible.
type account struct {
	id     string
	deps   Deps
	st     *accountState
	loaded bool
}

func newAccount(id string, deps Deps) actor.Actor {
	a := &account{id: id, deps: deps}
	opts := deps.actorOptions()
	opts.Idle = a.idle
	return actor.TypedHandlers(
		actor.Handle[openAccount](a.open),
		actor.Handle[GetAccount](a.getAccount),
		actor.Handle[GetBalance](a.getBalance),
		actor.Handle[GenerateAddress](a.generateAddress),
		actor.Handle[SyncAccount](a.sync),
		actor.Handle[SendTransfer](a.sendTransfer),
		actor.Handle[RetryTransfer](a.retryTransfer),
		actor.Handle[renameAccount](a.rename),
		actor.Handle[closeAccount](a.close),
	).ToActor(AccountActorID(id), opts)
}

// idle is true when no account state is held: the account doesn't exist, was
// removed, or failed to load.
func (a *account) idle() bool { return a.st == nil }

func (a *account) load() actor.Step {
	if a.loaded {
		return actor.Done(nil)
	}
	return a.deps.await(func(ctx context.Context) (any, error) {
		return kv.Get[accountSnapshot](ctx, a.deps.Store, accountKey(a.id))
	}, func(v any, err error) actor.Step {
		switch {
		case errors.Is(err, kv.ErrNotFound):
		case err != nil:
			return actor.Fail(fmt.Errorf("load account %s: %w", a.id, err))
		default:
			st, err := restoreAccountState(v.(accountSnapshot))
			if err != nil {
				return actor.Fail(err)
			}
			a.st = st
		}
		a.loaded = true
		return actor.Done(nil)
	})
}

// withAccount runs fn once the account is loaded and known to exist.
func (a *account) withAccount(fn func(st *accountState) actor.Step) actor.Step {
	return a.load().Then(func(any) actor.Step {
		if a.st == nil {
			return actor.Fail(&actor.OperationError{
				Reason: fmt.Sprintf("account %s not found", a.id),
				Err:    ErrAccountNotFound,
			})
		}
		return fn(a.st)
	})
}

// commit persists next and makes it the current state.
func (a *account) commit(next *accountState) actor.Step {
	snap := next.snapshot()
	return a.deps.await(func(ctx context.Context) (any, error) {
		return nil, kv.Put(ctx, a.deps.Store, accountKey(snap.ID), snap, kv.PutOptions{})
	}, func(_ any, err error) actor.Step {
		if err != nil {
			return actor.Fail(fmt.Errorf("persist account %s: %w", snap.ID, err))
		}
		a.st = next
		return actor.Done(nil)
	})
}

func (a *account) open(hc actor.HandlerCtx, req openAccount) actor.Step {
	return a.load().Then(func(any) actor.Step {
		if a.st != nil {
			return actor.Fail(&actor.OperationError{
				Reason: fmt.Sprintf("account %s already exists", a.id),
				Err:    ErrAccountExists,
			})
		}
		st, err := newAccountState(a.id, req.Alias, req.Mnemonic, a.deps.Clock())
		if err != nil {
			return actor.Fail(err)
		}
		return a.commit(st).Then(func(any) actor.Step {
			hc.Log().Info("account opened", slog.String("account_id", a.id), slog.String("alias", req.Alias))
			return actor.Done(st.view())
		})
	})
}

func (a *account) getAccount(hc actor.HandlerCtx, _ GetAccount) actor.Step {
	return a.withAccount(func(st *accountState) actor.Step {
		return actor.Done(st.view())
	})
}

func (a *account) getBalance(hc actor.HandlerCtx, _ GetBalance) actor.Step {
	return a.withAccount(func(st *accountState) actor.Step {
		return actor.Done(&BalanceView{
			AccountID: st.ID,
			Balance:   st.balance(),
			Addresses: append([]Address(nil), st.Addresses...),
		})
	})
}

func (a *account) generateAddress(hc actor.HandlerCtx, _ GenerateAddress) actor.Step {
	return a.withAccount(func(st *accountState) actor.Step {
		next := st.clone()
		addr := next.nextAddress()
		return a.commit(next).Then(func(any) actor.Step {
			return actor.Done(&addr)
		})
	})
}

func (a *account) sync(hc actor.HandlerCtx, _ SyncAccount) actor.Step {
	return a.withAccount(func(st *accountState) actor.Step {
		addrs := st.addressList()
		return actor.AwaitAll([]actor.IOFunc{
			func(ctx context.Context) (any, error) { return a.deps.Ledger.Balances(ctx, addrs) },
			func(ctx context.Context) (any, error) { return a.deps.Ledger.Transactions(ctx, addrs) },
		}, func(vs []any, err error) actor.Step {
			if err != nil {
				hc.Emit(events.Event{
					Type:      events.ErrorThrown,
					AccountID: a.id,
					Payload:   ErrorPayload{Operation: SyncAccount{}.OpType(), Error: err.Error()},
				})
				return actor.Fail(fmt.Errorf("sync account %s: %w", a.id, err))
			}
			return a.applySync(hc, vs[0].(map[string]decimal.Decimal), vs[1].([]ledger.Transaction))
		})
	})
}

func (a *account) applySync(hc actor.HandlerCtx, balances map[string]decimal.Decimal, txs []ledger.Transaction) actor.Step {
	next := a.st.clone()
	out := &outbox{accountID: a.id}
	res := &SyncResult{AccountID: a.id}

	for _, addr := range next.addressList() {
		bal, ok := balances[addr]
		if !ok {
			continue
		}
		if prev, changed := next.setBalance(addr, bal); changed {
			out.add(events.BalanceChange, BalanceChangePayload{Address: addr, Previous: prev, Balance: bal})
		}
	}

	for _, tx := range txs {
		if i, ok := next.findTx(tx.Hash); ok {
			known := &next.Transactions[i]
			if tx.Confirmed && !known.Confirmed {
				known.Confirmed = true
				res.Confirmed++
				out.add(events.ConfirmationStateChange, ConfirmationPayload{
					Hash:      tx.Hash,
					Confirmed: true,
					Incoming:  known.Incoming,
				})
			}
			continue
		}
		rec := Transaction{Transaction: tx, Incoming: next.isIncoming(tx)}
		next.addTx(rec)
		res.NewTransactions++
		out.add(events.NewTransaction, rec)
	}

	now := a.deps.Clock()
	next.LastSyncedAt = &now
	res.LastSyncedAt = now
	res.Balance = next.balance()

	return a.commit(next).Then(func(any) actor.Step {
		out.flush(hc.Emit)
		hc.Log().Debug("account synced",
			slog.String("account_id", a.id),
			slog.Int("new_transactions", res.NewTransactions),
			slog.Int("confirmed", res.Confirmed),
		)
		return actor.Done(res)
	})
}

func (a *account) sendTransfer(hc actor.HandlerCtx, req SendTransfer) actor.Step {
	return a.withAccount(func(st *accountState) actor.Step {
		inputs, sum, ok := st.selectInputs(req.Amount)
		if !ok {
			return actor.Fail(&actor.OperationError{
				Reason: fmt.Sprintf("insufficient funds: balance %s, requested %s", sum, req.Amount),
				Err:    ErrInsufficientFunds,
			})
		}

		// The remainder address is persisted before broadcasting so change
		// never lands on an address the account doesn't know about.
		next := st.clone()
		var remainder *Address
		if sum.GreaterThan(req.Amount) {
			addr := next.nextAddress()
			remainder = &addr
		}
		transfer := ledger.Transfer{
			Inputs:  inputs,
			To:      req.Address,
			Amount:  req.Amount,
			Tag:     req.Tag,
			Message: req.Message,
		}
		if remainder != nil {
			transfer.Remainder = remainder.Address
		}

		prepare := actor.Done(nil)
		if remainder != nil {
			prepare = a.commit(next)
		}
		return prepare.Then(func(any) actor.Step {
			return a.deps.await(func(ctx context.Context) (any, error) {
				return a.deps.Ledger.Broadcast(ctx, transfer)
			}, func(v any, err error) actor.Step {
				if err != nil {
					hc.Emit(events.Event{
						Type:      events.ErrorThrown,
						AccountID: a.id,
						Payload:   ErrorPayload{Operation: req.OpType(), Error: err.Error()},
					})
					if errors.Is(err, ledger.ErrInsufficientFunds) {
						return actor.Fail(&actor.OperationError{Reason: err.Error(), Err: ErrInsufficientFunds})
					}
					return actor.Fail(fmt.Errorf("broadcast transfer: %w", err))
				}
				return a.recordTransfer(hc, v.(ledger.Transaction), remainder)
			})
		})
	})
}

func (a *account) recordTransfer(hc actor.HandlerCtx, tx ledger.Transaction, remainder *Address) actor.Step {
	next := a.st.clone()
	for _, in := range tx.Inputs {
		next.setBalance(in, decimal.Zero)
	}
	if tx.Remainder != "" {
		next.setBalance(tx.Remainder, tx.Change)
	}
	if next.owned.Contains(tx.To) {
		bal := decimal.Zero
		for _, addr := range next.Addresses {
			if addr.Address == tx.To {
				bal = addr.Balance
			}
		}
		next.setBalance(tx.To, bal.Add(tx.Amount))
	}
	rec := Transaction{Transaction: tx, Broadcasted: true, Attempts: 1}
	next.addTx(rec)

	return a.commit(next).Then(func(any) actor.Step {
		hc.Emit(events.Event{Type: events.Broadcast, AccountID: a.id, Payload: rec})
		hc.Log().Info("transfer broadcast",
			slog.String("account_id", a.id),
			slog.String("hash", tx.Hash),
			slog.String("amount", tx.Amount.String()),
		)
		if remainder != nil {
			r := *remainder
			r.Balance = tx.Change
			remainder = &r
		}
		return actor.Done(&TransferResult{Transaction: rec, Remainder: remainder})
	})
}

// retryTransfer checks a pending outgoing transfer. A confirmed transfer is
// marked as such; a pending one counts another attempt and is reported as
// reattached.
func (a *account) retryTransfer(hc actor.HandlerCtx, req RetryTransfer) actor.Step {
	return a.withAccount(func(st *accountState) actor.Step {
		i, ok := st.findTx(req.Hash)
		if !ok || st.Transactions[i].Incoming {
			return actor.Fail(&actor.OperationError{
				Reason: fmt.Sprintf("no outgoing transfer %s", req.Hash),
				Err:    ErrUnknownTransfer,
			})
		}
		if st.Transactions[i].Confirmed {
			return actor.Done(&RetryResult{Hash: req.Hash, Confirmed: true, Attempts: st.Transactions[i].Attempts})
		}

		return a.deps.await(func(ctx context.Context) (any, error) {
			return a.deps.Ledger.Transaction(ctx, req.Hash)
		}, func(v any, err error) actor.Step {
			if err != nil {
				return actor.Fail(fmt.Errorf("lookup transfer %s: %w", req.Hash, err))
			}
			tx := v.(ledger.Transaction)
			next := a.st.clone()
			i, _ := next.findTx(req.Hash)
			rec := &next.Transactions[i]

			var evt events.Event
			if tx.Confirmed {
				rec.Confirmed = true
				evt = events.Event{Type: events.ConfirmationStateChange, AccountID: a.id, Payload: ConfirmationPayload{Hash: req.Hash, Confirmed: true}}
			} else {
				rec.Attempts++
				evt = events.Event{Type: events.Reattachment, AccountID: a.id, Payload: ReattachmentPayload{Hash: req.Hash, Attempts: rec.Attempts}}
			}
			res := &RetryResult{Hash: req.Hash, Confirmed: rec.Confirmed, Attempts: rec.Attempts}

			return a.commit(next).Then(func(any) actor.Step {
				hc.Emit(evt)
				return actor.Done(res)
			})
		})
	})
}

func (a *account) rename(hc actor.HandlerCtx, req renameAccount) actor.Step {
	return a.withAccount(func(st *accountState) actor.Step {
		next := st.clone()
		next.Alias = req.Alias
		return a.commit(next).Then(func(any) actor.Step {
			s := next.summary()
			return actor.Done(&s)
		})
	})
}

func (a *account) close(hc actor.HandlerCtx, _ closeAccount) actor.Step {
	return a.withAccount(func(st *accountState) actor.Step {
		return a.deps.await(func(ctx context.Context) (any, error) {
			return nil, a.deps.Store.Delete(ctx, accountKey(a.id))
		}, func(_ any, err error) actor.Step {
			if err != nil && !errors.Is(err, kv.ErrNotFound) {
				return actor.Fail(fmt.Errorf("delete account %s: %w", a.id, err))
			}
			a.st = nil
			hc.Log().Info("account removed", slog.String("account_id", a.id))
			return actor.Done(&RemovedAccount{AccountID: a.id})
		})
	})
}
