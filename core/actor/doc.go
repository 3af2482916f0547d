// Package actor defines the execution model of wallet actors.
//
// An actor owns a slice of wallet state and processes one envelope at a time.
// The runtime scheduler calls [Actor.Process]; nothing else does. A turn runs
// to completion unless the handler hits an I/O boundary, where it returns a
// suspended [Step] instead of blocking:
//
//	actor.Handle[SyncAccount](func(hc actor.HandlerCtx, req SyncAccount) actor.Step {
//	    return actor.Await(
//	        func(ctx context.Context) (any, error) { return ledger.Balances(ctx, addrs) },
//	        func(v any, err error) actor.Step {
//	            if err != nil {
//	                return actor.Fail(err)
//	            }
//	            st.apply(v.(map[string]decimal.Decimal))
//	            return actor.Done(st.view())
//	        },
//	    )
//	})
//
// The scheduler runs the I/O outside its worker pool and schedules the
// continuation back onto a worker when the I/O completes. The actor stays
// busy in between, so state mutations stay ordered by envelope arrival.
//
// # Handlers
//
//   - [Handle] registers a handler that returns a Step
//   - [HandleSync] registers a handler that completes without I/O
//   - [Init] registers initialization logic run in the actor's first turn
//   - [DefaultHandler] registers a fallback for unmatched message types
//
// # Asking other actors
//
// [HandlerCtx.Ask] submits a request to another actor and suspends until it
// replies. Asking yourself fails with [ErrSelfRequest]. Ask relationships must
// be acyclic; the wallet only lets the manager ask accounts.
//
// # Failures
//
// Handlers report business failures with [Fail] or [Failf]; the resulting
// errors match [ErrOperationFailed]. Panics in handlers and continuations are
// contained and become operation failures too.
package actor
