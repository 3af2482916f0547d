// Package sf is a typed wrapper around golang.org/x/sync/singleflight.
//
// The ledger guard uses it so that concurrent syncs of accounts sharing an
// address trigger a single balance lookup:
//
//	var balances sf.Group[decimal.Decimal]
//	bal, shared, err := balances.Do(addr, func() (decimal.Decimal, error) {
//	    return client.Balance(ctx, addr)
//	})
package sf
