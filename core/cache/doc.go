// Package cache holds the in-memory caches used in front of the ledger.
//
// [LRU] is safe for concurrent use: a single goroutine owns the entries and
// callers talk to it over channels, so no locking is involved. Entries may
// carry a TTL via [WithTTL]; expired entries are dropped when touched.
//
//	txs := cache.NewTyped[ledger.Transaction](cache.NewLRU(cache.LRUOpts{Size: 4096}))
//	txs.Put(hash, tx, cache.WithTTL(10*time.Minute))
//
// [Nop] disables caching without changing call sites.
package cache
