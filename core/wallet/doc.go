// Package wallet implements the wallet service on top of the actor runtime.
//
// Two kinds of actors exist. The manager (id "manager") owns the account
// index and runs operations spanning accounts: creating and removing
// accounts, aliases, syncing all accounts and internal transfers. Every
// account has its own actor ("account/<uuid>") owning its addresses,
// balances and transaction history. Account state is persisted in a
// [kv.Store] after every change and reloaded lazily, and all ledger access
// happens inside I/O steps so a slow ledger never blocks a worker.
//
// Only the manager asks other actors, so asks can't form a cycle.
package wallet
