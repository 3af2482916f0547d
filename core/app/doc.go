// Package app wires a complete wallet service.
//
// An [App] combines the actor [runtime.Runtime] running the wallet actors
// with the event bus, the account store and a guarded ledger client. Every
// dependency defaults to an in-memory implementation, so the zero Config is
// a working wallet:
//
//	a, err := app.Run(app.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Shutdown(ctx)
//
//	a.Listen(events.BalanceChange, func(e events.Event) { ... })
//
//	_, err = a.SendMessage([]byte(`{"type":"CreateAccount","payload":{}}`),
//	    func(res runtime.Result) { fmt.Println(string(res.Encode())) })
//
// Production setups pass a JetStream backed [kv.Store], a NATS ledger client
// and Prometheus metrics, see cmd/walletd.
package app
