// Package metrics holds the instrumentation primitives shared by the runtime
// and the ledger guard. Backends (see adapters/prometheus) implement them;
// the core packages never import a metrics library directly.
package metrics

import "time"

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
type Timer interface {
	ObserveDuration()
}

// TimerFunc creates a Timer that starts now, allowing
// defer m.LedgerCall("balances")().ObserveDuration().
type TimerFunc func() Timer

type funcTimer struct {
	start   time.Time
	observe func(time.Duration)
}

func (t funcTimer) ObserveDuration() { t.observe(time.Since(t.start)) }

// NewTimer starts a Timer that hands the elapsed time to observe.
func NewTimer(observe func(time.Duration)) Timer {
	if observe == nil {
		return NopTimer()
	}
	return funcTimer{start: time.Now(), observe: observe}
}
