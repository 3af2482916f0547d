// Package prometheus provides Prometheus implementations of the wallet's
// metrics ports: the runtime (messages, scheduler, callback registry) and
// the ledger client.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/walletrt-go/core/metrics"
)

// timer wraps a Prometheus histogram to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds the Prometheus implementations of every metrics port.
type AllMetrics struct {
	Runtime *RuntimeMetrics
	Ledger  *LedgerMetrics
}

// NewAllMetrics creates and registers all wallet metrics on reg.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		Runtime: NewRuntimeMetrics(reg),
		Ledger:  NewLedgerMetrics(reg),
	}
}
