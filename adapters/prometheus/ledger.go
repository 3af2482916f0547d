package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/walletrt-go/core/metrics"
)

// LedgerMetrics measures calls of the guarded ledger client.
type LedgerMetrics struct {
	callDuration *prometheus.HistogramVec
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "walletrt_ledger_call_duration_seconds",
			Help:    "Ledger call time in seconds, including calls rejected by the breaker",
			Buckets: defaultBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(m.callDuration)
	return m
}

// Timer is used as ledger.GuardOptions.Timer.
func (m *LedgerMetrics) Timer(op string) metrics.Timer {
	return newTimer(m.callDuration.WithLabelValues(op))
}
