package runtime

import "github.com/codewandler/walletrt-go/core/metrics"

// Metrics is implemented by instrumentation backends, see adapters/prometheus.
// All methods must be safe for concurrent use.
type Metrics interface {
	// Messages
	MessageDuration(msgType string) metrics.Timer
	MessageProcessed(msgType string, kind Kind)
	MessagePanic(msgType string)
	MessageRejected(kind Kind)

	// Scheduler
	MailboxDepth(actorID string, depth int)
	WorkersBusy(count int)
	Suspended(count int)

	// Callback registry
	PendingCalls(count int)
}

type nopMetrics struct{}

func (nopMetrics) MessageDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) MessageProcessed(string, Kind)        {}
func (nopMetrics) MessagePanic(string)                  {}
func (nopMetrics) MessageRejected(Kind)                 {}
func (nopMetrics) MailboxDepth(string, int)             {}
func (nopMetrics) WorkersBusy(int)                      {}
func (nopMetrics) Suspended(int)                        {}
func (nopMetrics) PendingCalls(int)                     {}

// NopMetrics returns a Metrics implementation that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }
