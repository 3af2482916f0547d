package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/walletrt-go/core/metrics"
	"github.com/codewandler/walletrt-go/core/runtime"
)

// RuntimeMetrics implements runtime.Metrics using Prometheus.
type RuntimeMetrics struct {
	messageDuration *prometheus.HistogramVec
	messagesTotal   *prometheus.CounterVec
	panicTotal      *prometheus.CounterVec
	rejectedTotal   *prometheus.CounterVec
	mailboxDepth    *prometheus.GaugeVec
	workersBusy     prometheus.Gauge
	suspended       prometheus.Gauge
	pendingCalls    prometheus.Gauge
}

func NewRuntimeMetrics(reg prometheus.Registerer) *RuntimeMetrics {
	m := &RuntimeMetrics{
		messageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "walletrt_message_duration_seconds",
			Help:    "Time from the first turn of a message until its outcome, including suspensions",
			Buckets: defaultBuckets,
		}, []string{"message_type"}),

		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletrt_messages_total",
			Help: "Total number of processed messages by outcome",
		}, []string{"message_type", "outcome"}),

		panicTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletrt_panics_total",
			Help: "Total number of contained handler panics",
		}, []string{"message_type"}),

		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletrt_messages_rejected_total",
			Help: "Total number of messages rejected synchronously",
		}, []string{"kind"}),

		mailboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "walletrt_mailbox_depth",
			Help: "Unfinished messages per actor",
		}, []string{"actor_id"}),

		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "walletrt_workers_busy",
			Help: "Workers currently running an actor turn",
		}),

		suspended: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "walletrt_actors_suspended",
			Help: "Actors waiting on I/O",
		}),

		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "walletrt_pending_calls",
			Help: "Accepted messages whose callback has not fired yet",
		}),
	}

	reg.MustRegister(
		m.messageDuration,
		m.messagesTotal,
		m.panicTotal,
		m.rejectedTotal,
		m.mailboxDepth,
		m.workersBusy,
		m.suspended,
		m.pendingCalls,
	)

	return m
}

func (m *RuntimeMetrics) MessageDuration(msgType string) metrics.Timer {
	return newTimer(m.messageDuration.WithLabelValues(msgType))
}

func (m *RuntimeMetrics) MessageProcessed(msgType string, kind runtime.Kind) {
	m.messagesTotal.WithLabelValues(msgType, outcome(kind)).Inc()
}

func (m *RuntimeMetrics) MessagePanic(msgType string) {
	m.panicTotal.WithLabelValues(msgType).Inc()
}

func (m *RuntimeMetrics) MessageRejected(kind runtime.Kind) {
	m.rejectedTotal.WithLabelValues(string(kind)).Inc()
}

// MailboxDepth drops the series of an actor once its mailbox is empty so
// the number of series stays bounded by the number of busy actors.
func (m *RuntimeMetrics) MailboxDepth(actorID string, depth int) {
	if depth == 0 {
		m.mailboxDepth.DeleteLabelValues(actorID)
		return
	}
	m.mailboxDepth.WithLabelValues(actorID).Set(float64(depth))
}

func (m *RuntimeMetrics) WorkersBusy(count int) { m.workersBusy.Set(float64(count)) }

func (m *RuntimeMetrics) Suspended(count int) { m.suspended.Set(float64(count)) }

func (m *RuntimeMetrics) PendingCalls(count int) { m.pendingCalls.Set(float64(count)) }

func outcome(kind runtime.Kind) string {
	if kind == runtime.KindNone {
		return "ok"
	}
	return string(kind)
}

var _ runtime.Metrics = (*RuntimeMetrics)(nil)
