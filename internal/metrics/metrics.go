package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradiehub",
		Name:      "chat_messages_appended_total",
		Help:      "Messages written to the real-time store.",
	})

	// MirrorFailures counts best-effort relational mirror writes that failed, by stage.
	MirrorFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradiehub",
		Name:      "chat_mirror_failures_total",
		Help:      "Relational mirror writes that failed and were left for reconciliation.",
	}, []string{"stage"})

	ReconciledMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradiehub",
		Name:      "chat_reconciled_messages_total",
		Help:      "Messages backfilled into the relational mirror.",
	})

	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradiehub",
		Name:      "notifications_total",
		Help:      "Workflow notifications by template and outcome.",
	}, []string{"template", "outcome"})

	// DeliveryUnknown counts appends whose real-time write failed after an id
	// was allocated, by stage.
	DeliveryUnknown = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradiehub",
		Name:      "chat_delivery_unknown_total",
		Help:      "Appends that returned delivery unknown after allocating a message id.",
	}, []string{"stage"})

	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradiehub",
		Name:      "job_decisions_total",
		Help:      "Application decisions by outcome.",
	}, []string{"decision", "outcome"})
)

func init() {
	prometheus.MustRegister(MessagesAppended, MirrorFailures, ReconciledMessages, Notifications, DeliveryUnknown, Decisions)
}
