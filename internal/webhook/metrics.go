package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killtracker_webhook_messages_total",
			Help: "Webhook delivery attempts by outcome.",
		},
		[]string{"status"},
	)
	enqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killtracker_webhook_messages_enqueued_total",
			Help: "Messages added to webhook queues.",
		},
	)
)
