package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Define all metrics for webhooks here.
	webhookCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peergate_webhook_counter",
		Help: "A counter of the webhooks made to peergate.",
	}, []string{"event_type"})
	responseCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peergate_webhook_response_codes",
		Help: "A counter of the different responses peergate has responded to webhooks with.",
	}, []string{"response_code"})
)
