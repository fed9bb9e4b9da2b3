package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peergate_check_executions_total",
		Help: "A counter of check executions by check type and result.",
	}, []string{"check_type", "result"})
	checkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "peergate_check_duration_seconds",
		Help:    "Duration of check executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"check_type"})
	checkDelay = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "peergate_check_delay_seconds",
		Help:    "Delay between the webhook event occurring and the check starting.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"check_type"})
)
