package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
		[]string{"kind"},
	)

	EmailFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed emails",
		},
		[]string{"kind"},
	)

	SendersBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sender_blocked_total",
			Help: "Sends rejected because the sender hit its daily direct limit",
		},
	)

	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "processor_batch_duration_seconds",
			Help:    "Duration of one processor invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

const (
	KindQueue     = "queue"
	KindScheduled = "scheduled"
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(SendersBlocked)
	prometheus.MustRegister(BatchDuration)
}
