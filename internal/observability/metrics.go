package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	deploys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deployctl",
			Subsystem: "pipeline",
			Name:      "deploys_total",
			Help:      "Total pipeline runs.",
		},
		[]string{"trigger", "outcome"},
	)
	deployDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deployctl",
			Subsystem: "pipeline",
			Name:      "deploy_duration_seconds",
			Help:      "Pipeline run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"trigger", "outcome"},
	)
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deployctl",
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Pipeline step duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step", "status"},
	)
	adminRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deployctl",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Admin control requests handled by deployd.",
		},
		[]string{"action", "ok"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(deploys, deployDuration, stepDuration, adminRequests)
	})
}

func RecordDeploy(trigger, outcome string, duration time.Duration) {
	RegisterMetrics()
	deploys.WithLabelValues(trigger, outcome).Inc()
	deployDuration.WithLabelValues(trigger, outcome).Observe(duration.Seconds())
}

func RecordStep(step, status string, duration time.Duration) {
	RegisterMetrics()
	stepDuration.WithLabelValues(step, status).Observe(duration.Seconds())
}

func RecordAdminRequest(action string, ok bool) {
	RegisterMetrics()
	adminRequests.WithLabelValues(action, strconv.FormatBool(ok)).Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}
