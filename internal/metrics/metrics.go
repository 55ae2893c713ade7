package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BotUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ozonbot_bot_updates_total",
			Help: "Telegram updates handled, by parsed intent",
		},
		[]string{"intent"},
	)

	Verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ozonbot_verifications_total",
			Help: "Ozon credential verifications, by result",
		},
		[]string{"result"}, // valid|invalid|placeholder
	)

	OzonRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ozonbot_ozon_requests_total",
			Help: "Outbound Ozon Seller API requests",
		},
		[]string{"endpoint", "status"},
	)

	OzonLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ozonbot_ozon_request_duration_seconds",
			Help:    "Ozon Seller API latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ozonbot_job_runs_total",
			Help: "Scheduled job invocations",
		},
		[]string{"job", "status"}, // status: success|partial
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ozonbot_job_duration_seconds",
			Help:    "Scheduled job duration",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(BotUpdates, Verifications, OzonRequests, OzonLatency, JobRuns, JobDuration)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOzonRequest takes status 0 for transport failures.
func RecordOzonRequest(endpoint string, status int, latency time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	OzonRequests.WithLabelValues(endpoint, label).Inc()
	OzonLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
}

func RecordJob(job string, duration time.Duration, failed int) {
	status := "success"
	if failed > 0 {
		status = "partial"
	}
	JobRuns.WithLabelValues(job, status).Inc()
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}
