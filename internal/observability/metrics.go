package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	actionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pbxmon",
			Subsystem: "action",
			Name:      "total",
			Help:      "Manager actions issued, by outcome classification.",
		},
		[]string{"target", "action", "outcome"},
	)
	actionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pbxmon",
			Subsystem: "action",
			Name:      "duration_seconds",
			Help:      "Manager action round-trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"target", "action"},
	)
	pollTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pbxmon",
			Subsystem: "poll",
			Name:      "cycles_total",
			Help:      "Poll cycles per target, by outcome classification.",
		},
		[]string{"target", "outcome"},
	)
	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pbxmon",
			Subsystem: "poll",
			Name:      "duration_seconds",
			Help:      "Full poll cycle duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"target"},
	)
	discardedBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pbxmon",
			Subsystem: "session",
			Name:      "discarded_blocks_total",
			Help:      "Unsolicited or late wire blocks discarded per target.",
		},
		[]string{"target"},
	)
	snapshotAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pbxmon",
			Subsystem: "cache",
			Name:      "snapshot_age_seconds",
			Help:      "Age of the newest cached snapshot per target.",
		},
		[]string{"target"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pbxmon",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pbxmon",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			actionTotal, actionDuration,
			pollTotal, pollDuration,
			discardedBlocks, snapshotAge,
			httpRequests, httpDuration,
		)
	})
}

func RecordAction(target, action, outcome string, duration time.Duration) {
	RegisterMetrics()
	actionTotal.WithLabelValues(target, action, outcome).Inc()
	actionDuration.WithLabelValues(target, action).Observe(duration.Seconds())
}

func RecordPoll(target, outcome string, duration time.Duration) {
	RegisterMetrics()
	pollTotal.WithLabelValues(target, outcome).Inc()
	pollDuration.WithLabelValues(target).Observe(duration.Seconds())
}

func AddDiscardedBlocks(target string, n uint64) {
	RegisterMetrics()
	discardedBlocks.WithLabelValues(target).Add(float64(n))
}

func SetSnapshotAge(target string, age time.Duration) {
	RegisterMetrics()
	snapshotAge.WithLabelValues(target).Set(age.Seconds())
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
