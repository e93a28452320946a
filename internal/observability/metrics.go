package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolbox",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolbox",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	lifecycleOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolbox",
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Tool lifecycle operations by outcome.",
		},
		[]string{"tool", "operation", "success"},
	)
	lifecycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolbox",
			Subsystem: "lifecycle",
			Name:      "operation_duration_seconds",
			Help:      "Tool lifecycle operation duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"tool", "operation"},
	)
	downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolbox",
			Subsystem: "fetch",
			Name:      "downloads_total",
			Help:      "Artifact downloads by outcome.",
		},
		[]string{"host", "success"},
	)
	downloadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolbox",
			Subsystem: "fetch",
			Name:      "bytes_total",
			Help:      "Bytes written by artifact downloads.",
		},
		[]string{"host"},
	)
	downloadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolbox",
			Subsystem: "fetch",
			Name:      "download_duration_seconds",
			Help:      "Artifact download duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"host"},
	)
	processesRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "toolbox",
			Subsystem: "supervisor",
			Name:      "processes_running",
			Help:      "Supervised processes currently registered.",
		},
		[]string{"tool"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolbox",
			Subsystem: "supervisor",
			Name:      "process_exits_total",
			Help:      "Supervised process exits by reason.",
		},
		[]string{"tool", "reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			lifecycleOps, lifecycleDuration,
			downloads, downloadBytes, downloadDuration,
			processesRunning, processExits,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordLifecycle(tool, operation string, duration time.Duration, success bool) {
	RegisterMetrics()
	lifecycleOps.WithLabelValues(tool, operation, strconv.FormatBool(success)).Inc()
	lifecycleDuration.WithLabelValues(tool, operation).Observe(duration.Seconds())
}

func RecordDownload(host string, written int64, duration time.Duration, success bool) {
	RegisterMetrics()
	downloads.WithLabelValues(host, strconv.FormatBool(success)).Inc()
	if written > 0 {
		downloadBytes.WithLabelValues(host).Add(float64(written))
	}
	downloadDuration.WithLabelValues(host).Observe(duration.Seconds())
}

func SetProcessRunning(tool string, running bool) {
	RegisterMetrics()
	v := 0.0
	if running {
		v = 1
	}
	processesRunning.WithLabelValues(tool).Set(v)
}

func RecordProcessExit(tool, reason string) {
	RegisterMetrics()
	processExits.WithLabelValues(tool, reason).Inc()
}
