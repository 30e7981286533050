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
			Namespace: "kartctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kartctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kartctl",
			Subsystem: "stream",
			Name:      "sessions_total",
			Help:      "Finished stream sessions by termination outcome.",
		},
		[]string{"outcome"},
	)
	sessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kartctl",
			Subsystem: "stream",
			Name:      "session_active",
			Help:      "1 while a stream session is connected.",
		},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kartctl",
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Frames received by result (answered, decode_error).",
		},
		[]string{"result"},
	)
	frameBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kartctl",
			Subsystem: "stream",
			Name:      "frame_bytes",
			Help:      "Compressed frame payload size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 12),
		},
	)
	decisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kartctl",
			Subsystem: "stream",
			Name:      "decision_duration_seconds",
			Help:      "Decode, preprocess and decide time per frame.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)
	sinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kartctl",
			Subsystem: "stream",
			Name:      "sink_errors_total",
			Help:      "Frame sink publish failures.",
		},
		[]string{"sink"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sessionsTotal, sessionActive,
			framesTotal, frameBytes, decisionDuration, sinkErrors,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionStart() {
	RegisterMetrics()
	sessionActive.Set(1)
}

func RecordSessionEnd(outcome string) {
	RegisterMetrics()
	sessionActive.Set(0)
	sessionsTotal.WithLabelValues(outcome).Inc()
}

func RecordFrame(result string, size int, decision time.Duration) {
	RegisterMetrics()
	framesTotal.WithLabelValues(result).Inc()
	frameBytes.Observe(float64(size))
	if decision > 0 {
		decisionDuration.Observe(decision.Seconds())
	}
}

func RecordSinkError(sink string) {
	RegisterMetrics()
	sinkErrors.WithLabelValues(sink).Inc()
}
