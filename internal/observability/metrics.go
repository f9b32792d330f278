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
			Namespace: "stridelink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stridelink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	transportSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stridelink",
			Subsystem: "transport",
			Name:      "sends_total",
			Help:      "Outbound messages by delivery mode and result.",
		},
		[]string{"kind", "mode", "result"},
	)
	transportReceives = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stridelink",
			Subsystem: "transport",
			Name:      "receives_total",
			Help:      "Inbound messages by kind.",
		},
		[]string{"kind"},
	)
	outboxSuperseded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stridelink",
			Subsystem: "transport",
			Name:      "outbox_superseded_total",
			Help:      "Queued messages replaced by a later message of the same kind.",
		},
	)
	metricsPushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stridelink",
			Subsystem: "wearable",
			Name:      "metrics_pushes_total",
			Help:      "Live metrics payloads handed to the transport.",
		},
	)
	milestones = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stridelink",
			Subsystem: "wearable",
			Name:      "milestones_total",
			Help:      "Whole-kilometer milestones fired.",
		},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stridelink",
			Subsystem: "wearable",
			Name:      "events_dropped_total",
			Help:      "Output events dropped because no consumer kept up.",
		},
		[]string{"type"},
	)
	sessionPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stridelink",
			Subsystem: "wearable",
			Name:      "session_phase",
			Help:      "1 for the current wearable session phase, 0 otherwise.",
		},
		[]string{"phase"},
	)
	mirrorConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stridelink",
			Subsystem: "companion",
			Name:      "mirror_connected",
			Help:      "Whether the companion mirror considers the wearable connected.",
		},
	)
	mirrorStale = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stridelink",
			Subsystem: "companion",
			Name:      "mirror_stale",
			Help:      "Whether the last payload is older than the staleness window.",
		},
	)
	snapshotWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stridelink",
			Subsystem: "snapshot",
			Name:      "publishes_total",
			Help:      "Snapshot publish attempts by result.",
		},
		[]string{"result"},
	)
	snapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "stridelink",
			Subsystem: "snapshot",
			Name:      "write_duration_seconds",
			Help:      "Snapshot store write duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			transportSends,
			transportReceives,
			outboxSuperseded,
			metricsPushes,
			milestones,
			eventsDropped,
			sessionPhase,
			mirrorConnected,
			mirrorStale,
			snapshotWrites,
			snapshotDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordTransportSend(kind, mode string, ok bool) {
	RegisterMetrics()
	result := "ok"
	if !ok {
		result = "error"
	}
	transportSends.WithLabelValues(kind, mode, result).Inc()
}

func RecordTransportReceive(kind string) {
	RegisterMetrics()
	transportReceives.WithLabelValues(kind).Inc()
}

func RecordOutboxSuperseded() {
	RegisterMetrics()
	outboxSuperseded.Inc()
}

func RecordMetricsPush() {
	RegisterMetrics()
	metricsPushes.Inc()
}

func RecordMilestone() {
	RegisterMetrics()
	milestones.Inc()
}

func RecordEventDropped(eventType string) {
	RegisterMetrics()
	eventsDropped.WithLabelValues(eventType).Inc()
}

// SetSessionPhase flips the phase gauge so exactly one label reads 1.
func SetSessionPhase(current string, all []string) {
	RegisterMetrics()
	for _, p := range all {
		v := 0.0
		if p == current {
			v = 1
		}
		sessionPhase.WithLabelValues(p).Set(v)
	}
}

func SetMirrorState(connected, stale bool) {
	RegisterMetrics()
	mirrorConnected.Set(boolGauge(connected))
	mirrorStale.Set(boolGauge(stale))
}

// RecordSnapshotPublish labels are written, throttled, or error.
func RecordSnapshotPublish(result string, duration time.Duration) {
	RegisterMetrics()
	snapshotWrites.WithLabelValues(result).Inc()
	if result == "written" {
		snapshotDuration.Observe(duration.Seconds())
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
