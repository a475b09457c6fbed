package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DeviceMetrics tracks device discovery.
type DeviceMetrics struct {
	found prometheus.Counter
	lost  prometheus.Counter
	live  prometheus.Gauge
}

// NewDeviceMetrics registers device metrics on reg.
func NewDeviceMetrics(reg prometheus.Registerer) *DeviceMetrics {
	f := promauto.With(reg)
	return &DeviceMetrics{
		found: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "devices", Name: "found_total",
			Help: "Devices that appeared on the network",
		}),
		lost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "devices", Name: "lost_total",
			Help: "Devices that stopped announcing or were dropped on shutdown",
		}),
		live: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "devices", Name: "live",
			Help: "Devices currently considered live",
		}),
	}
}

func (m *DeviceMetrics) RecordFound() {
	if m == nil {
		return
	}
	m.found.Inc()
	m.live.Inc()
}

func (m *DeviceMetrics) RecordLost() {
	if m == nil {
		return
	}
	m.lost.Inc()
	m.live.Dec()
}

// DecoderMetrics tracks status packet decoding.
type DecoderMetrics struct {
	decoded   *prometheus.CounterVec
	errors    *prometheus.CounterVec
	anomalies *prometheus.CounterVec
}

// NewDecoderMetrics registers decoder metrics on reg.
func NewDecoderMetrics(reg prometheus.Registerer) *DecoderMetrics {
	f := promauto.With(reg)
	return &DecoderMetrics{
		decoded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "status", Name: "packets_decoded_total",
			Help: "Status packets decoded by packet kind",
		}, []string{"packet"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "status", Name: "decode_errors_total",
			Help: "Status packets rejected as malformed",
		}, []string{"packet"}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "status", Name: "anomalies_total",
			Help: "Parseable status packets whose length was unexpected",
		}, []string{"packet"}),
	}
}

func (m *DecoderMetrics) RecordDecoded(packet string) {
	if m == nil {
		return
	}
	m.decoded.WithLabelValues(packet).Inc()
}

func (m *DecoderMetrics) RecordError(packet string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(packet).Inc()
}

func (m *DecoderMetrics) RecordAnomaly(packet string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(packet).Inc()
}

// SessionMetrics tracks database service exchanges.
type SessionMetrics struct {
	exchanges *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	waiting   prometheus.Gauge
	open      prometheus.Gauge
}

// NewSessionMetrics registers session metrics on reg.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	f := promauto.With(reg)
	return &SessionMetrics{
		exchanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dbserver", Name: "exchanges_total",
			Help: "Database service exchanges by outcome",
		}, []string{"outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dbserver", Name: "exchange_duration_seconds",
			Help:    "Database service exchange latency, including queueing for the session",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"outcome"}),
		waiting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dbserver", Name: "waiting_callers",
			Help: "Callers queued for a player session",
		}),
		open: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dbserver", Name: "open_sessions",
			Help: "Open connections to player database services",
		}),
	}
}

func (m *SessionMetrics) RecordExchange(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *SessionMetrics) AddWaiting(delta float64) {
	if m == nil {
		return
	}
	m.waiting.Add(delta)
}

func (m *SessionMetrics) AddOpen(delta float64) {
	if m == nil {
		return
	}
	m.open.Add(delta)
}

// FinderMetrics tracks resolution through the cache tiers, labelled by
// resource kind.
type FinderMetrics struct {
	lookups  *prometheus.CounterVec
	fetches  *prometheus.HistogramVec
	dropped  *prometheus.CounterVec
	hotSize  *prometheus.GaugeVec
	lruSize  *prometheus.GaugeVec
	evicted  *prometheus.CounterVec
	archived *prometheus.CounterVec
}

// NewFinderMetrics registers finder metrics on reg.
func NewFinderMetrics(reg prometheus.Registerer) *FinderMetrics {
	f := promauto.With(reg)
	return &FinderMetrics{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "finder", Name: "lookups_total",
			Help: "Resolutions by kind and the tier that answered (hot, hot_cue, lru, archive, network, miss)",
		}, []string{"kind", "source"}),
		fetches: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "finder", Name: "fetch_duration_seconds",
			Help:    "Network fetch latency by kind and outcome",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind", "outcome"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "finder", Name: "updates_dropped_total",
			Help: "Updates dropped because the finder queue was full",
		}, []string{"kind"}),
		hotSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "finder", Name: "hot_cache_entries",
			Help: "Decks holding a resolved record",
		}, []string{"kind"}),
		lruSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "finder", Name: "lru_entries",
			Help: "Entries in the LRU cache",
		}, []string{"kind"}),
		evicted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "finder", Name: "lru_evictions_total",
			Help: "LRU entries evicted by capacity or resize",
		}, []string{"kind"}),
		archived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "finder", Name: "archive_errors_total",
			Help: "Archive lookups that failed",
		}, []string{"kind"}),
	}
}

func (m *FinderMetrics) RecordLookup(kind, source string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(kind, source).Inc()
}

func (m *FinderMetrics) RecordFetch(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

func (m *FinderMetrics) RecordDropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind).Inc()
}

func (m *FinderMetrics) RecordEvicted(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evicted.WithLabelValues(kind).Add(float64(n))
}

func (m *FinderMetrics) RecordArchiveError(kind string) {
	if m == nil {
		return
	}
	m.archived.WithLabelValues(kind).Inc()
}

func (m *FinderMetrics) SetSizes(kind string, hot, lru int) {
	if m == nil {
		return
	}
	m.hotSize.WithLabelValues(kind).Set(float64(hot))
	m.lruSize.WithLabelValues(kind).Set(float64(lru))
}
