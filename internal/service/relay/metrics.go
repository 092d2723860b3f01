package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchsync_relay_events_total",
			Help: "Accepted sync events by kind",
		},
		[]string{"kind"},
	)
	eventsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "watchsync_relay_events_rejected_total", Help: "Sync events failing validation"},
	)
	snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watchsync_relay_snapshots_total", Help: "Snapshot reads by result"},
		[]string{"result"},
	)
	sourcesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watchsync_relay_sources_total", Help: "Room sources set by kind"},
		[]string{"kind"},
	)
	peersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "watchsync_relay_peers_connected", Help: "Connected peers"},
	)
	persistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "watchsync_relay_persist_failures_total", Help: "Failed state writes"},
	)
	persistDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watchsync_relay_persist_duration_seconds",
			Help:    "State write latency",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal, eventsRejected, snapshotsTotal, sourcesTotal, peersConnected, persistFailures, persistDuration)
}
