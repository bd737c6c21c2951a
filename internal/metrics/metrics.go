// Package metrics provides Prometheus instrumentation for the peer support
// coordinator. It exposes gauges for queue depth and active rooms, counters
// for matches and relayed traffic, and a histogram for connect latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueSize tracks the current number of students waiting to be matched.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peerbridge_queue_size",
		Help: "Current number of students in the waiting queue",
	})

	// ActiveRooms tracks the current number of live chat rooms.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peerbridge_active_rooms",
		Help: "Current number of active chat rooms",
	})

	// MatchesTotal counts successful pairings.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "peerbridge_matches_total",
		Help: "Total number of successful pairings",
	})

	// RelayedTotal counts relayed room traffic, labeled by kind
	// ("message" or "typing").
	RelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peerbridge_relayed_total",
		Help: "Total number of relayed room events",
	}, []string{"kind"})

	// SessionsEnded counts terminated sessions, labeled by reason
	// ("timeout" or "peer_left").
	SessionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peerbridge_sessions_ended_total",
		Help: "Total number of terminated sessions",
	}, []string{"reason"})

	// ConnectLatency records the latency of connect attempts in seconds.
	ConnectLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "peerbridge_connect_latency_seconds",
		Help:    "Latency of match connect attempts in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		QueueSize,
		ActiveRooms,
		MatchesTotal,
		RelayedTotal,
		SessionsEnded,
		ConnectLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
