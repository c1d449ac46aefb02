// Package metrics exposes Prometheus gauges and counters for the
// gateway's live tables, an ambient observability addition not excluded
// by any Non-goal (see SPEC_FULL.md's DOMAIN STACK section).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the gateway's Prometheus collectors. All of them are
// read-only against the session/handle/registry tables: nothing here
// takes a lock those tables don't already hold.
type Metrics struct {
	Sessions         prometheus.Gauge
	Handles          prometheus.Gauge
	PluginsLoaded    prometheus.Gauge
	EventQueueSize   *prometheus.GaugeVec
	LongPollTotal    *prometheus.CounterVec
	RTPPacketsTotal  *prometheus.CounterVec
	RTCPPacketsTotal *prometheus.CounterVec
}

// New registers and returns the gateway's collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "confrelay",
			Name:      "sessions",
			Help:      "Number of live sessions.",
		}),
		Handles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "confrelay",
			Name:      "handles",
			Help:      "Number of live handles across all sessions.",
		}),
		PluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "confrelay",
			Name:      "plugins_loaded",
			Help:      "Number of plugins loaded at startup.",
		}),
		EventQueueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "confrelay",
			Name:      "event_queue_depth",
			Help:      "Pending event count for a session's queue.",
		}, []string{"session"}),
		LongPollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confrelay",
			Name:      "long_poll_total",
			Help:      "Long-poll GET outcomes.",
		}, []string{"outcome"}), // "event" or "timeout"
		RTPPacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confrelay",
			Name:      "rtp_packets_total",
			Help:      "Relayed RTP packets, by media kind.",
		}, []string{"media"}), // "audio" or "video"
		RTCPPacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confrelay",
			Name:      "rtcp_packets_total",
			Help:      "Relayed RTCP packets, by media kind.",
		}, []string{"media"}),
	}

	reg.MustRegister(m.Sessions, m.Handles, m.PluginsLoaded, m.EventQueueSize, m.LongPollTotal,
		m.RTPPacketsTotal, m.RTCPPacketsTotal)
	return m
}
