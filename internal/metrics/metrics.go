package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IPC metrics
var (
	// CommandsTotal counts decoded commands by kind (set_url, set_path).
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maypaper_commands_total",
			Help: "Commands accepted on the control socket by kind",
		},
		[]string{"kind"},
	)

	IPCDecodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maypaper_ipc_decode_errors_total",
			Help: "Control socket messages that failed to decode or validate",
		},
	)

	IPCRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maypaper_ipc_rejected_connections_total",
			Help: "Control socket connections rejected by the peer credential check",
		},
	)
)

// Lease metrics
var (
	LeasesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maypaper_leases_active",
			Help: "Local content leases currently registered",
		},
	)

	// LeaseStartsTotal counts server starts by result (ok, error).
	LeaseStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maypaper_lease_starts_total",
			Help: "Local content server starts by result",
		},
		[]string{"result"},
	)

	LeaseStartDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maypaper_lease_start_duration_seconds",
			Help:    "Time to bind and start a local content server",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// LeaseTeardownDuration measures how long a superseded server stays up
	// after its last hold is released.
	LeaseTeardownDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maypaper_lease_teardown_duration_seconds",
			Help:    "Time from last release to local content server shutdown",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
)

// Router metrics
var (
	RouterQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maypaper_router_queue_depth",
			Help: "Events drained from the router inbox in the last batch",
		},
	)

	StaleAcquisitionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maypaper_stale_acquisitions_total",
			Help: "Lease acquisitions that completed after a newer command superseded them",
		},
	)

	FailedAcquisitionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maypaper_failed_acquisitions_total",
			Help: "Lease acquisitions that failed; the previous content stays displayed",
		},
	)
)

// Bridge metrics
var (
	RenderCommandsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maypaper_render_commands_total",
			Help: "set_webview commands emitted to the rendering bridge",
		},
	)

	TopologyUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maypaper_topology_updates_total",
			Help: "Connector topology updates published by renderers",
		},
	)

	// BridgeClients tracks connected websocket clients by role (renderer, observer).
	BridgeClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "maypaper_bridge_clients",
			Help: "Connected bridge websocket clients by role",
		},
		[]string{"role"},
	)
)
