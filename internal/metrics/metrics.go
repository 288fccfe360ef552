// Package metrics holds the Prometheus collectors shared across the
// helper. All collectors are registered on the default registry and
// exposed by the control plane at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbridge_http_requests_total",
		Help: "Control-plane and media HTTP requests by method and status.",
	}, []string{"method", "status"})

	MediaBytesServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castbridge_media_bytes_served_total",
		Help: "Bytes of media streamed to cast endpoints.",
	})

	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbridge_sessions_started_total",
		Help: "Cast sessions successfully started, by protocol.",
	}, []string{"protocol"})

	SessionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbridge_session_failures_total",
		Help: "Session start or control failures, by protocol.",
	}, []string{"protocol"})

	DevicesDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbridge_devices_discovered_total",
		Help: "Devices upserted into the directory, by protocol.",
	}, []string{"protocol"})

	HeartbeatLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castbridge_heartbeat_lost_total",
		Help: "CASTV2 channels declared dead after heartbeat timeout.",
	})
)
