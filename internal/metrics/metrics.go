// Package metrics exposes prometheus collectors for the dispatch path.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TunnelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rota_tunnels_total",
		Help: "Completed tunnels by outcome and error kind.",
	}, []string{"outcome", "error_kind"})

	ActiveTunnels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rota_active_tunnels",
		Help: "Tunnels currently relaying.",
	})

	TunnelDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rota_tunnel_duration_seconds",
		Help:    "Tunnel duration from selection to close.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	ProxyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rota_proxy_failures_total",
		Help: "Dial and relay failures per upstream proxy.",
	}, []string{"proxy_id"})

	DroppedLogRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rota_dropped_log_records_total",
		Help: "Outcome records dropped because the recorder buffer was full.",
	})

	HealthProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rota_health_probes_total",
		Help: "Health probe results.",
	}, []string{"result"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func ProxyLabel(id uint64) string {
	return strconv.FormatUint(id, 10)
}
