package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/demo/eksdemo/pkg/metrics"
)

// Instruments are the per-route HTTP metrics. They are registered once per
// registry and may be shared by successive Server builds.
type Instruments struct {
	served   *prometheus.CounterVec
	inflight prometheus.Gauge
	latency  *prometheus.HistogramVec
}

// NewInstruments registers {namespace}_http_requests_total,
// {namespace}_http_inflight_requests and
// {namespace}_http_request_duration_seconds on reg.
func NewInstruments(reg *metrics.Registry) (*Instruments, error) {
	ns := reg.Namespace()
	in := &Instruments{
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests served, by route, method and status code.",
		}, []string{"route", "method", "code"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Requests currently being served.",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time to serve a request, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if err := reg.Register(in.served, in.inflight, in.latency); err != nil {
		return nil, fmt.Errorf("http instruments: %w", err)
	}
	return in, nil
}

func (in *Instruments) observe(r *http.Request) func(int, time.Duration) {
	route, method := routeOf(r), r.Method
	in.inflight.Inc()
	return func(status int, elapsed time.Duration) {
		in.inflight.Dec()
		in.served.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
		in.latency.WithLabelValues(route).Observe(elapsed.Seconds())
	}
}

var knownRoutes = map[string]bool{
	"/":             true,
	"/health":       true,
	"/readyz":       true,
	"/readiness":    true,
	"/metrics":      true,
	"/openapi.json": true,
}

// routeOf folds unknown paths into "other" so label cardinality stays fixed.
func routeOf(r *http.Request) string {
	if knownRoutes[r.URL.Path] {
		return r.URL.Path
	}
	return "other"
}
