// Package metrics owns the Prometheus registry of one service instance.
// Components receive the Registry explicitly; nothing registers globally.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrNilRegistry is returned when registering against a nil Registry.
var ErrNilRegistry = errors.New("metrics: nil registry")

// Option configures a Registry at construction.
type Option func(*Registry)

// WithNamespace sets the prefix used by service-level instruments. Counters
// created with NewCounter keep the exact name they are given.
func WithNamespace(ns string) Option {
	return func(r *Registry) {
		r.namespace = strings.TrimSpace(ns)
	}
}

// WithoutDefaultCollectors skips the Go runtime and process collectors.
func WithoutDefaultCollectors() Option {
	return func(r *Registry) {
		r.runtimeCollectors = false
	}
}

// Registry wraps a private prometheus.Registry.
type Registry struct {
	namespace         string
	runtimeCollectors bool
	prom              *prometheus.Registry
}

// NewRegistry returns an empty registry, plus Go and process collectors
// unless WithoutDefaultCollectors is given.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		runtimeCollectors: true,
		prom:              prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.runtimeCollectors {
		r.prom.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Namespace returns the configured prefix, if any.
func (r *Registry) Namespace() string {
	if r == nil {
		return ""
	}
	return r.namespace
}

// NewCounter registers a counter named name and returns it. A second
// registration of the same name fails with an error wrapping
// prometheus.AlreadyRegisteredError.
func (r *Registry) NewCounter(name, help string) (prometheus.Counter, error) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	if err := r.Register(c); err != nil {
		return nil, fmt.Errorf("counter %s: %w", name, err)
	}
	return c, nil
}

// Register adds collectors in order and stops at the first failure.
func (r *Registry) Register(cs ...prometheus.Collector) error {
	if r == nil || r.prom == nil {
		return ErrNilRegistry
	}
	for _, c := range cs {
		if err := r.prom.Register(c); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}
	return nil
}

// Handler serves the text exposition of everything registered here. A nil
// Registry serves 404.
func (r *Registry) Handler() http.Handler {
	if r == nil || r.prom == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{Registry: r.prom})
}

// Gatherer exposes the registry for reads, such as testutil assertions.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil || r.prom == nil {
		return prometheus.Gatherers{}
	}
	return r.prom
}
