// Package greeting serves the home route: a fixed greeting whose every
// delivery is counted in the service metrics registry.
package greeting

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// CounterName is the metric incremented once per handled request.
	CounterName = "demo_requests_total"
	// CounterHelp is the description registered with CounterName.
	CounterHelp = "Total number of requests to home endpoint"
	// Message is the exact response body of the home route.
	Message = "Hello from EKS 🚀 DevOps Learning Project"
	// Pattern binds the endpoint to GET on the root path only.
	Pattern = "GET /{$}"
)

// CounterRegistry registers a counter by name and description and returns a
// handle used to increment it.
type CounterRegistry interface {
	NewCounter(name, help string) (prometheus.Counter, error)
}

// Endpoint answers the home route.
type Endpoint struct {
	requests prometheus.Counter
}

// New registers the request counter against registry. It fails when the
// registry is missing or already holds a collector with the same name.
func New(registry CounterRegistry) (*Endpoint, error) {
	if registry == nil {
		return nil, fmt.Errorf("greeting endpoint requires a metrics registry")
	}
	counter, err := registry.NewCounter(CounterName, CounterHelp)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", CounterName, err)
	}
	return &Endpoint{requests: counter}, nil
}

// Mount attaches the endpoint to mux under Pattern.
func (e *Endpoint) Mount(mux *http.ServeMux) {
	mux.Handle(Pattern, e)
}

// ServeHTTP counts the request and writes the greeting. The increment happens
// before the body is written and is never rolled back.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	e.requests.Inc()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Message))
}
