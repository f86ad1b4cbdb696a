// Package server assembles the HTTP surface of the service: the greeting
// route, platform routes, the middleware pipeline and the listener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/demo/eksdemo/internal/config"
	"github.com/demo/eksdemo/internal/greeting"
	"github.com/demo/eksdemo/internal/http/middleware"
	"github.com/demo/eksdemo/internal/http/problem"
	"github.com/demo/eksdemo/internal/openapi"
	"github.com/demo/eksdemo/internal/platform/health"
	pkglog "github.com/demo/eksdemo/pkg/log"
	"github.com/demo/eksdemo/pkg/metrics"
)

const maxBodyBytes = 1 << 20

// ReadinessReporter produces the /readyz report.
type ReadinessReporter interface {
	Readiness(ctx context.Context) health.Report
}

// Deps are the long-lived collaborators a Server is built around. They
// outlive any single Server so counters survive rebuilds.
type Deps struct {
	Home      *greeting.Endpoint
	Readiness ReadinessReporter
	Registry  *metrics.Registry
	// Instruments are registered by New when nil and metrics are enabled.
	Instruments *Instruments
}

// Option customises a Server.
type Option func(*Server)

// WithLogger replaces the shared logger.
func WithLogger(logger pkglog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOpenAPIProvider replaces the generated /openapi.json document.
func WithOpenAPIProvider(p openapi.DocumentProvider) Option {
	return func(s *Server) { s.docs = p }
}

// Server serves one configuration. Build a new one to apply another.
type Server struct {
	cfg       config.Config
	logger    pkglog.Logger
	readiness ReadinessReporter
	docs      openapi.DocumentProvider
	started   time.Time

	handler http.Handler
	http    *http.Server

	mu   sync.Mutex
	addr string
}

// New wires the routes and middleware for cfg.
func New(cfg config.Config, deps Deps, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    pkglog.Shared(),
		readiness: deps.Readiness,
		started:   time.Now(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	mux := http.NewServeMux()
	if deps.Home != nil {
		deps.Home.Mount(mux)
	}
	mux.HandleFunc("GET /health", s.serveHealth)
	mux.HandleFunc("GET /readyz", s.serveReadiness)
	mux.HandleFunc("GET /readiness", s.serveReadiness)
	mux.HandleFunc("GET /openapi.json", s.serveOpenAPI)

	var observe middleware.Observer
	if cfg.Metrics.Enabled {
		in := deps.Instruments
		if in == nil {
			var err error
			if in, err = NewInstruments(deps.Registry); err != nil {
				return nil, err
			}
		}
		observe = in.observe
		mux.Handle("GET /metrics", deps.Registry.Handler())
	}

	if s.docs == nil {
		s.docs = openapi.NewService("eksdemo", cfg.Version, publishedRoutes(deps.Home != nil, cfg.Metrics.Enabled)...)
	}

	h2 := &http2.Server{}
	s.handler = h2c.NewHandler(middleware.Compose(mux,
		middleware.Identify(),
		middleware.Harden(),
		middleware.AccessLog(s.logger, observe),
		middleware.Origins(corsFor(cfg.CORS.AllowedOrigins)),
		throttleFor(cfg.RateLimit),
		middleware.CapBody(maxBodyBytes),
	), h2)

	s.http = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTP.Port)),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	if err := http2.ConfigureServer(s.http, h2); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	return s, nil
}

func throttleFor(rl config.RateLimitConfig) middleware.Middleware {
	l := middleware.NewClientLimiter(rl.Window.AsDuration(), rl.Max, rl.TrustForwardedFor)
	if l == nil {
		return nil
	}
	return middleware.Throttle(l)
}

// corsFor allows every origin when origins is empty or contains "*".
func corsFor(origins []string) *cors.Cors {
	opts := cors.Options{
		AllowedMethods:       []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders:       []string{"*"},
		ExposedHeaders:       []string{middleware.HeaderRequestID, middleware.HeaderTraceID},
		OptionsSuccessStatus: http.StatusNoContent,
		AllowedOrigins:       origins,
	}
	for _, o := range origins {
		if o == "*" {
			opts.AllowedOrigins = nil
			break
		}
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return cors.New(opts)
}

// Handler returns the complete handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr is the bound listener address, empty until Start listens.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens and serves until ctx ends, then drains in-flight requests
// for up to http.shutdownTimeout and returns ctx.Err().
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.logger.Infow("http server listening", "addr", ln.Addr().String())

	served := make(chan error, 1)
	go func() { served <- s.http.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	drain, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.HTTP.ShutdownTimeout.AsDuration())
	defer cancel()
	if err := s.http.Shutdown(drain); err != nil {
		s.logger.Errorw("http server shutdown incomplete", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}
	return ctx.Err()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(s.started).Seconds(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.cfg.Version,
	})
}

type readinessBody struct {
	health.Report
	RequestID string `json:"requestId,omitempty"`
	TraceID   string `json:"traceId,omitempty"`
}

func (s *Server) serveReadiness(w http.ResponseWriter, r *http.Request) {
	report := health.Report{Status: health.StatusReady, CheckedAt: time.Now().UTC(), Dependencies: []health.Result{}}
	if s.readiness != nil {
		report = s.readiness.Readiness(r.Context())
	}

	status := http.StatusOK
	if report.Status != health.StatusReady {
		status = http.StatusServiceUnavailable
		s.logger.Warnw("readiness degraded", "dependencies", report.Dependencies)
	}
	writeJSON(w, status, readinessBody{
		Report:    report,
		RequestID: middleware.RequestID(r.Context()),
		TraceID:   middleware.TraceID(r.Context()),
	})
}

func (s *Server) serveOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.Document(r.Context())
	if err != nil {
		s.logger.Warnw("openapi document unavailable", "error", err)
		problem.New(http.StatusServiceUnavailable, err.Error()).Send(w, r, middleware.TraceID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}
