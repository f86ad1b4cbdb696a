// Package runtime owns the process-wide state of the service (metrics
// registry, greeting endpoint and HTTP instruments) and swaps the per-config
// server and readiness checker underneath it.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/demo/eksdemo/internal/config"
	"github.com/demo/eksdemo/internal/greeting"
	"github.com/demo/eksdemo/internal/http/server"
	"github.com/demo/eksdemo/internal/platform/health"
	pkglog "github.com/demo/eksdemo/pkg/log"
	"github.com/demo/eksdemo/pkg/metrics"
)

var (
	ErrAlreadyRunning     = errors.New("runtime already running")
	ErrNotRunning         = errors.New("runtime not running")
	ErrReloadWhileRunning = errors.New("cannot reload runtime while it is running")
)

// Runtime serves one configuration at a time. The registry, the greeting
// endpoint and the HTTP instruments live as long as the Runtime, so counters
// keep their values across Reload.
type Runtime struct {
	logger      pkglog.Logger
	registry    *metrics.Registry
	home        *greeting.Endpoint
	instruments *server.Instruments

	mu   sync.Mutex
	cfg  config.Config
	srv  *server.Server
	stop context.CancelFunc
	done chan error
}

type Option func(*Runtime)

// WithLogger replaces the shared logger for the runtime and its servers.
func WithLogger(logger pkglog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New registers the process metrics once under cfg.Metrics.Namespace and
// builds the first server.
func New(cfg config.Config, opts ...Option) (*Runtime, error) {
	r := &Runtime{logger: pkglog.Shared()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if err := pkglog.SetLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("configure logger: %w", err)
	}

	r.registry = metrics.NewRegistry(metrics.WithNamespace(cfg.Metrics.Namespace))
	home, err := greeting.New(r.registry)
	if err != nil {
		return nil, fmt.Errorf("greeting endpoint: %w", err)
	}
	r.home = home
	if r.instruments, err = server.NewInstruments(r.registry); err != nil {
		return nil, err
	}

	if err := r.assemble(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// assemble builds the checker and server for cfg. Callers hold r.mu or own r.
func (r *Runtime) assemble(cfg config.Config) error {
	if err := pkglog.SetLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	if ns := r.registry.Namespace(); cfg.Metrics.Namespace != ns {
		r.logger.Warnw("metrics namespace is fixed at startup; ignoring change",
			"current", ns, "requested", cfg.Metrics.Namespace)
	}

	targets := make([]health.Target, 0, len(cfg.Readiness.Dependencies))
	for _, dep := range cfg.Readiness.Dependencies {
		u, err := dep.URL()
		if err != nil {
			return fmt.Errorf("readiness dependency %s: %w", dep.Name, err)
		}
		targets = append(targets, health.Target{Name: dep.Name, URL: u})
	}
	timeout := cfg.Readiness.Timeout.AsDuration()
	checker := health.NewChecker(&http.Client{Timeout: timeout}, targets, timeout, cfg.Readiness.UserAgent)

	srv, err := server.New(cfg, server.Deps{
		Home:        r.home,
		Readiness:   checker,
		Registry:    r.registry,
		Instruments: r.instruments,
	}, server.WithLogger(r.logger))
	if err != nil {
		return err
	}
	r.cfg, r.srv = cfg, srv
	return nil
}

// Start serves in the background until ctx ends or Shutdown is called.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return ErrAlreadyRunning
	}

	ctx, r.stop = context.WithCancel(ctx)
	done := make(chan error, 1)
	r.done = done
	go func(srv *server.Server) {
		done <- srv.Start(ctx)
		close(done)
	}(r.srv)

	r.logger.Infow("runtime started",
		"port", r.cfg.HTTP.Port,
		"version", r.cfg.Version,
		"metrics", r.cfg.Metrics.Enabled,
		"rateLimited", r.cfg.RateLimit.Max > 0)
	return nil
}

// Wait blocks until serving ends. Cancellation counts as a clean stop.
func (r *Runtime) Wait() error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return ErrNotRunning
	}

	err := <-done

	r.mu.Lock()
	if r.stop != nil {
		r.stop()
	}
	r.stop, r.done = nil, nil
	r.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	return r.Wait()
}

// Shutdown stops a running server, waiting for in-flight requests until ctx
// ends. It is a no-op when nothing is running.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	srv, stop := r.srv, r.stop
	running := r.done != nil
	r.mu.Unlock()
	if !running {
		return nil
	}
	stop()
	return srv.Shutdown(ctx)
}

// Reload swaps in a server and checker for cfg. Metrics carry over.
func (r *Runtime) Reload(cfg config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return ErrReloadWhileRunning
	}
	return r.assemble(cfg)
}

func (r *Runtime) Config() config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Addr is the listener address of the current server, empty until bound.
func (r *Runtime) Addr() string {
	r.mu.Lock()
	srv := r.srv
	r.mu.Unlock()
	return srv.Addr()
}

func (r *Runtime) Registry() *metrics.Registry {
	return r.registry
}
