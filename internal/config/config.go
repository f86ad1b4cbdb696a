// Package config loads the service configuration.
//
// Values are layered: defaults, then YAML files, then environment variables.
// The result is normalised and validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ConfigEnvVar names the environment variable holding an optional YAML path.
const ConfigEnvVar = "EKSDEMO_CONFIG"

const (
	defaultPort             = 8080
	defaultHealthPath       = "/health"
	defaultMetricsNamespace = "eksdemo"
	defaultUserAgent        = "eksdemo/readyz"
)

// Config is the complete service configuration.
type Config struct {
	Version   string          `yaml:"version" json:"version"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Readiness ReadinessConfig `yaml:"readiness" json:"readiness"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
	RateLimit RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	Port            int      `yaml:"port" json:"port"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// ReadinessConfig lists the HTTP dependencies /readyz checks.
type ReadinessConfig struct {
	Timeout      Duration           `yaml:"timeout" json:"timeout"`
	UserAgent    string             `yaml:"userAgent" json:"userAgent"`
	Dependencies []DependencyConfig `yaml:"dependencies" json:"dependencies"`
}

// DependencyConfig is one checked dependency.
type DependencyConfig struct {
	Name       string `yaml:"name" json:"name"`
	BaseURL    string `yaml:"baseURL" json:"baseURL"`
	HealthPath string `yaml:"healthPath" json:"healthPath"`
}

// URL joins the base URL and health path.
func (d DependencyConfig) URL() (string, error) {
	if _, err := url.ParseRequestURI(d.BaseURL); err != nil {
		return "", err
	}
	return url.JoinPath(d.BaseURL, d.HealthPath)
}

// CORSConfig lists allowed origins. Empty allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins"`
}

// RateLimitConfig throttles each client to Max requests per Window. A Max of
// zero disables throttling. TrustForwardedFor keys clients on the first
// X-Forwarded-For entry and must only be set behind a proxy that overwrites it.
type RateLimitConfig struct {
	Window            Duration `yaml:"window" json:"window"`
	Max               int      `yaml:"max" json:"max"`
	TrustForwardedFor bool     `yaml:"trustForwardedFor" json:"trustForwardedFor"`
}

// MetricsConfig controls the /metrics exposition and HTTP instruments.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// LogConfig sets the shared logger level.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Version: os.Getenv("GIT_SHA"),
		HTTP: HTTPConfig{
			Port:            defaultPort,
			ShutdownTimeout: DurationFrom(15 * time.Second),
		},
		Readiness: ReadinessConfig{
			Timeout:   DurationFrom(2 * time.Second),
			UserAgent: defaultUserAgent,
		},
		RateLimit: RateLimitConfig{
			Window: DurationFrom(time.Minute),
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: defaultMetricsNamespace,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Option customises Load.
type Option func(*loader)

type loader struct {
	paths  []string
	lookup func(string) (string, bool)
}

// WithPath adds a YAML file to read. Missing files are skipped.
func WithPath(path string) Option {
	return func(l *loader) {
		if p := strings.TrimSpace(path); p != "" {
			l.paths = append(l.paths, p)
		}
	}
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(l *loader) {
		if fn != nil {
			l.lookup = fn
		}
	}
}

// Load resolves the configuration. The file named by EKSDEMO_CONFIG is read
// before any WithPath files.
func Load(opts ...Option) (Config, error) {
	l := loader{lookup: os.LookupEnv}
	for _, opt := range opts {
		if opt != nil {
			opt(&l)
		}
	}
	if p, ok := l.lookup(ConfigEnvVar); ok && strings.TrimSpace(p) != "" {
		l.paths = append([]string{strings.TrimSpace(p)}, l.paths...)
	}

	cfg := Default()
	for _, p := range l.paths {
		if err := decodeFile(p, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg, l.lookup); err != nil {
		return cfg, err
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config %q: %w", path, err)
	}
	return nil
}

// Marshal renders cfg as YAML that Load accepts.
func (cfg Config) Marshal() ([]byte, error) {
	return yaml.Marshal(cfg)
}

func (cfg *Config) normalize() {
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Metrics.Namespace = strings.TrimSpace(cfg.Metrics.Namespace)
	if strings.TrimSpace(cfg.Readiness.UserAgent) == "" {
		cfg.Readiness.UserAgent = defaultUserAgent
	}
	for i := range cfg.Readiness.Dependencies {
		dep := &cfg.Readiness.Dependencies[i]
		dep.Name = strings.TrimSpace(dep.Name)
		dep.BaseURL = strings.TrimSpace(dep.BaseURL)
		switch p := strings.TrimSpace(dep.HealthPath); {
		case p == "":
			dep.HealthPath = defaultHealthPath
		case !strings.HasPrefix(p, "/"):
			dep.HealthPath = "/" + p
		default:
			dep.HealthPath = p
		}
	}
}

// Validate reports every problem in cfg joined into one error.
func (cfg Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if p := cfg.HTTP.Port; p < 0 || p > 65535 {
		fail("http.port %d out of range 0-65535", p)
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		fail("http.shutdownTimeout must be positive")
	}
	if cfg.Readiness.Timeout <= 0 {
		fail("readiness.timeout must be positive")
	}

	names := make(map[string]bool, len(cfg.Readiness.Dependencies))
	for i, dep := range cfg.Readiness.Dependencies {
		key := strings.ToLower(dep.Name)
		switch {
		case key == "":
			fail("readiness.dependencies[%d]: name is required", i)
			continue
		case names[key]:
			fail("readiness.dependencies[%d]: duplicate name %q", i, dep.Name)
			continue
		}
		names[key] = true
		if _, err := dep.URL(); err != nil {
			fail("readiness.dependencies[%d] %s: invalid baseURL: %w", i, dep.Name, err)
		}
	}

	if cfg.RateLimit.Max < 0 {
		fail("rateLimit.max must not be negative")
	}
	if cfg.RateLimit.Max > 0 && cfg.RateLimit.Window <= 0 {
		fail("rateLimit.window must be positive when rateLimit.max is set")
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		fail("log.level: %w", err)
	}

	return errors.Join(errs...)
}
