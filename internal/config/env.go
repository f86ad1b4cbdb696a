package config

import (
	"fmt"
	"strconv"
	"strings"
)

// envBinding maps one environment variable onto the configuration.
type envBinding struct {
	name  string
	apply func(cfg *Config, value string) error
}

var envBindings = []envBinding{
	{"PORT", func(c *Config, v string) error { return setInt(&c.HTTP.Port, v, 1) }},
	{"SHUTDOWN_TIMEOUT_MS", func(c *Config, v string) error { return setMillis(&c.HTTP.ShutdownTimeout, v) }},
	{"READINESS_TIMEOUT_MS", func(c *Config, v string) error { return setMillis(&c.Readiness.Timeout, v) }},
	{"READINESS_USER_AGENT", func(c *Config, v string) error { c.Readiness.UserAgent = v; return nil }},
	{"GIT_SHA", func(c *Config, v string) error { c.Version = v; return nil }},
	{"CORS_ALLOWED_ORIGINS", func(c *Config, v string) error { c.CORS.AllowedOrigins = splitList(v); return nil }},
	{"RATE_LIMIT_WINDOW_MS", func(c *Config, v string) error { return setMillis(&c.RateLimit.Window, v) }},
	{"RATE_LIMIT_MAX", func(c *Config, v string) error { return setInt(&c.RateLimit.Max, v, 0) }},
	{"RATE_LIMIT_TRUST_FORWARDED_FOR", func(c *Config, v string) error { return setBool(&c.RateLimit.TrustForwardedFor, v) }},
	{"METRICS_ENABLED", func(c *Config, v string) error { return setBool(&c.Metrics.Enabled, v) }},
	{"METRICS_NAMESPACE", func(c *Config, v string) error { c.Metrics.Namespace = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
}

// applyEnv applies every set, non-blank variable in envBindings order.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		raw, ok := lookup(b.name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := b.apply(cfg, strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("env %s: %w", b.name, err)
		}
	}
	return nil
}

func setInt(dst *int, v string, min int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	if n < min {
		return fmt.Errorf("%d is below %d", n, min)
	}
	*dst = n
	return nil
}

func setMillis(dst *Duration, v string) error {
	ms, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	if ms <= 0 {
		return fmt.Errorf("%dms must be positive", ms)
	}
	*dst = Millis(ms)
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func splitList(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
}
