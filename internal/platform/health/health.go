// Package health checks the HTTP dependencies that gate readiness.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
)

// Target is a dependency health URL.
type Target struct {
	Name string
	URL  string
}

// Result is the outcome of checking one Target.
type Result struct {
	Name       string    `json:"name"`
	Healthy    bool      `json:"healthy"`
	StatusCode int       `json:"statusCode,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Report is StatusReady only when every Result is healthy.
type Report struct {
	Status       string    `json:"status"`
	CheckedAt    time.Time `json:"checkedAt"`
	Dependencies []Result  `json:"dependencies"`
}

// Checker checks its targets in parallel on every call.
type Checker struct {
	client    *http.Client
	targets   []Target
	timeout   time.Duration
	userAgent string
}

// NewChecker returns a Checker. Zero values fall back to http.DefaultClient,
// a two second timeout and the eksdemo user agent.
func NewChecker(client *http.Client, targets []Target, timeout time.Duration, userAgent string) *Checker {
	c := &Checker{
		client:    client,
		targets:   targets,
		timeout:   timeout,
		userAgent: userAgent,
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	if c.timeout <= 0 {
		c.timeout = 2 * time.Second
	}
	if c.userAgent == "" {
		c.userAgent = "eksdemo/readyz"
	}
	return c
}

// Readiness checks every target and reports in target order.
func (c *Checker) Readiness(ctx context.Context) Report {
	report := Report{Status: StatusReady, Dependencies: make([]Result, len(c.targets))}

	type outcome struct {
		at  int
		res Result
	}
	outcomes := make(chan outcome, len(c.targets))
	for i, t := range c.targets {
		go func(i int, t Target) {
			outcomes <- outcome{at: i, res: c.check(ctx, t)}
		}(i, t)
	}
	for range c.targets {
		o := <-outcomes
		report.Dependencies[o.at] = o.res
		if !o.res.Healthy {
			report.Status = StatusDegraded
		}
	}

	report.CheckedAt = time.Now().UTC()
	return report
}

func (c *Checker) check(ctx context.Context, t Target) (res Result) {
	res.Name = t.Name
	defer func() { res.CheckedAt = time.Now().UTC() }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		res.Error = err.Error()
		return res
	}
	// Drain a little so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return res
	}
	res.Healthy = true
	return res
}
