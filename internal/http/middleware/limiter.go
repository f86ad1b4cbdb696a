package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether a request may proceed. When it may not, retryAfter
// is how long the caller should wait.
type Limiter interface {
	Allow(r *http.Request) (ok bool, retryAfter time.Duration)
}

// Throttle refuses requests l does not allow with 429 and a Retry-After
// header. Preflight requests are never throttled.
func Throttle(l Limiter) Middleware {
	if l == nil {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			ok, wait := l.Allow(r)
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			refuse(w, r, http.StatusTooManyRequests, "rate limit exceeded")
		})
	}
}

// ClientLimiter gives every client IP its own token bucket refilled at
// max per window. Buckets unused for two windows are dropped.
type ClientLimiter struct {
	every          rate.Limit
	burst          int
	idle           time.Duration
	trustForwarded bool
	now            func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter returns nil, meaning no throttling, unless both window and
// max are positive. With trustForwarded the first X-Forwarded-For entry
// identifies the client; otherwise only the connection address does.
func NewClientLimiter(window time.Duration, max int, trustForwarded bool) *ClientLimiter {
	if window <= 0 || max <= 0 {
		return nil
	}
	return &ClientLimiter{
		every:          rate.Limit(float64(max) / window.Seconds()),
		burst:          max,
		idle:           2 * window,
		trustForwarded: trustForwarded,
		now:            time.Now,
		buckets:        make(map[string]*bucket),
	}
}

// Allow spends one token from the caller's bucket.
func (l *ClientLimiter) Allow(r *http.Request) (bool, time.Duration) {
	key := ClientIP(r, l.trustForwarded)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.idle {
				delete(l.buckets, k)
			}
		}
		l.nextSweep = now.Add(l.idle / 2)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := b.tokens.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *ClientLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// ClientIP returns the caller's address. X-Forwarded-For is consulted only
// when trustForwarded is set, since any client can send it.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
