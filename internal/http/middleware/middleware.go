// Package middleware holds the request pipeline wrapped around the service
// mux: request identity, response hardening, access logging, CORS, client
// throttling and body caps.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/demo/eksdemo/internal/http/problem"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderTraceID   = "X-Trace-Id"

	// Longer caller-supplied IDs are replaced rather than echoed.
	maxIDLength = 128
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Compose wraps h so that the first layer listed sees the request first.
// Nil layers are skipped.
func Compose(h http.Handler, layers ...Middleware) http.Handler {
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i] != nil {
			h = layers[i](h)
		}
	}
	return h
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	traceIDKey
)

// RequestID returns the request ID assigned by Identify.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// TraceID returns the trace ID assigned by Identify.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// Identify accepts X-Request-Id and X-Trace-Id from the caller or mints them,
// stores both on the request context and echoes them on the response. The
// trace ID falls back to the request ID.
func Identify() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := callerID(r, HeaderRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			tid := callerID(r, HeaderTraceID)
			if tid == "" {
				tid = rid
			}

			w.Header().Set(HeaderRequestID, rid)
			w.Header().Set(HeaderTraceID, tid)

			ctx := context.WithValue(r.Context(), requestIDKey, rid)
			ctx = context.WithValue(ctx, traceIDKey, tid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func callerID(r *http.Request, header string) string {
	id := strings.TrimSpace(r.Header.Get(header))
	if len(id) > maxIDLength {
		return ""
	}
	return id
}

var hardening = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=()"},
}

// Harden sets browser hardening headers on every response.
func Harden() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range hardening {
				h.Set(kv[0], kv[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CapBody refuses declared bodies larger than limit and truncates reads of
// undeclared ones.
func CapBody(limit int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				refuse(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", limit))
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Origins applies c to cross-origin requests and refuses origins it does not
// allow. Requests without an Origin header pass untouched.
func Origins(c *cors.Cors) Middleware {
	if c == nil {
		return nil
	}
	return func(next http.Handler) http.Handler {
		withCORS := c.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !c.OriginAllowed(r) {
				refuse(w, r, http.StatusForbidden, fmt.Sprintf("origin %s is not allowed", origin))
				return
			}
			withCORS.ServeHTTP(w, r)
		})
	}
}

func refuse(w http.ResponseWriter, r *http.Request, status int, detail string) {
	problem.New(status, detail).Send(w, r, TraceID(r.Context()))
}
