package middleware

import (
	"net/http"
	"time"
)

// Logger is the structured logging surface the access log writes to.
type Logger interface {
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

// Observer is called when a request starts and returns the callback invoked
// with the final status once it completes.
type Observer func(r *http.Request) (done func(status int, elapsed time.Duration))

// AccessLog writes one entry per request, at warn for 4xx and error for 5xx,
// and reports the outcome to observe when set.
func AccessLog(logger Logger, observe Observer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			var done func(int, time.Duration)
			if observe != nil {
				done = observe(r)
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status, elapsed := rec.statusCode(), time.Since(began)
			if done != nil {
				done(status, elapsed)
			}
			if logger == nil {
				return
			}

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"durationMs", float64(elapsed.Microseconds()) / 1000,
				"bytes", rec.written,
				"remoteAddr", ClientIP(r, false),
			}
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				fields = append(fields, "forwardedFor", fwd)
			}
			if id := RequestID(r.Context()); id != "" {
				fields = append(fields, "requestId", id)
			}
			if id := TraceID(r.Context()); id != "" {
				fields = append(fields, "traceId", id)
			}

			switch {
			case status >= http.StatusInternalServerError:
				logger.Errorw("http request completed", fields...)
			case status >= http.StatusBadRequest:
				logger.Warnw("http request completed", fields...)
			default:
				logger.Infow("http request completed", fields...)
			}
		})
	}
}

// statusRecorder remembers the first status written and counts body bytes.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(p)
	s.written += n
	return n, err
}

func (s *statusRecorder) statusCode() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
