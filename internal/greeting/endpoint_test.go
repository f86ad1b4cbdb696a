package greeting

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/demo/eksdemo/pkg/metrics"
)

func newTestEndpoint(t *testing.T) (*Endpoint, *metrics.Registry, *http.ServeMux) {
	t.Helper()

	reg := metrics.NewRegistry(metrics.WithoutDefaultCollectors())
	endpoint, err := New(reg)
	if err != nil {
		t.Fatalf("new endpoint: %v", err)
	}
	mux := http.NewServeMux()
	endpoint.Mount(mux)
	return endpoint, reg, mux
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestHomeReturnsGreeting(t *testing.T) {
	endpoint, _, mux := newTestEndpoint(t)

	for i := 0; i < 3; i++ {
		rr := get(t, mux, http.MethodGet, "/")
		if rr.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, rr.Code)
		}
		if body := rr.Body.String(); body != "Hello from EKS 🚀 DevOps Learning Project" {
			t.Fatalf("call %d: unexpected body %q", i, body)
		}
		if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Fatalf("call %d: unexpected content type %q", i, ct)
		}
	}

	if got := testutil.ToFloat64(endpoint.requests); got != 3 {
		t.Fatalf("expected counter 3, got %v", got)
	}
}

func TestCounterTracksSequentialCalls(t *testing.T) {
	endpoint, _, mux := newTestEndpoint(t)

	if got := testutil.ToFloat64(endpoint.requests); got != 0 {
		t.Fatalf("expected fresh counter at 0, got %v", got)
	}

	prev := 0.0
	for n := 1; n <= 25; n++ {
		get(t, mux, http.MethodGet, "/")
		got := testutil.ToFloat64(endpoint.requests)
		if got != float64(n) {
			t.Fatalf("after %d calls expected %d, got %v", n, n, got)
		}
		if got < prev {
			t.Fatalf("counter decreased from %v to %v", prev, got)
		}
		prev = got
	}
}

func TestCounterConcurrentCalls(t *testing.T) {
	endpoint, _, mux := newTestEndpoint(t)

	const callers = 100
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(endpoint.requests); got != callers {
		t.Fatalf("expected %d, got %v", callers, got)
	}
}

func TestRegistersSingleCounter(t *testing.T) {
	_, reg, mux := newTestEndpoint(t)

	for i := 0; i < 5; i++ {
		get(t, mux, http.MethodGet, "/")
	}

	if n, err := testutil.GatherAndCount(reg.Gatherer(), CounterName); err != nil {
		t.Fatalf("gather: %v", err)
	} else if n != 1 {
		t.Fatalf("expected exactly one %s series, got %d", CounterName, n)
	}

	expected := `
# HELP demo_requests_total Total number of requests to home endpoint
# TYPE demo_requests_total counter
demo_requests_total 5
`
	if err := testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected), CounterName); err != nil {
		t.Fatalf("unexpected exposition: %v", err)
	}
}

func TestReadingCounterHasNoSideEffect(t *testing.T) {
	endpoint, reg, mux := newTestEndpoint(t)
	get(t, mux, http.MethodGet, "/")

	for i := 0; i < 10; i++ {
		if got := testutil.ToFloat64(endpoint.requests); got != 1 {
			t.Fatalf("read %d: expected 1, got %v", i, got)
		}
		if _, err := reg.Gatherer().Gather(); err != nil {
			t.Fatalf("gather: %v", err)
		}
	}
}

func TestOtherRoutesDoNotCount(t *testing.T) {
	endpoint, _, mux := newTestEndpoint(t)

	if rr := get(t, mux, http.MethodPost, "/"); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST /, got %d", rr.Code)
	}
	if rr := get(t, mux, http.MethodGet, "/elsewhere"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for /elsewhere, got %d", rr.Code)
	}
	if got := testutil.ToFloat64(endpoint.requests); got != 0 {
		t.Fatalf("expected counter untouched, got %v", got)
	}
}

func TestIgnoresQueryHeadersAndBody(t *testing.T) {
	endpoint, _, mux := newTestEndpoint(t)

	req := httptest.NewRequest(http.MethodGet, "/?name=ops", strings.NewReader("ignored"))
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != Message {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
	if got := testutil.ToFloat64(endpoint.requests); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
}

type failingWriter struct {
	header http.Header
}

func (w *failingWriter) Header() http.Header       { return w.header }
func (w *failingWriter) WriteHeader(int)           {}
func (w *failingWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestIncrementSurvivesWriteFailure(t *testing.T) {
	endpoint, _, _ := newTestEndpoint(t)

	endpoint.ServeHTTP(&failingWriter{header: http.Header{}}, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := testutil.ToFloat64(endpoint.requests); got != 1 {
		t.Fatalf("expected increment despite write failure, got %v", got)
	}
}

func TestNewFailsOnDuplicateRegistration(t *testing.T) {
	reg := metrics.NewRegistry(metrics.WithoutDefaultCollectors())
	if _, err := New(reg); err != nil {
		t.Fatalf("first construction: %v", err)
	}

	_, err := New(reg)
	if err == nil {
		t.Fatalf("expected error on second construction against the same registry")
	}
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyRegisteredError, got %v", err)
	}
}

func TestNewRequiresRegistry(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for nil registry")
	}
}
