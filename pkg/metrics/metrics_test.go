package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveOperation("docs", "write", "mutating", nil, 10*time.Millisecond)
	m.ObserveOperation("docs", "write", "mutating", errors.New("boom"), time.Millisecond)

	if got := testutil.ToFloat64(m.opTotal.WithLabelValues("docs", "write", "mutating", "ok")); got != 1 {
		t.Fatalf("ok counter = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.opTotal.WithLabelValues("docs", "write", "mutating", "error")); got != 1 {
		t.Fatalf("error counter = %f, want 1", got)
	}
}

func TestObserveSyncCountsObjects(t *testing.T) {
	m := New(nil)
	m.ObserveSync("docs", "fetch", 3, nil)
	m.ObserveSync("docs", "fetch", 0, nil)
	m.ObserveSync("docs", "push", 2, errors.New("rejected"))

	if got := testutil.ToFloat64(m.syncTotal.WithLabelValues("docs", "fetch", "ok")); got != 2 {
		t.Fatalf("fetch counter = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.syncObjects.WithLabelValues("fetch")); got != 3 {
		t.Fatalf("fetched objects = %f, want 3", got)
	}
	if got := testutil.ToFloat64(m.syncObjects.WithLabelValues("push")); got != 2 {
		t.Fatalf("pushed objects = %f, want 2", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("docs", "read", "readonly", nil, time.Second)
	m.ObserveSync("docs", "fetch", 1, nil)
	m.SetState("docs", 2)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if got := m.Middleware(h); got == nil {
		t.Fatal("Middleware returned nil")
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/docstore/acme/notes/refs", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(m.httpTotal.WithLabelValues(http.MethodPost, "/docstore/*", "4xx")); got != 1 {
		t.Fatalf("request counter = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.httpErrors.WithLabelValues(http.MethodPost, "/docstore/*", "409")); got != 1 {
		t.Fatalf("error counter = %f, want 1", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got := testutil.CollectAndCount(m.httpTotal); got != 1 {
		t.Fatalf("series = %d, want scrape to be skipped", got)
	}
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetState("docs", 2)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `docstore_workspace_state{workspace="docs"} 2`) {
		t.Fatalf("body missing state gauge:\n%s", rec.Body.String())
	}
}
