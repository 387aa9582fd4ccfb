package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequestIncrementsCounter(t *testing.T) {
	c := New()
	c.RecordRequest("GET")
	c.RecordRequest("GET")
	c.RecordRequest("POST")

	if got := testutil.ToFloat64(c.RequestsTotal.WithLabelValues("GET")); got != 2 {
		t.Fatalf("expected 2 GET requests recorded, got %v", got)
	}
	if got := testutil.ToFloat64(c.RequestsTotal.WithLabelValues("POST")); got != 1 {
		t.Fatalf("expected 1 POST request recorded, got %v", got)
	}
}

func TestRecordBlockedIncrementsBlockedCount(t *testing.T) {
	c := New()
	c.RecordBlocked()
	snap := c.Snapshot()
	if snap.BlockedRequests != 1 {
		t.Fatalf("expected BlockedRequests=1, got %d", snap.BlockedRequests)
	}
}

func TestHandlerRegistersAllRoutes(t *testing.T) {
	c := New()
	mux := http.NewServeMux()
	NewHandler(c).Register(mux)

	for _, path := range []string{"/metrics", "/stats", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
