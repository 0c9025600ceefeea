package httpapi

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"sessiond/internal/manager"
)

const genBody = `{"messages":[{"role":"user","content":"hi"}]}`

func TestMetrics_GenerateLabelsByRoutePattern(t *testing.T) {
	svc := newMockService()
	svc.sessions["abc"] = manager.SessionInfo{ID: "abc"}
	h := NewMux(svc)

	reqs := httpRequestsTotal.WithLabelValues("/sessions/{id}/generate", http.MethodPost, "200")
	final := streamedChunks.WithLabelValues("final")
	text := streamedChunks.WithLabelValues("text")
	before, finalBefore, textBefore := testutil.ToFloat64(reqs), testutil.ToFloat64(final), testutil.ToFloat64(text)

	if w := do(t, h, http.MethodPost, "/sessions/abc/generate", genBody); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := testutil.ToFloat64(reqs) - before; got != 1 {
		t.Fatalf("requests by pattern delta = %v", got)
	}
	if got := testutil.ToFloat64(final) - finalBefore; got != 1 {
		t.Fatalf("final chunks delta = %v", got)
	}
	if got := testutil.ToFloat64(text) - textBefore; got != 0 {
		t.Fatalf("text chunks delta = %v", got)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/sessions/abc/generate", http.MethodPost, "200")); got != 0 {
		t.Fatalf("raw path used as label: %v", got)
	}
}

func TestMetrics_BusySessionCountsBackpressure(t *testing.T) {
	svc := newMockService()
	svc.sessions["s1"] = manager.SessionInfo{ID: "s1"}
	svc.genErr = manager.SessionBusyError{SessionID: "s1"}
	h := NewMux(svc)

	busy := backpressureTotal.WithLabelValues("session_busy")
	before := testutil.ToFloat64(busy)
	for i := 0; i < 2; i++ {
		if w := do(t, h, http.MethodPost, "/sessions/s1/generate", genBody); w.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d", w.Code)
		}
	}
	if got := testutil.ToFloat64(busy) - before; got != 2 {
		t.Fatalf("backpressure delta = %v", got)
	}

	// Other errors are not backpressure.
	svc.genErr = manager.SessionNotFoundError{SessionID: "s1"}
	do(t, h, http.MethodPost, "/sessions/s1/generate", genBody)
	if got := testutil.ToFloat64(busy) - before; got != 2 {
		t.Fatalf("not-found counted as backpressure: %v", got)
	}
}

func TestMetrics_ExposedOnScrape(t *testing.T) {
	h := NewMux(newMockService())
	do(t, h, http.MethodGet, "/healthz", "")
	w := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"sessiond_http_requests_total", "sessiond_http_request_duration_seconds", "sessiond_http_inflight_requests"} {
		if !strings.Contains(body, name) {
			t.Fatalf("missing %s in scrape", name)
		}
	}
}
