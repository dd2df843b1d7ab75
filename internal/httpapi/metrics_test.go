package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TestMetricsMiddleware_UsesRoutePattern verifies that requests through the
// mux are counted under the chi route pattern, not the raw URL path.
func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	mux := NewMux(&mockService{})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/events/ci38457511", nil))

	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if mrr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", mrr.Code)
	}
	body := mrr.Body.Bytes()
	if !bytes.Contains(body, []byte("gmbatch_http_requests_total")) || !bytes.Contains(body, []byte(`path="/events/{id}"`)) {
		preview := body
		if len(preview) > 400 {
			preview = preview[:400]
		}
		t.Fatalf("expected gmbatch_http_requests_total labelled /events/{id}; got: %q", string(preview))
	}
	if bytes.Contains(body, []byte("ci38457511")) {
		t.Fatalf("raw path leaked into metric labels")
	}
}
