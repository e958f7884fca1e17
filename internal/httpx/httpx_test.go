package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRouterSecureHeaders(t *testing.T) {
	t.Parallel()

	h := &Handler{}
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("missing nosniff, got %q", got)
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("missing no-store, got %q", got)
	}
	if rr.Header().Get(DefaultHeader) == "" {
		t.Fatal("every routed request must carry a correlation header")
	}
}

func TestRouterUnknownPath(t *testing.T) {
	t.Parallel()

	h := &Handler{}
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestRouterMetricsMount(t *testing.T) {
	t.Parallel()

	mounted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	withMetrics := &Handler{Metrics: mounted}
	rr := httptest.NewRecorder()
	withMetrics.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metricsz", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected mounted metrics handler, got %d", rr.Code)
	}

	withoutMetrics := &Handler{}
	rr2 := httptest.NewRecorder()
	withoutMetrics.Router().ServeHTTP(rr2, httptest.NewRequest(http.MethodGet, "/metricsz", nil))
	if rr2.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics handler, got %d", rr2.Code)
	}
}
