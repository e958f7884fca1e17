// Package httpx contains the HTTP delivery layer for the Tether service.
// It mounts the correlation middleware in front of every route so downstream
// handlers always run inside a correlation scope, exposes small introspection
// endpoints, and translates failures into JSON error bodies.
// Handlers are split across files (trace.go, health.go, errors.go).
package httpx

import (
	"context"
	"log/slog"
	"net/http"
)

// Dispatcher is the log-emission port the middleware triggers once per
// request. Implementations must not block the request path: failure to even
// enqueue is returned synchronously, everything after that is reported
// out-of-band. Satisfied by *gelf.Dispatcher in production.
type Dispatcher interface {
	Dispatch(ctx context.Context, shortMessage string) error
}

// Recorder observes per-request middleware outcomes. Implementations must
// not block. Satisfied by *metrics.Manager in production.
type Recorder interface {
	RequestProcessed(generated bool)
}

// Handler wires HTTP endpoints to the correlation core.
// It is safe for concurrent use. Zero-value is usable: default header, no
// emission, no metrics.
type Handler struct {
	Header    string                      // correlation header name ("" => DefaultHeader)
	Emitter   Dispatcher                  // optional log emission port
	Recorder  Recorder                    // optional request outcome observer
	Readiness func(context.Context) error // optional readiness probe
	Metrics   http.Handler                // optional metrics snapshot endpoint
	Logger    *slog.Logger                // diagnostic channel (defaults to slog.Default())
}

// Router constructs an http.Handler with all routes mounted behind the
// correlation middleware and security headers.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleIndex)
	mux.HandleFunc("/api/trace", h.handleTrace)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/readyz", h.handleReady)
	if h.Metrics != nil {
		mux.Handle("/metricsz", h.Metrics)
	}
	mw := Correlation(Options{
		Header:   h.Header,
		Emitter:  h.Emitter,
		Recorder: h.Recorder,
		Logger:   h.Logger,
	})
	return h.secureHeaders(mw(mux))
}

// handleIndex answers the root path with service identity; anything else
// falling through the mux is a 404.
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.writeError(r.Context(), w, http.StatusNotFound, "not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"service": "tether"})
}

// secureHeaders middleware adds standard hardening and cache control headers.
func (h *Handler) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
