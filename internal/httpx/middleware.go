package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/haukened/tether/internal/correlate"
)

// DefaultHeader carries correlation identifiers when no override is configured.
const DefaultHeader = "X-Correlation-ID"

// GetID and SetID re-export the propagation primitive so handler packages can
// depend on the middleware package alone.
var (
	GetID = correlate.ID
	SetID = correlate.SetID
)

// Options configures the correlation middleware. The zero value is usable:
// default header, no emission, no metrics, slog.Default() diagnostics.
type Options struct {
	Header   string       // request/response header carrying the identifier
	Emitter  Dispatcher   // optional per-request log emission
	Recorder Recorder     // optional outcome observer
	Logger   *slog.Logger // diagnostic channel
}

// Correlation returns a middleware that resolves a correlation identifier for
// each request, establishes a scope carrying it for the remainder of request
// processing, mirrors it into the response header, and dispatches a
// best-effort log emission before handing off to next.
//
// An inbound header value is honored only when it has the canonical UUID
// shape, byte-for-byte and without normalization. Anything absent, empty, or
// malformed silently switches to the generated branch: WithID is called with
// an empty id so the scope primitive owns generation, and the minted value is
// read back so the response header and the scope can never disagree.
//
// Emission failures never delay or fail the request. A synchronous dispatch
// fault is logged here; a failure after dispatch is logged by the emitter.
// The two are distinguishable in the diagnostic stream.
func Correlation(o Options) func(http.Handler) http.Handler {
	header := o.Header
	if header == "" {
		header = DefaultHeader
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			incoming := r.Header.Get(header)
			if !correlate.IsUUID(incoming) {
				incoming = ""
			}
			if o.Recorder != nil {
				o.Recorder.RequestProcessed(incoming == "")
			}
			_ = correlate.WithID(r.Context(), incoming, func(ctx context.Context) error {
				cid, _ := correlate.ID(ctx)
				w.Header().Set(header, cid)
				if o.Emitter != nil {
					if err := o.Emitter.Dispatch(ctx, r.Method+" "+r.URL.Path); err != nil {
						log.Error("log emission dispatch failed", "cid", cid, "err", err)
					}
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return nil
			})
		})
	}
}
