package httpx

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/haukened/tether/internal/correlate"
)

// recordingDispatcher captures Dispatch calls; optionally fails synchronously.
type recordingDispatcher struct {
	mu   sync.Mutex
	cids []string
	msgs []string
	err  error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, shortMessage string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cid, _ := correlate.ID(ctx)
	d.cids = append(d.cids, cid)
	d.msgs = append(d.msgs, shortMessage)
	return d.err
}

type countingRecorder struct {
	mu        sync.Mutex
	generated int
	incoming  int
}

func (c *countingRecorder) RequestProcessed(generated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generated {
		c.generated++
	} else {
		c.incoming++
	}
}

// TestCorrelationResolution covers the incoming vs generated branch per
// inbound header value, and the header/context agreement in both.
func TestCorrelationResolution(t *testing.T) {
	tests := []struct {
		name        string
		headerValue string
		hasHeader   bool
		wantReuse   bool
	}{
		{name: "valid uuid reused", headerValue: "123e4567-e89b-12d3-a456-426614174000", hasHeader: true, wantReuse: true},
		{name: "uppercase uuid reused verbatim", headerValue: "123E4567-E89B-12D3-A456-426614174000", hasHeader: true, wantReuse: true},
		{name: "missing header generates", hasHeader: false},
		{name: "empty header generates", headerValue: "", hasHeader: true},
		{name: "malformed header generates", headerValue: "invalid-uuid", hasHeader: true},
		{name: "unhyphenated uuid generates", headerValue: "123e4567e89b12d3a456426614174000", hasHeader: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var handlerID string
			var handlerOK bool
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerID, handlerOK = GetID(r.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.hasHeader {
				req.Header.Set(DefaultHeader, tt.headerValue)
			}
			rr := httptest.NewRecorder()
			Correlation(Options{})(next).ServeHTTP(rr, req)

			if !handlerOK {
				t.Fatal("expected a correlation scope inside the handler")
			}
			respID := rr.Header().Get(DefaultHeader)
			if respID == "" {
				t.Fatalf("expected %s on the response", DefaultHeader)
			}
			if respID != handlerID {
				t.Fatalf("response header %q disagrees with scope id %q", respID, handlerID)
			}
			if tt.wantReuse {
				if respID != tt.headerValue {
					t.Fatalf("expected inbound id %q byte-for-byte, got %q", tt.headerValue, respID)
				}
			} else {
				if respID == tt.headerValue {
					t.Fatalf("expected a generated id, got the inbound value back")
				}
				if !correlate.IsUUID(respID) {
					t.Fatalf("generated id %q is not a canonical UUID", respID)
				}
			}
		})
	}
}

func TestCorrelationGeneratedIDsAreDistinct(t *testing.T) {
	t.Parallel()

	mw := Correlation(Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		id := rr.Header().Get(DefaultHeader)
		if seen[id] {
			t.Fatalf("generated id %q repeated across requests", id)
		}
		seen[id] = true
	}
}

func TestCorrelationCustomHeader(t *testing.T) {
	t.Parallel()

	const custom = "id-svc"
	supplied := uuid.New().String()

	var handlerID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerID, _ = GetID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(custom, supplied)
	rr := httptest.NewRecorder()
	Correlation(Options{Header: custom})(next).ServeHTTP(rr, req)

	if got := rr.Header().Get(custom); got != supplied {
		t.Fatalf("expected %q under %s, got %q", supplied, custom, got)
	}
	if handlerID != supplied {
		t.Fatalf("scope id %q does not match supplied %q", handlerID, supplied)
	}
	if got := rr.Header().Get(DefaultHeader); got != "" {
		t.Fatalf("default header must stay untouched, got %q", got)
	}
}

// TestCorrelationDispatchOrdering asserts the per-request sequence: response
// header set, emission dispatched, then next — and that the dispatcher
// observes the resolved scope.
func TestCorrelationDispatchOrdering(t *testing.T) {
	t.Parallel()

	disp := &recordingDispatcher{}
	var order []string
	var headerAtDispatch string

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "next")
	})

	rr := httptest.NewRecorder()
	wrapped := Correlation(Options{Emitter: &orderedDispatcher{inner: disp, onDispatch: func() {
		order = append(order, "dispatch")
		headerAtDispatch = rr.Header().Get(DefaultHeader)
	}}})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/trace", nil)
	wrapped.ServeHTTP(rr, req)

	if len(order) != 2 || order[0] != "dispatch" || order[1] != "next" {
		t.Fatalf("expected dispatch before next, got %v", order)
	}
	if headerAtDispatch == "" {
		t.Fatal("response header must be set before the emission is dispatched")
	}
	if len(disp.cids) != 1 || disp.cids[0] != headerAtDispatch {
		t.Fatalf("dispatcher saw cid %v, response header %q", disp.cids, headerAtDispatch)
	}
	if disp.msgs[0] != "GET /api/trace" {
		t.Fatalf("unexpected short message %q", disp.msgs[0])
	}
}

type orderedDispatcher struct {
	inner      *recordingDispatcher
	onDispatch func()
}

func (o *orderedDispatcher) Dispatch(ctx context.Context, msg string) error {
	o.onDispatch()
	return o.inner.Dispatch(ctx, msg)
}

// TestCorrelationDispatchFault: a synchronous dispatch error must be logged
// distinctly and must not prevent next from running.
func TestCorrelationDispatchFault(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	disp := &recordingDispatcher{err: errors.New("queue full")}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { nextCalled = true })

	rr := httptest.NewRecorder()
	Correlation(Options{Emitter: disp, Logger: logger})(next).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if !nextCalled {
		t.Fatal("next handler must run despite the dispatch fault")
	}
	out := buf.String()
	if !strings.Contains(out, "log emission dispatch failed") {
		t.Fatalf("expected dispatch-fault diagnostic, got %q", out)
	}
	if !strings.Contains(out, "queue full") {
		t.Fatalf("expected underlying error in diagnostic, got %q", out)
	}
}

func TestCorrelationRecorderBranches(t *testing.T) {
	t.Parallel()

	rec := &countingRecorder{}
	mw := Correlation(Options{Recorder: rec})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	withHeader := httptest.NewRequest(http.MethodGet, "/", nil)
	withHeader.Header.Set(DefaultHeader, uuid.New().String())
	mw.ServeHTTP(httptest.NewRecorder(), withHeader)
	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.incoming != 1 || rec.generated != 1 {
		t.Fatalf("expected 1 incoming / 1 generated, got %d / %d", rec.incoming, rec.generated)
	}
}

// TestCorrelationScopeSurvivesHandlerGoroutines exercises the asynchronous
// inheritance: work the handler spawns still observes (and can mutate) the
// request's record.
func TestCorrelationScopeSurvivesHandlerGoroutines(t *testing.T) {
	t.Parallel()

	supplied := uuid.New().String()
	var asyncID string
	var afterMutation string

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			asyncID, _ = GetID(r.Context())
			_ = SetID(r.Context(), "rewritten")
		}()
		<-done
		afterMutation, _ = GetID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DefaultHeader, supplied)
	Correlation(Options{})(next).ServeHTTP(httptest.NewRecorder(), req)

	if asyncID != supplied {
		t.Fatalf("spawned goroutine saw %q, want %q", asyncID, supplied)
	}
	if afterMutation != "rewritten" {
		t.Fatalf("mutation from spawned goroutine not visible, got %q", afterMutation)
	}
}
