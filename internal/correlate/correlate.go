// Package correlate is the propagation primitive at the heart of Tether.
// It carries a per-request correlation scope through context.Context so that
// every piece of work derived from a request — direct calls and goroutines it
// spawns — can read and write the same identifier without explicit parameter
// threading, while unrelated requests stay fully isolated.
package correlate

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNoScope is returned by SetID when no scope has been established on the
// context. Enter a scope with WithID or BindID first.
var ErrNoScope = errors.New("correlate: no active scope, call WithID or BindID first")

// ErrNilWork is returned when a scope-establishing call is given no work to run.
var ErrNilWork = errors.New("correlate: work must not be nil")

// scopeCtxKey is the unexported context key type to avoid collisions.
type scopeCtxKey struct{}

var scopeKey = scopeCtxKey{}

// Scope is the unit of propagation: a single mutable identifier shared by
// reference across everything running inside one WithID extent. Writes via
// SetID are visible to every holder of the record, including goroutines the
// handler spawned, so the field is mutex-guarded.
type Scope struct {
	mu sync.Mutex
	id string
}

// ID returns the scope's current identifier.
func (s *Scope) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Scope) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// NewContext returns a child context carrying the given scope. Most callers
// want WithID; this exists for re-attaching a scope across boundaries that
// rebuild contexts, such as detached background work.
func NewContext(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey, s)
}

// FromContext extracts the current scope. The boolean reports presence.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey).(*Scope)
	return s, ok
}

// WithID runs work inside a scope carrying id. An empty id delegates
// generation to the scope itself and a fresh UUID is minted. A nested call
// shadows the outer scope for the duration of work only. Returns work's error.
func WithID(ctx context.Context, id string, work func(context.Context) error) error {
	if work == nil {
		return ErrNilWork
	}
	if id == "" {
		id = uuid.New().String()
	}
	return work(NewContext(ctx, &Scope{id: id}))
}

// BindID resolves the identifier now — generating a fresh UUID if id is
// empty — and returns a wrapper that establishes a scope carrying it each
// time the wrapper is invoked. Useful when the scope must attach to work
// registered now but fired later (callbacks, timers, event handlers).
// Each invocation gets its own record, so a SetID inside one run does not
// bleed into the next.
func BindID(id string, work func(context.Context) error) func(context.Context) error {
	if id == "" {
		id = uuid.New().String()
	}
	return func(ctx context.Context) error {
		if work == nil {
			return ErrNilWork
		}
		return work(NewContext(ctx, &Scope{id: id}))
	}
}

// ID returns the current scope's identifier. Outside any scope it returns
// ("", false); that is an answer, not an error.
func ID(ctx context.Context) (string, bool) {
	s, ok := FromContext(ctx)
	if !ok {
		return "", false
	}
	return s.ID(), true
}

// SetID overwrites the current scope's identifier in place. The value is
// taken as-is — only inbound header values are shape-checked, explicit
// writes are trusted. Returns ErrNoScope outside any scope.
func SetID(ctx context.Context, id string) error {
	s, ok := FromContext(ctx)
	if !ok {
		return ErrNoScope
	}
	s.setID(id)
	return nil
}

// IsUUID reports whether s has the canonical 8-4-4-4-12 hyphenated UUID
// textual shape, case-insensitive. uuid.Parse alone also accepts braced,
// URN-prefixed, and unhyphenated forms, so the length is pinned to 36 first;
// at that length Parse enforces hyphens at positions 8, 13, 18 and 23.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
