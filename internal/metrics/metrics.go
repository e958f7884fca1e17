// Package metrics provides a lightweight persistent metrics manager for the
// Tether service. It batches in-memory counter and summary observations and
// periodically flushes them to SQLite. Only monotonic counters and simple
// (count,sum,min,max) summaries are supported; anything richer belongs in a
// real TSDB, which this service deliberately does not carry.
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Counter names used by the application.
const (
	CounterRequests         = "requests_total"
	CounterIDsPropagated    = "correlation_ids_propagated_total"
	CounterIDsGenerated     = "correlation_ids_generated_total"
	CounterEmissions        = "gelf_emissions_total"
	CounterEmissionFailures = "gelf_emission_failures_total"
	CounterEmissionsDropped = "gelf_dispatch_drops_total"
)

// Summary names.
const (
	SummaryEmissionDurationMS = "gelf_emission_duration_ms"
)

// Config controls flush cadence and logging.
type Config struct {
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Manager aggregates metric events and flushes them to the database.
type Manager struct {
	cfg     Config
	db      *sql.DB
	events  chan event
	stop    chan struct{}
	done    chan struct{}
	started bool

	// in-memory deltas (protected by mu)
	mu        sync.Mutex
	counters  map[string]int64
	summaries map[string]*summaryAgg
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
)

type event struct {
	kind eventKind
	name string
	v    int64
}

type summaryAgg struct {
	count int64
	sum   int64
	min   int64
	max   int64
}

// New creates a Manager. Call Start to begin background flushing.
func New(db *sql.DB, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		db:        db,
		events:    make(chan event, 1024),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		counters:  make(map[string]int64),
		summaries: make(map[string]*summaryAgg),
	}
}

// InitSchema ensures the metrics tables exist.
func (m *Manager) InitSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS metrics_counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS metrics_summaries (
			name TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			sum INTEGER NOT NULL,
			min INTEGER NOT NULL,
			max INTEGER NOT NULL
		);`,
	}
	for _, stmt := range ddl {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the background flush loop.
func (m *Manager) Start(ctx context.Context) {
	if m.started {
		return
	}
	m.started = true
	go m.loop(ctx)
}

// Stop signals the flush loop to exit, applies any events still queued, and
// performs a final flush.
func (m *Manager) Stop(ctx context.Context) {
	if m.started {
		close(m.stop)
		<-m.done
	}
	m.drainPending()
	_ = m.flush(ctx)
}

func (m *Manager) drainPending() {
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		default:
			return
		}
	}
}

// Inc increments a counter by delta (>=1). Never blocks: if the event buffer
// is saturated the observation is dropped.
func (m *Manager) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	select {
	case m.events <- event{kind: eventInc, name: name, v: delta}:
	default:
	}
}

// Observe records a summary observation. Never blocks.
func (m *Manager) Observe(name string, value int64) {
	select {
	case m.events <- event{kind: eventObserve, name: name, v: value}:
	default:
	}
}

// RequestProcessed records one middleware pass; generated reports whether the
// identifier was minted locally rather than propagated from the caller.
// Satisfies httpx.Recorder.
func (m *Manager) RequestProcessed(generated bool) {
	m.Inc(CounterRequests, 1)
	if generated {
		m.Inc(CounterIDsGenerated, 1)
	} else {
		m.Inc(CounterIDsPropagated, 1)
	}
}

// EmissionResult records one completed log emission attempt.
// Satisfies gelf.Recorder.
func (m *Manager) EmissionResult(ok bool, d time.Duration) {
	m.Inc(CounterEmissions, 1)
	if !ok {
		m.Inc(CounterEmissionFailures, 1)
	}
	m.Observe(SummaryEmissionDurationMS, d.Milliseconds())
}

// EmissionDropped records a record dropped before dispatch (queue full).
func (m *Manager) EmissionDropped() {
	m.Inc(CounterEmissionsDropped, 1)
}

func (m *Manager) loop(ctx context.Context) {
	log := m.cfg.Logger.With("domain", "metrics")
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("metrics stop", "reason", "context_cancel")
			return
		case <-m.stop:
			log.Info("metrics stop", "reason", "stop_signal")
			return
		case ev := <-m.events:
			m.apply(ev)
		case <-ticker.C:
			if err := m.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("flush", "error", err)
			}
		}
	}
}

func (m *Manager) apply(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.kind {
	case eventInc:
		m.counters[ev.name] += ev.v
	case eventObserve:
		agg := m.summaries[ev.name]
		if agg == nil {
			m.summaries[ev.name] = &summaryAgg{count: 1, sum: ev.v, min: ev.v, max: ev.v}
			return
		}
		agg.count++
		agg.sum += ev.v
		if ev.v < agg.min {
			agg.min = ev.v
		}
		if ev.v > agg.max {
			agg.max = ev.v
		}
	}
}

// flush upserts in-memory deltas into the database and resets them.
func (m *Manager) flush(ctx context.Context) error {
	m.mu.Lock()
	counters := m.counters
	summaries := m.summaries
	m.counters = make(map[string]int64)
	m.summaries = make(map[string]*summaryAgg)
	m.mu.Unlock()

	if len(counters) == 0 && len(summaries) == 0 {
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		m.restore(counters, summaries)
		return err
	}
	for name, v := range counters {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metrics_counters (name, value) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`, name, v); err != nil {
			_ = tx.Rollback()
			m.restore(counters, summaries)
			return err
		}
	}
	for name, agg := range summaries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metrics_summaries (name, count, sum, min, max) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET
				count = count + excluded.count,
				sum = sum + excluded.sum,
				min = MIN(min, excluded.min),
				max = MAX(max, excluded.max)`, name, agg.count, agg.sum, agg.min, agg.max); err != nil {
			_ = tx.Rollback()
			m.restore(counters, summaries)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		m.restore(counters, summaries)
		return err
	}
	return nil
}

// restore puts unflushed deltas back so they are not lost on a failed flush.
func (m *Manager) restore(counters map[string]int64, summaries map[string]*summaryAgg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, v := range counters {
		m.counters[n] += v
	}
	for n, agg := range summaries {
		cur := m.summaries[n]
		if cur == nil {
			m.summaries[n] = agg
			continue
		}
		cur.count += agg.count
		cur.sum += agg.sum
		if agg.min < cur.min {
			cur.min = agg.min
		}
		if agg.max > cur.max {
			cur.max = agg.max
		}
	}
}

// Snapshot returns persisted state layered with in-memory deltas.
func (m *Manager) Snapshot(ctx context.Context) (counters map[string]int64, summaries map[string]summaryAgg, err error) {
	counters = make(map[string]int64)
	summaries = make(map[string]summaryAgg)

	rows, err := m.db.QueryContext(ctx, `SELECT name, value FROM metrics_counters`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		var v int64
		if err := rows.Scan(&n, &v); err != nil {
			return nil, nil, err
		}
		counters[n] = v
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	srows, err := m.db.QueryContext(ctx, `SELECT name, count, sum, min, max FROM metrics_summaries`)
	if err != nil {
		return nil, nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var n string
		var c, s, mn, mx int64
		if err := srows.Scan(&n, &c, &s, &mn, &mx); err != nil {
			return nil, nil, err
		}
		summaries[n] = summaryAgg{count: c, sum: s, min: mn, max: mx}
	}
	if err := srows.Err(); err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	for n, v := range m.counters {
		counters[n] += v
	}
	for n, agg := range m.summaries {
		cur, ok := summaries[n]
		if !ok {
			summaries[n] = *agg
			continue
		}
		cur.count += agg.count
		cur.sum += agg.sum
		if agg.min < cur.min {
			cur.min = agg.min
		}
		if agg.max > cur.max {
			cur.max = agg.max
		}
		summaries[n] = cur
	}
	m.mu.Unlock()
	return counters, summaries, nil
}
