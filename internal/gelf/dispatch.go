package gelf

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/tether/internal/correlate"
)

// ErrQueueFull is returned by Dispatch when the emission queue is saturated.
// The record is dropped; delivery is best-effort.
var ErrQueueFull = errors.New("gelf: emission queue full, record dropped")

// ErrStopped is returned by Dispatch after Stop has been called.
var ErrStopped = errors.New("gelf: dispatcher stopped")

// Sink abstracts the emission transport. Satisfied by *Client in production
// and faked in tests.
type Sink interface {
	Emit(ctx context.Context, shortMessage string) error
}

// Recorder receives emission outcome observations. Implementations must not block.
type Recorder interface {
	EmissionResult(ok bool, d time.Duration)
	EmissionDropped()
}

// Config holds dispatcher tunables.
type Config struct {
	QueueSize int          // pending emission capacity (default 256)
	Workers   int          // concurrent emitters (default 4)
	Logger    *slog.Logger // diagnostic channel (defaults to slog.Default())
	Metrics   Recorder     // optional outcome observer
}

// Dispatcher fans emission jobs out to background workers so the request
// path never waits on the collector. Pending jobs at Stop are abandoned.
type Dispatcher struct {
	sink Sink
	cfg  Config
	jobs chan job
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

type job struct {
	ctx          context.Context
	shortMessage string
}

// New constructs but does not start a Dispatcher.
func New(sink Sink, cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		sink: sink,
		cfg:  cfg,
		jobs: make(chan job, cfg.QueueSize),
		stop: make(chan struct{}),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Stop signals the workers to exit and waits for them. In-flight emissions
// finish; queued ones are dropped.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stop) })
	d.wg.Wait()
}

// Dispatch queues one emission for the current scope and returns without
// waiting for the outcome. The job context is detached from cancellation so
// request teardown cannot abort an in-flight emission; the scope value itself
// is preserved. A full queue or a stopped dispatcher is reported
// synchronously — everything after a successful enqueue is reported through
// the diagnostic log only.
func (d *Dispatcher) Dispatch(ctx context.Context, shortMessage string) error {
	select {
	case <-d.stop:
		return ErrStopped
	default:
	}
	j := job{ctx: context.WithoutCancel(ctx), shortMessage: shortMessage}
	select {
	case d.jobs <- j:
		return nil
	default:
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.EmissionDropped()
		}
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	log := d.cfg.Logger.With("domain", "gelf")
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case j := <-d.jobs:
			start := time.Now()
			err := d.sink.Emit(j.ctx, j.shortMessage)
			if d.cfg.Metrics != nil {
				d.cfg.Metrics.EmissionResult(err == nil, time.Since(start))
			}
			if err != nil {
				cid, _ := correlate.ID(j.ctx)
				log.Error("log emission failed", "cid", cid, "err", err)
			}
		}
	}
}
