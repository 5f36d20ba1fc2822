package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/roach88/blitter/internal/engine"
)

const (
	// DefaultMaxPending bounds the entries buffered between flushes.
	DefaultMaxPending = 10000

	// DefaultBreakerFailures is the number of consecutive failed flushes
	// that opens the breaker.
	DefaultBreakerFailures = 3

	// DefaultBreakerCooldown is how long an open breaker sheds writes
	// before letting a trial flush through.
	DefaultBreakerCooldown = 5 * time.Second
)

// Recorder is an engine.Journal that persists entries to a Store.
//
// Record only appends to an in-memory buffer, so it is safe to call with
// the engine lock held. Run drains the buffer on its own goroutine. Each
// batch is written through a circuit breaker: while the database keeps
// failing the breaker opens and batches are dropped and counted instead of
// retried.
//
// Thread-safety model:
//   - Record, Flush, Close, Dropped, Written: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Recorder struct {
	store   *Store
	breaker *gobreaker.CircuitBreaker

	maxPending int
	failures   uint32
	cooldown   time.Duration

	mu      sync.Mutex
	pending []engine.Entry
	closed  bool
	signal  chan struct{} // buffered, size 1

	flushMu sync.Mutex
	written atomic.Int64
	dropped atomic.Int64
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithMaxPending bounds the buffer. Entries recorded while it is full are
// dropped.
func WithMaxPending(n int) RecorderOption {
	return func(r *Recorder) {
		r.maxPending = n
	}
}

// WithBreaker sets how many consecutive failed flushes open the breaker
// and how long it stays open.
func WithBreaker(failures uint32, cooldown time.Duration) RecorderOption {
	return func(r *Recorder) {
		r.failures = failures
		r.cooldown = cooldown
	}
}

// NewRecorder creates a recorder writing to s.
func NewRecorder(s *Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:      s,
		maxPending: DefaultMaxPending,
		failures:   DefaultBreakerFailures,
		cooldown:   DefaultBreakerCooldown,
		signal:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}

	failures := r.failures
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "journal",
		MaxRequests: 1,
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("journal breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return r
}

// Record buffers e for the next flush. It never blocks on the database.
func (r *Recorder) Record(e engine.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || (r.maxPending > 0 && len(r.pending) >= r.maxPending) {
		r.dropped.Add(1)
		return
	}
	r.pending = append(r.pending, e)

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Run flushes buffered entries until ctx is cancelled or Close is called.
// Entries still buffered at that point are flushed before Run returns.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		if err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			slog.Debug("journal flush failed", "error", err)
		}

		select {
		case <-ctx.Done():
			// Final flush must not inherit the cancelled context.
			_ = r.Flush(context.WithoutCancel(ctx))
			return ctx.Err()

		case <-r.signal:
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if closed {
				return r.Flush(ctx)
			}
		}
	}
}

// Flush writes everything buffered so far.
// A batch that fails, or that the open breaker rejects, is dropped.
func (r *Recorder) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.store.WriteEntries(ctx, batch)
	})
	if err != nil {
		r.dropped.Add(int64(len(batch)))
		slog.Warn("journal write failed",
			"entries", len(batch),
			"breaker", r.breaker.State().String(),
			"error", err,
		)
		return err
	}

	r.written.Add(int64(len(batch)))
	return nil
}

// Close stops accepting entries and makes Run flush and return.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.signal)
}

// Written returns how many entries reached the database.
func (r *Recorder) Written() int64 {
	return r.written.Load()
}

// Dropped returns how many entries were shed.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// BreakerState returns the breaker state.
func (r *Recorder) BreakerState() gobreaker.State {
	return r.breaker.State()
}
