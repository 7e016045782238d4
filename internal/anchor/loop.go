package anchor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCycleFailure wraps a failed fetch or append inside one anchor cycle.
// It is reported, never fatal to the loop.
var ErrCycleFailure = errors.New("anchor: cycle failure")

// ErrAlreadyStarted is returned by Start on a loop that has not been stopped.
var ErrAlreadyStarted = errors.New("anchor: loop already started")

// Cycle outcomes passed to the metrics callback.
const (
	OutcomeAnchored    = "anchored"
	OutcomeFetchError  = "fetch_error"
	OutcomeAppendError = "append_error"
)

// Config holds anchor loop configuration.
type Config struct {
	Period       time.Duration
	CycleTimeout time.Duration
}

// MetricsRecordFunc is an optional callback receiving each cycle's outcome.
type MetricsRecordFunc func(outcome string)

// Loop appends one anchor record per period.
type Loop struct {
	src    RootSource
	store  Store
	cfg    Config
	logger *zap.Logger

	now       func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())
	onMetrics MetricsRecordFunc

	// cycleMu is held for the whole of a cycle.
	cycleMu   sync.Mutex
	lastNanos uint64

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewLoop creates a Loop reading from src and writing to store.
func NewLoop(src RootSource, store Store, cfg Config, logger *zap.Logger) *Loop {
	if cfg.Period <= 0 {
		cfg.Period = 60 * time.Second
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 10 * time.Second
	}
	return &Loop{
		src:    src,
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (l *Loop) SetMetricsRecord(fn MetricsRecordFunc) {
	l.onMetrics = fn
}

// SetClock overrides the clock used to timestamp records.
func (l *Loop) SetClock(now func() time.Time) {
	l.now = now
}

// SetTicker overrides how the loop's period ticks are produced.
func (l *Loop) SetTicker(fn func(time.Duration) (<-chan time.Time, func())) {
	l.newTicker = fn
}

// RunOnce performs a single cycle: read the root, stamp it, append the
// record. Failures are logged, reported and returned wrapped in
// ErrCycleFailure.
func (l *Loop) RunOnce(ctx context.Context) (Record, error) {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.cfg.CycleTimeout)
	defer cancel()

	state, err := l.src.CurrentRoot(ctx)
	if err != nil {
		l.logger.Warn("anchor: fetch root failed", zap.Error(err))
		l.record(OutcomeFetchError)
		return Record{}, fmt.Errorf("%w: fetch root: %w", ErrCycleFailure, err)
	}
	ts := l.now()
	if n := uint64(ts.UnixNano()); n < l.lastNanos {
		// Wall clock stepped back; keep the trail ordered.
		l.logger.Warn("anchor: clock moved backwards",
			zap.Uint64("last_nanos", l.lastNanos),
			zap.Uint64("now_nanos", n),
		)
		ts = time.Unix(0, int64(l.lastNanos))
	}

	rec := NewRecord(state, ts)
	if err := l.store.Append(ctx, rec); err != nil {
		l.logger.Error("anchor: append failed",
			zap.Uint64("tree_size", rec.TreeSize),
			zap.Error(err),
		)
		l.record(OutcomeAppendError)
		return Record{}, fmt.Errorf("%w: append: %w", ErrCycleFailure, err)
	}
	l.lastNanos = rec.TimestampNanos

	l.logger.Info("anchored root",
		zap.Uint64("tree_size", rec.TreeSize),
		zap.Stringer("root", rec.Root),
		zap.Stringer("txid", rec.TxID),
	)
	l.record(OutcomeAnchored)
	return rec, nil
}

func (l *Loop) record(outcome string) {
	if l.onMetrics != nil {
		l.onMetrics(outcome)
	}
}

// Start runs a cycle on every period tick in a background goroutine until
// Stop is called. Cycles run with a context detached from ctx's
// cancellation so that a stop never interrupts a write; ctx only carries
// values.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return ErrAlreadyStarted
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	ticks, stopTicker := l.newTicker(l.cfg.Period)
	go l.run(context.WithoutCancel(ctx), ticks, stopTicker, l.stop, l.done)

	l.logger.Info("anchor loop started", zap.Duration("period", l.cfg.Period))
	return nil
}

func (l *Loop) run(ctx context.Context, ticks <-chan time.Time, stopTicker func(), stop, done chan struct{}) {
	defer close(done)
	defer stopTicker()
	for {
		select {
		case <-stop:
			return
		case <-ticks:
			select {
			case <-stop:
				return
			default:
			}
			_, _ = l.RunOnce(ctx)
		}
	}
}

// Stop requests the loop to end, waits for an in-progress cycle to finish,
// and returns once no further cycle will run. A stopped loop may be started
// again. Stop on a loop that was never started is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	stop, done := l.stop, l.done
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	l.mu.Unlock()

	if done == nil {
		return
	}
	<-done

	l.mu.Lock()
	if l.done == done {
		l.stop, l.done = nil, nil
	}
	l.mu.Unlock()
	l.logger.Info("anchor loop stopped")
}
