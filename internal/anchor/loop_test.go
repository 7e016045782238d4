package anchor_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/realitylog/internal/anchor"
	"github.com/jmerrifield20/realitylog/internal/merkle"
	"github.com/jmerrifield20/realitylog/internal/tlog"
	"github.com/jmerrifield20/realitylog/pkg/client"
)

// ── Stubs ────────────────────────────────────────────────────────────────

// manualTicker hands the loop a channel the test drives.
type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	period  time.Duration
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *manualTicker) factory(d time.Duration) (<-chan time.Time, func()) {
	m.period = d
	return m.ch, func() { close(m.stopped) }
}

// stepClock advances one second per reading.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type memStore struct {
	mu      sync.Mutex
	records []anchor.Record
	fail    bool
}

func (s *memStore) Append(_ context.Context, r anchor.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.records = append(s.records, r)
	return nil
}

func (s *memStore) List(_ context.Context) ([]anchor.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]anchor.Record(nil), s.records...), nil
}

func (s *memStore) Close() error { return nil }

func growingSource(t *testing.T) anchor.RootSource {
	t.Helper()
	l, err := tlog.Open(context.Background(), tlog.NewMemoryBackend(), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return anchor.RootSourceFunc(func(ctx context.Context) (tlog.TreeState, error) {
		if _, err := l.Append(ctx, []byte("tick")); err != nil {
			return tlog.TreeState{}, err
		}
		return l.CurrentRoot(), nil
	})
}

// startLoop wires a loop to a manual ticker and returns a channel that
// receives every cycle outcome.
func startLoop(t *testing.T, src anchor.RootSource, store anchor.Store) (*anchor.Loop, *manualTicker, <-chan string) {
	t.Helper()
	tick := newManualTicker()
	outcomes := make(chan string, 16)
	clock := &stepClock{t: time.Unix(1_700_000_000, 0)}

	loop := anchor.NewLoop(src, store, anchor.Config{Period: time.Minute}, zap.NewNop())
	loop.SetTicker(tick.factory)
	loop.SetClock(clock.now)
	loop.SetMetricsRecord(func(outcome string) { outcomes <- outcome })

	if err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return loop, tick, outcomes
}

func waitOutcome(t *testing.T, outcomes <-chan string) string {
	t.Helper()
	select {
	case o := <-outcomes:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for anchor cycle")
		return ""
	}
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestLoop_oneRecordPerPeriod(t *testing.T) {
	store := &memStore{}
	loop, tick, outcomes := startLoop(t, growingSource(t), store)

	const k = 5
	for i := 0; i < k; i++ {
		tick.ch <- time.Now()
		if o := waitOutcome(t, outcomes); o != anchor.OutcomeAnchored {
			t.Fatalf("cycle %d outcome = %s", i, o)
		}
	}
	loop.Stop()

	if tick.period != time.Minute {
		t.Errorf("ticker period = %v, want 1m", tick.period)
	}
	recs, _ := store.List(context.Background())
	if len(recs) != k {
		t.Fatalf("expected %d records, got %d", k, len(recs))
	}
	for i, r := range recs {
		if r.TxID != anchor.ComputeTxID(r.TreeSize, r.Root, r.TimestampNanos) {
			t.Errorf("record %d: txid mismatch", i)
		}
		if r.TreeSize != uint64(i+1) {
			t.Errorf("record %d: tree_size = %d", i, r.TreeSize)
		}
		if i > 0 && r.TimestampNanos < recs[i-1].TimestampNanos {
			t.Errorf("record %d: timestamp went backwards", i)
		}
	}
}

func TestLoop_heartbeatOnIdleLog(t *testing.T) {
	store := &memStore{}
	state := tlog.TreeState{Size: 0, Root: merkle.EmptyRoot()}
	src := anchor.RootSourceFunc(func(context.Context) (tlog.TreeState, error) { return state, nil })
	loop, tick, outcomes := startLoop(t, src, store)

	for i := 0; i < 3; i++ {
		tick.ch <- time.Now()
		waitOutcome(t, outcomes)
	}
	loop.Stop()

	recs, _ := store.List(context.Background())
	if len(recs) != 3 {
		t.Fatalf("expected 3 heartbeat records, got %d", len(recs))
	}
	for _, r := range recs {
		if r.TreeSize != 0 || r.Root != merkle.EmptyRoot() {
			t.Errorf("unexpected heartbeat record %+v", r)
		}
	}
}

func TestLoop_fetchFailureDoesNotStopLoop(t *testing.T) {
	store := &memStore{}
	var calls int
	src := anchor.RootSourceFunc(func(context.Context) (tlog.TreeState, error) {
		calls++
		if calls == 1 {
			return tlog.TreeState{}, errors.New("connection refused")
		}
		return tlog.TreeState{Size: 1, Root: merkle.LeafHash([]byte("a"))}, nil
	})
	loop, tick, outcomes := startLoop(t, src, store)

	tick.ch <- time.Now()
	if o := waitOutcome(t, outcomes); o != anchor.OutcomeFetchError {
		t.Errorf("first outcome = %s, want %s", o, anchor.OutcomeFetchError)
	}
	tick.ch <- time.Now()
	if o := waitOutcome(t, outcomes); o != anchor.OutcomeAnchored {
		t.Errorf("second outcome = %s, want %s", o, anchor.OutcomeAnchored)
	}
	loop.Stop()

	recs, _ := store.List(context.Background())
	if len(recs) != 1 {
		t.Errorf("expected 1 record, got %d", len(recs))
	}
}

func TestLoop_appendFailureDoesNotStopLoop(t *testing.T) {
	store := &memStore{fail: true}
	loop, tick, outcomes := startLoop(t, growingSource(t), store)

	tick.ch <- time.Now()
	if o := waitOutcome(t, outcomes); o != anchor.OutcomeAppendError {
		t.Errorf("outcome = %s, want %s", o, anchor.OutcomeAppendError)
	}

	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()

	tick.ch <- time.Now()
	if o := waitOutcome(t, outcomes); o != anchor.OutcomeAnchored {
		t.Errorf("outcome = %s, want %s", o, anchor.OutcomeAnchored)
	}
	loop.Stop()
}

func TestRunOnce_wrapsCycleFailure(t *testing.T) {
	src := anchor.RootSourceFunc(func(context.Context) (tlog.TreeState, error) {
		return tlog.TreeState{}, errors.New("boom")
	})
	loop := anchor.NewLoop(src, &memStore{}, anchor.Config{}, zap.NewNop())

	_, err := loop.RunOnce(context.Background())
	if !errors.Is(err, anchor.ErrCycleFailure) {
		t.Errorf("expected ErrCycleFailure, got %v", err)
	}
}

func TestRunOnce_clockStepBackKeepsOrder(t *testing.T) {
	times := []time.Time{time.Unix(200, 0), time.Unix(100, 0)}
	var i int
	loop := anchor.NewLoop(growingSource(t), &memStore{}, anchor.Config{}, zap.NewNop())
	loop.SetClock(func() time.Time { ts := times[i]; i++; return ts })

	first, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	second, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if second.TimestampNanos < first.TimestampNanos {
		t.Errorf("timestamps not ordered: %d then %d", first.TimestampNanos, second.TimestampNanos)
	}
	if !second.Valid() {
		t.Error("clamped record has inconsistent txid")
	}
}

func TestLoop_stopWaitsForInProgressCycle(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	src := anchor.RootSourceFunc(func(context.Context) (tlog.TreeState, error) {
		close(entered)
		<-release
		return tlog.TreeState{Size: 1, Root: merkle.LeafHash([]byte("a"))}, nil
	})
	store := &memStore{}
	loop, tick, _ := startLoop(t, src, store)

	tick.ch <- time.Now()
	<-entered

	stopped := make(chan struct{})
	go func() {
		loop.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cycle finished")
	}

	select {
	case <-tick.stopped:
	default:
		t.Error("ticker not stopped")
	}
	recs, _ := store.List(context.Background())
	if len(recs) != 1 {
		t.Errorf("in-progress cycle should complete, got %d records", len(recs))
	}
}

func TestLoop_startTwice(t *testing.T) {
	loop, _, _ := startLoop(t, growingSource(t), &memStore{})
	defer loop.Stop()

	if err := loop.Start(context.Background()); !errors.Is(err, anchor.ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestLoop_restartAfterStop(t *testing.T) {
	store := &memStore{}
	loop, tick, outcomes := startLoop(t, growingSource(t), store)

	tick.ch <- time.Now()
	waitOutcome(t, outcomes)
	loop.Stop()
	<-tick.stopped

	second := newManualTicker()
	loop.SetTicker(second.factory)
	if err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
	second.ch <- time.Now()
	if o := waitOutcome(t, outcomes); o != anchor.OutcomeAnchored {
		t.Fatalf("outcome after restart = %s", o)
	}
	loop.Stop()

	recs, _ := store.List(context.Background())
	if len(recs) != 2 {
		t.Fatalf("expected 2 records across both runs, got %d", len(recs))
	}
	if recs[1].TimestampNanos < recs[0].TimestampNanos {
		t.Error("timestamp went backwards across restart")
	}
}

func TestLoop_stopWithoutStart(t *testing.T) {
	loop := anchor.NewLoop(growingSource(t), &memStore{}, anchor.Config{}, zap.NewNop())
	loop.Stop()
	loop.Stop()
}

func TestRemoteSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/root" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"tree_size":3,"root":"` + root3 + `"}`))
	}))
	defer srv.Close()

	src := anchor.RemoteSource(client.MustNew(srv.URL))
	state, err := src.CurrentRoot(context.Background())
	if err != nil {
		t.Fatalf("CurrentRoot: %v", err)
	}
	if state.Size != 3 || state.Root.String() != root3 {
		t.Errorf("unexpected state %+v", state)
	}
}

func TestRemoteSource_badRoot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tree_size":3,"root":"zz"}`))
	}))
	defer srv.Close()

	if _, err := anchor.RemoteSource(client.MustNew(srv.URL)).CurrentRoot(context.Background()); err == nil {
		t.Error("expected error for malformed remote root")
	}
}

func TestLocalSource(t *testing.T) {
	l, err := tlog.Open(context.Background(), tlog.NewMemoryBackend(), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Append(context.Background(), []byte("a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	state, err := anchor.LocalSource(l).CurrentRoot(context.Background())
	if err != nil {
		t.Fatalf("CurrentRoot: %v", err)
	}
	if state.Size != 1 || state.Root != merkle.LeafHash([]byte("a")) {
		t.Errorf("unexpected state %+v", state)
	}
}
