package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/sqlreplay/internal/domain"
	"github.com/bft-labs/sqlreplay/internal/ports"
	"github.com/bft-labs/sqlreplay/internal/replay"
)

// stepClock advances one millisecond per reading and never sleeps.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

// backend is a fake database shared by every connection dialed to it.
type backend struct {
	mu      sync.Mutex
	execs   int
	failAt  map[int]bool
	dials   int
	durable []string
}

type fakeConn struct {
	b       *backend
	pending []string
}

func (b *backend) dial(context.Context) (ports.SessionConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	return &fakeConn{b: b}, nil
}

func (c *fakeConn) Execute(_ context.Context, stmt string) (int64, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.execs++
	if c.b.failAt[c.b.execs] {
		return 0, &domain.ConnectionError{Op: "exec", Err: io.ErrUnexpectedEOF}
	}
	c.pending = append(c.pending, stmt)
	return 1, nil
}

func (c *fakeConn) Commit(context.Context) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.durable = append(c.b.durable, c.pending...)
	c.pending = nil
	return nil
}

func (c *fakeConn) Close() error {
	c.pending = nil
	return nil
}

type memSink struct {
	mu      sync.Mutex
	samples []domain.LatencySample
}

func (s *memSink) Write(samples []domain.LatencySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
	return nil
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) OnStateChange(_ string, _, current State, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, current)
}

// insertTrace builds n START/INSERT/COMMIT transactions.
func insertTrace(n int) domain.Trace {
	var tr domain.Trace
	for i := 0; i < n; i++ {
		tr.Entries = append(tr.Entries,
			domain.Entry{Kind: domain.KindBegin, Statement: "START"},
			domain.Entry{Kind: domain.KindStatement, Statement: "INSERT " + string(rune('a'+i)), OffsetMicros: 10},
			domain.Entry{Kind: domain.KindCommit, Statement: "COMMIT", OffsetMicros: 10},
		)
	}
	return tr
}

func TestRunSession(t *testing.T) {
	b := &backend{}
	out := &memSink{}

	res, err := RunSession(context.Background(), insertTrace(3), b.dial, SessionOptions{
		Name:   "s1",
		Sink:   out,
		Engine: []replay.Option{replay.WithClock(&stepClock{})},
	})
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if len(res.Samples) != 3 || res.Written != 3 || len(out.samples) != 3 {
		t.Errorf("samples/written/sink = %d/%d/%d, want 3/3/3", len(res.Samples), res.Written, len(out.samples))
	}
	if res.State != StateFinished {
		t.Errorf("State = %v, want Finished", res.State)
	}
	if res.Processed != 9 {
		t.Errorf("Processed = %d, want 9", res.Processed)
	}
}

func TestRunSession_ReconnectResumesAfterLastCommit(t *testing.T) {
	// The third INSERT loses the connection.
	b := &backend{failAt: map[int]bool{3: true}}
	out := &memSink{}
	states := &stateRecorder{}

	res, err := RunSession(context.Background(), insertTrace(4), b.dial, SessionOptions{
		Name:             "s1",
		Reconnects:       1,
		ReconnectBackoff: time.Millisecond,
		Sink:             out,
		Engine:           []replay.Option{replay.WithClock(&stepClock{})},
		Emitter:          states,
	})
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if res.Reconnects != 1 || b.dials != 2 {
		t.Errorf("reconnects/dials = %d/%d, want 1/2", res.Reconnects, b.dials)
	}
	if len(res.Samples) != 4 || len(out.samples) != 4 {
		t.Errorf("samples/sink = %d/%d, want 4/4", len(res.Samples), len(out.samples))
	}
	want := []string{"INSERT a", "INSERT b", "INSERT c", "INSERT d"}
	if len(b.durable) != len(want) {
		t.Fatalf("durable = %v, want %v", b.durable, want)
	}
	for i := range want {
		if b.durable[i] != want[i] {
			t.Errorf("durable[%d] = %q, want %q", i, b.durable[i], want[i])
		}
	}
	// 7 entries before the failure, then 6 from the resume point.
	if res.Processed != 13 {
		t.Errorf("Processed = %d, want 13", res.Processed)
	}

	wantStates := []State{StateDialing, StateReplaying, StateReconnecting, StateDialing, StateReplaying, StateFinished}
	if len(states.states) != len(wantStates) {
		t.Fatalf("states = %v, want %v", states.states, wantStates)
	}
	for i := range wantStates {
		if states.states[i] != wantStates[i] {
			t.Errorf("states[%d] = %v, want %v", i, states.states[i], wantStates[i])
		}
	}
}

func TestRunSession_FatalWithoutReconnectsKeepsPartialSamples(t *testing.T) {
	b := &backend{failAt: map[int]bool{3: true}}
	out := &memSink{}

	res, err := RunSession(context.Background(), insertTrace(4), b.dial, SessionOptions{
		Sink:   out,
		Engine: []replay.Option{replay.WithClock(&stepClock{})},
	})
	var ce *domain.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *domain.ConnectionError", err)
	}
	if len(res.Samples) != 2 || len(out.samples) != 2 {
		t.Errorf("samples/sink = %d/%d, want 2/2", len(res.Samples), len(out.samples))
	}
	if res.State != StateFailed {
		t.Errorf("State = %v, want Failed", res.State)
	}
}

func TestRunSession_DialFailure(t *testing.T) {
	dialErr := &domain.ConnectionError{Op: "connect", Err: errors.New("refused")}
	res, err := RunSession(context.Background(), insertTrace(1),
		func(context.Context) (ports.SessionConn, error) { return nil, dialErr },
		SessionOptions{Reconnects: 3},
	)
	if !errors.Is(err, dialErr) {
		t.Errorf("error = %v, want %v", err, dialErr)
	}
	if res.State != StateFailed {
		t.Errorf("State = %v, want Failed", res.State)
	}
}

func TestRunSession_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := &backend{}
	res, err := RunSession(ctx, insertTrace(2), b.dial, SessionOptions{Reconnects: 5})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if res.Reconnects != 0 {
		t.Errorf("Reconnects = %d, want 0", res.Reconnects)
	}
}
