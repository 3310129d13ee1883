package stream

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"facestreamd/internal/identity"
	"facestreamd/internal/infer"
	"facestreamd/internal/pipeline"
	"facestreamd/internal/pool"
	"facestreamd/internal/source"
)

func newTestManager(t *testing.T, capacity int, src source.Source) (*Manager, *pool.Pool) {
	t.Helper()
	p, err := pool.New(capacity, &infer.StubFactory{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(p.Dispose)
	cfg := Config{
		Pipeline: pipeline.Config{
			AcquireTimeout:    50 * time.Millisecond,
			JoinTimeout:       time.Second,
			RetryDelay:        time.Millisecond,
			SuperviseInterval: 20 * time.Millisecond,
		},
		StartGrace:       150 * time.Millisecond,
		StopJoinTimeout:  2 * time.Second,
		SweepInterval:    time.Hour, // tests drive the sweeper explicitly
		FeedPollInterval: 10 * time.Millisecond,
	}
	m := NewManager(cfg, p, src, identity.NewMemoryStore(), zerolog.Nop())
	t.Cleanup(m.ShutdownAll)
	return m, p
}

func TestStartRejectsWhenPoolBusy(t *testing.T) {
	src := &source.StubSource{LiveStream: true}
	m, _ := newTestManager(t, 1, src)

	first, err := m.Start("0", nil)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer m.Stop(first.ID)

	_, err = m.Start("1", nil)
	if !IsBusy(err) {
		t.Fatalf("second start: got %v, want busy", err)
	}
	if got := len(m.List()); got != 1 {
		t.Fatalf("registry has %d sessions, want 1", got)
	}
}

func TestStartRejectsUnopenableSource(t *testing.T) {
	src := &source.StubSource{OpenErr: source.ErrEOF}
	m, p := newTestManager(t, 1, src)

	if _, err := m.Start("missing.mp4", nil); !IsBusy(err) {
		t.Fatalf("got %v, want busy", err)
	}
	if got := p.Stats().Available; got != 1 {
		t.Fatalf("failed start leaked a resource set, available = %d", got)
	}
}

func TestLifetimeControlsExpiry(t *testing.T) {
	src := &source.StubSource{LiveStream: true}
	m, _ := newTestManager(t, 2, src)

	forever := -1
	info, err := m.Start("0", &forever)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if info.ExpiresAt != nil {
		t.Fatalf("lifetime -1 must not set an expiry, got %v", info.ExpiresAt)
	}

	bounded, err := m.Start("1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if bounded.ExpiresAt == nil {
		t.Fatalf("default lifetime must set an expiry")
	}
	want := bounded.StartedAt.Add(time.Duration(bounded.LifetimeMinutes) * time.Minute)
	if !bounded.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", bounded.ExpiresAt, want)
	}
}

func TestSweeperStopsExpiredSessions(t *testing.T) {
	src := &source.StubSource{LiveStream: true}
	m, p := newTestManager(t, 1, src)

	immediate := 0
	info, err := m.Start("0", &immediate)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if info.ExpiresAt == nil {
		t.Fatalf("zero lifetime must expire immediately")
	}

	m.sweepExpired()
	if got := len(m.List()); got != 0 {
		t.Fatalf("expired session survived the sweep, %d registered", got)
	}
	if got := p.Stats().Available; got != 1 {
		t.Fatalf("swept session kept its resource set, available = %d", got)
	}
}

func TestStopUnknownSession(t *testing.T) {
	m, _ := newTestManager(t, 1, &source.StubSource{LiveStream: true})
	if m.Stop("no-such-session") {
		t.Fatalf("stopping an unknown session reported true")
	}
}

func TestFeedDeliversFramesAndClosesAfterEOF(t *testing.T) {
	src := &source.StubSource{FrameCount: 3, Width: 64, Height: 64}
	m, _ := newTestManager(t, 1, src)

	info, err := m.Start("clip.mp4", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	feed, err := m.Feed(context.Background(), info.ID)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}

	var frames int
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-feed:
			if !ok {
				if frames != 3 {
					t.Fatalf("feed delivered %d frames, want 3", frames)
				}
				return
			}
			frames++
		case <-deadline:
			t.Fatalf("feed never closed after source EOF, got %d frames", frames)
		}
	}
}

func TestFeedCancelLeavesSessionRunning(t *testing.T) {
	src := &source.StubSource{LiveStream: true, Width: 64, Height: 64}
	m, _ := newTestManager(t, 1, src)

	info, err := m.Start("0", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	feed, err := m.Feed(ctx, info.ID)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}

	// Consume a little, then walk away.
	select {
	case <-feed:
	case <-time.After(2 * time.Second):
		t.Fatalf("feed produced nothing")
	}
	cancel()

	select {
	case _, ok := <-feed:
		if ok {
			// A frame raced the cancel; the close must still follow.
			select {
			case _, ok = <-feed:
				if ok {
					t.Fatalf("feed stayed open after cancel")
				}
			case <-time.After(time.Second):
				t.Fatalf("feed did not close after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("feed did not close after cancel")
	}

	if got := len(m.List()); got != 1 {
		t.Fatalf("consumer cancel killed the session, %d registered", got)
	}
	if !m.Stop(info.ID) {
		t.Fatalf("session vanished before explicit stop")
	}
}

func TestFeedUnknownSession(t *testing.T) {
	m, _ := newTestManager(t, 1, &source.StubSource{LiveStream: true})
	if _, err := m.Feed(context.Background(), "no-such-session"); !IsNotFound(err) {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestShutdownAllEmptiesRegistry(t *testing.T) {
	src := &source.StubSource{LiveStream: true}
	m, p := newTestManager(t, 2, src)

	for i := 0; i < 2; i++ {
		if _, err := m.Start("0", nil); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}
	m.ShutdownAll()
	if got := len(m.List()); got != 0 {
		t.Fatalf("%d sessions survived shutdown", got)
	}
	if got := p.Stats().Available; got != 2 {
		t.Fatalf("available = %d after shutdown, want 2", got)
	}
}
