package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"facestreamd/internal/infer"
)

func newTestPool(t *testing.T, capacity int, factory infer.Factory) *Pool {
	t.Helper()
	p, err := New(capacity, factory, zerolog.Nop())
	if err != nil {
		t.Fatalf("build pool: %v", err)
	}
	return p
}

func TestInvariantAcrossAcquireRelease(t *testing.T) {
	p := newTestPool(t, 2, &infer.StubFactory{})

	check := func(available, checkedOut int) {
		t.Helper()
		s := p.Stats()
		if s.Available != available || s.CheckedOut != checkedOut {
			t.Fatalf("stats = %+v, want available=%d checkedOut=%d", s, available, checkedOut)
		}
		if s.Available+s.CheckedOut != s.Capacity {
			t.Fatalf("invariant broken: %+v", s)
		}
	}

	check(2, 0)
	a, err := p.Acquire(time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	check(1, 1)
	b, err := p.Acquire(time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	check(0, 2)

	p.Release(a)
	check(1, 1)
	p.Release(b)
	check(2, 0)
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	p := newTestPool(t, 2, &infer.StubFactory{})
	a, _ := p.Acquire(time.Second)
	b, _ := p.Acquire(time.Second)
	defer p.Release(a)
	defer p.Release(b)

	const timeout = 100 * time.Millisecond
	start := time.Now()
	_, err := p.Acquire(timeout)
	elapsed := time.Since(start)
	if err == nil {
		t.Fatalf("expected exhaustion error")
	}
	if !IsExhausted(err) {
		t.Fatalf("expected IsExhausted, got %v", err)
	}
	if elapsed < timeout {
		t.Fatalf("acquire returned after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+500*time.Millisecond {
		t.Fatalf("acquire took %v, well past the %v timeout", elapsed, timeout)
	}
}

func TestAcquireZeroTimeoutIsNonBlocking(t *testing.T) {
	p := newTestPool(t, 1, &infer.StubFactory{})
	a, err := p.Acquire(0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := p.Acquire(0); !IsExhausted(err) {
		t.Fatalf("expected immediate exhaustion, got %v", err)
	}
	p.Release(a)
}

func TestAcquireUnblocksOnRelease(t *testing.T) {
	p := newTestPool(t, 1, &infer.StubFactory{})
	a, _ := p.Acquire(time.Second)

	go func() {
		time.Sleep(50 * time.Millisecond)
		p.Release(a)
	}()
	b, err := p.Acquire(time.Second)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	p.Release(b)
}

func TestConstructionIsAllOrNothing(t *testing.T) {
	f := &infer.StubFactory{FailAfter: 1}
	p, err := New(3, f, zerolog.Nop())
	if err == nil {
		t.Fatalf("expected construction failure")
	}
	if p != nil {
		t.Fatalf("expected nil pool on failure")
	}
	if f.Reclaims() != 1 {
		t.Fatalf("partial sets were not reclaimed: %d reclaims", f.Reclaims())
	}
}

func TestDisposeIsIdempotentAndSwallowsReclaimErrors(t *testing.T) {
	f := &infer.StubFactory{ReclaimErr: errors.New("backend teardown failed")}
	p := newTestPool(t, 2, f)

	// One set checked out by a "running session"; dispose must not wait on it.
	a, _ := p.Acquire(time.Second)

	p.Dispose()
	p.Dispose()
	if f.Reclaims() != 1 {
		t.Fatalf("dispose ran reclaim %d times, want 1", f.Reclaims())
	}
	if got := p.Stats().Available; got != 0 {
		t.Fatalf("pool not drained, %d sets still available", got)
	}

	// Releasing after dispose drops the set instead of re-queuing it.
	p.Release(a)
	if got := p.Stats().Available; got != 0 {
		t.Fatalf("release after dispose re-queued a reclaimed set")
	}
}
