// Package pool implements the fixed-capacity pool of inference ResourceSets
// shared by all sessions. Sets are checked out exclusively, returned on
// session teardown, and forcibly reclaimed through the backend factory at
// disposal.
package pool

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"facestreamd/internal/infer"
)

type exhaustedError struct{ timeout time.Duration }

func (e exhaustedError) Error() string {
	return "resource pool exhausted: no set became available within " + e.timeout.String()
}

// IsExhausted reports whether err means an acquire timed out with no free
// ResourceSet. The HTTP layer maps this to 503.
func IsExhausted(err error) bool {
	_, ok := err.(exhaustedError)
	return ok
}

// Stats is a point-in-time view of pool occupancy.
// CheckedOut + Available == Capacity holds at every instant.
type Stats struct {
	Capacity   int
	Available  int
	CheckedOut int
}

// Pool holds a fixed number of ResourceSets built once at construction.
type Pool struct {
	capacity  int
	factory   infer.Factory
	log       zerolog.Logger
	available chan *infer.ResourceSet
	disposed  atomic.Bool
	disposing atomic.Bool
}

// New synchronously builds capacity ResourceSets via factory. Construction
// is all-or-nothing: on any build failure the partially built handles are
// force-reclaimed and the error is returned.
func New(capacity int, factory infer.Factory, log zerolog.Logger) (*Pool, error) {
	p := &Pool{
		capacity:  capacity,
		factory:   factory,
		log:       log.With().Str("component", "pool").Logger(),
		available: make(chan *infer.ResourceSet, capacity),
	}
	for i := 0; i < capacity; i++ {
		set, err := factory.NewResourceSet()
		if err != nil {
			p.log.Error().Err(err).Int("built", i).Int("capacity", capacity).
				Msg("pool construction failed, reclaiming partial sets")
			if rerr := factory.ForceReclaim(); rerr != nil {
				p.log.Warn().Err(rerr).Msg("reclaim of partial pool reported an error")
			}
			return nil, err
		}
		p.available <- set
	}
	p.log.Info().Int("capacity", capacity).Msg("resource pool ready")
	return p, nil
}

// Acquire blocks up to timeout for a free ResourceSet. A non-positive
// timeout makes a single non-blocking attempt.
func (p *Pool) Acquire(timeout time.Duration) (*infer.ResourceSet, error) {
	if timeout <= 0 {
		select {
		case set := <-p.available:
			return set, nil
		default:
			return nil, exhaustedError{timeout: timeout}
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case set := <-p.available:
		return set, nil
	case <-timer.C:
		return nil, exhaustedError{timeout: timeout}
	}
}

// Release returns a previously acquired set. Callers must only release sets
// they acquired from this pool; the channel bound catches gross misuse but
// cannot detect a foreign set. After disposal the set's handles are already
// reclaimed, so it is dropped instead of re-queued.
func (p *Pool) Release(set *infer.ResourceSet) {
	if set == nil {
		return
	}
	if p.disposed.Load() || p.disposing.Load() {
		p.log.Debug().Msg("release after dispose, dropping reclaimed set")
		return
	}
	select {
	case p.available <- set:
	default:
		p.log.Error().Msg("release with full pool: set was not acquired here")
	}
}

// Dispose forcibly reclaims every handle the factory produced, including
// sets currently checked out, then drains the pool. Idempotent and
// best-effort: reclaim errors are logged and swallowed, and in-flight
// inference on reclaimed handles is expected to fail afterwards.
func (p *Pool) Dispose() {
	if !p.disposing.CompareAndSwap(false, true) {
		return
	}
	p.log.Warn().Msg("disposing resource pool, forcing backend reclaim")
	if err := p.factory.ForceReclaim(); err != nil {
		p.log.Warn().Err(err).Msg("forced reclaim reported an error (expected during teardown)")
	}
	for {
		select {
		case <-p.available:
		default:
			p.disposed.Store(true)
			p.log.Info().Msg("resource pool disposed")
			return
		}
	}
}

// Stats reports current occupancy.
func (p *Pool) Stats() Stats {
	avail := len(p.available)
	return Stats{Capacity: p.capacity, Available: avail, CheckedOut: p.capacity - avail}
}
