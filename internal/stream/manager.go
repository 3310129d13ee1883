// Package stream manages the registry of running analytics sessions: it
// starts and stops pipeline engines against the shared resource pool, sweeps
// expired sessions and bridges engine output to cancellable byte-stream
// consumers.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"facestreamd/internal/identity"
	"facestreamd/internal/pipeline"
	"facestreamd/internal/pool"
	"facestreamd/internal/source"
	"facestreamd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultLifetimeMinutes  = 10
	defaultSweepInterval    = time.Minute
	defaultStartGrace       = 200 * time.Millisecond
	defaultStopJoinTimeout  = 5 * time.Second
	defaultFeedPollInterval = 20 * time.Millisecond
)

var activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "facestreamd",
	Subsystem: "stream",
	Name:      "active_sessions",
	Help:      "Sessions currently registered with a live driver",
})

func init() {
	prometheus.MustRegister(activeSessions)
}

// Config carries manager tunables; Pipeline is handed to every engine.
type Config struct {
	Pipeline pipeline.Config
	// DefaultLifetimeMinutes applies when a start request omits a
	// lifetime. -1 means sessions never expire by default.
	DefaultLifetimeMinutes int
	// SweepInterval is the expiry sweeper poll period.
	SweepInterval time.Duration
	// StartGrace is how long Start waits before probing driver liveness.
	StartGrace time.Duration
	// StopJoinTimeout bounds the wait for a driver to finish in Stop.
	StopJoinTimeout time.Duration
	// FeedPollInterval paces the feed bridge's liveness re-checks.
	FeedPollInterval time.Duration
}

func (c *Config) applyDefaults() {
	c.Pipeline.ApplyDefaults()
	if c.DefaultLifetimeMinutes == 0 {
		c.DefaultLifetimeMinutes = defaultLifetimeMinutes
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.StartGrace <= 0 {
		c.StartGrace = defaultStartGrace
	}
	if c.StopJoinTimeout <= 0 {
		c.StopJoinTimeout = defaultStopJoinTimeout
	}
	if c.FeedPollInterval <= 0 {
		c.FeedPollInterval = defaultFeedPollInterval
	}
}

// session is one registry entry. The engine mutates its own state; the
// manager only touches the entry under the registry mutex.
type session struct {
	info   types.SessionInfo
	out    chan []byte
	engine *pipeline.Engine
	done   chan struct{} // closed when the driver goroutine returns
}

func (s *session) driverAlive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Manager owns the session registry. All registry reads and mutations go
// through one mutex.
type Manager struct {
	cfg   Config
	pool  *pool.Pool
	src   source.Source
	store identity.Store
	log   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager wires the manager to its pool, frame source and identity store.
func NewManager(cfg Config, p *pool.Pool, src source.Source, store identity.Store, log zerolog.Logger) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:      cfg,
		pool:     p,
		src:      src,
		store:    store,
		log:      log.With().Str("component", "stream").Logger(),
		sessions: make(map[string]*session),
	}
}

// Start launches a session against descriptor and registers it once the
// driver survives the grace window. A driver that dies inside the window
// (pool exhausted, source unopenable) yields a busy error and no registry
// entry. lifetimeMinutes == -1 disables expiry; nil uses the default.
func (m *Manager) Start(descriptor string, lifetimeMinutes *int) (types.SessionInfo, error) {
	id := uuid.NewString()
	lifetime := m.cfg.DefaultLifetimeMinutes
	if lifetimeMinutes != nil {
		lifetime = *lifetimeMinutes
	}

	out := make(chan []byte, m.cfg.Pipeline.QueueCapacity)
	engine := pipeline.New(id, descriptor, m.cfg.Pipeline, m.pool, m.src, m.store, out, m.log)
	done := make(chan struct{})
	go func() {
		_ = engine.Run()
		close(done)
	}()

	time.Sleep(m.cfg.StartGrace)
	select {
	case <-done:
		m.log.Warn().Str("stream_id", id).Str("source", descriptor).
			Msg("driver died within grace window, rejecting session")
		return types.SessionInfo{}, busyError{id: id}
	default:
	}

	startedAt := time.Now()
	info := types.SessionInfo{
		ID:              id,
		Source:          descriptor,
		StartedAt:       startedAt,
		LifetimeMinutes: lifetime,
	}
	if lifetime != -1 {
		expires := startedAt.Add(time.Duration(lifetime) * time.Minute)
		info.ExpiresAt = &expires
	}

	m.mu.Lock()
	m.sessions[id] = &session{info: info, out: out, engine: engine, done: done}
	activeSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	m.log.Info().Str("stream_id", id).Str("source", descriptor).
		Int("lifetime_minutes", lifetime).Msg("session started")
	return info, nil
}

// Stop removes the session and shuts its engine down, joining the driver
// with a bounded timeout. It reports whether a session existed to stop.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	sess := m.sessions[id]
	delete(m.sessions, id)
	activeSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()
	if sess == nil {
		return false
	}

	sess.engine.Stop()
	select {
	case <-sess.done:
	case <-time.After(m.cfg.StopJoinTimeout):
		m.log.Warn().Str("stream_id", id).Msg("driver did not finish within stop timeout")
	}
	m.log.Info().Str("stream_id", id).Msg("session stopped")
	return true
}

// Feed returns a cancellable stream of output byte-frames for the session.
// The returned channel closes on the output sentinel or once the driver is
// dead and the output queue is drained. Canceling ctx only stops this
// consumer; the engine keeps running until Stop or expiry.
func (m *Manager) Feed(ctx context.Context, id string) (<-chan []byte, error) {
	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()
	if sess == nil {
		return nil, notFoundError{id: id}
	}

	ch := make(chan []byte)
	go func() {
		defer close(ch)
		poll := time.NewTicker(m.cfg.FeedPollInterval)
		defer poll.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-sess.out:
				if !ok {
					return
				}
				select {
				case ch <- frame:
				case <-ctx.Done():
					return
				}
			case <-poll.C:
				// The output channel stays open when the driver dies
				// before stage 4 starts; fall back to liveness.
				if !sess.driverAlive() && len(sess.out) == 0 {
					return
				}
			}
		}
	}()
	return ch, nil
}

// List returns descriptors for sessions whose driver is still alive and
// opportunistically reaps entries whose driver died without an explicit
// Stop.
func (m *Manager) List() []types.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]types.SessionInfo, 0, len(m.sessions))
	for id, sess := range m.sessions {
		if !sess.driverAlive() {
			delete(m.sessions, id)
			m.log.Debug().Str("stream_id", id).Msg("reaped dead session")
			continue
		}
		infos = append(infos, sess.info)
	}
	activeSessions.Set(float64(len(m.sessions)))
	return infos
}

// Status reports daemon occupancy for the status endpoint.
func (m *Manager) Status() types.StatusResponse {
	stats := m.pool.Stats()
	m.mu.Lock()
	active := len(m.sessions)
	m.mu.Unlock()
	return types.StatusResponse{
		PoolCapacity:   stats.Capacity,
		PoolAvailable:  stats.Available,
		ActiveSessions: active,
	}
}

// Run drives the expiry sweeper until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	now := time.Now()
	m.mu.Lock()
	var expired []string
	for id, sess := range m.sessions {
		if sess.info.ExpiresAt != nil && !now.Before(*sess.info.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()
	if len(expired) == 0 {
		return
	}
	m.log.Info().Int("count", len(expired)).Msg("stopping expired sessions")
	var wg sync.WaitGroup
	for _, id := range expired {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Stop(id)
		}(id)
	}
	wg.Wait()
}

// ShutdownAll stops every registered session concurrently and waits for all
// of them to finish.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	m.log.Info().Int("count", len(ids)).Msg("shutting down all sessions")
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Stop(id)
		}(id)
	}
	wg.Wait()
}
