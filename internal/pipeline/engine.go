// Package pipeline runs one session's four-stage analytics pipeline:
// capture -> buffer -> detect -> recognize+render. Stages are goroutines
// connected by bounded channels that carry frame ownership; a closed channel
// is the end-of-stream sentinel and propagates one hop per stage, exactly
// once per teardown.
package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"facestreamd/internal/identity"
	"facestreamd/internal/infer"
	"facestreamd/internal/pool"
	"facestreamd/internal/source"
)

// State is the engine lifecycle state.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultAcquireTimeout      = 5 * time.Second
	defaultQueueCapacity       = 30
	defaultJoinTimeout         = time.Second
	defaultAlignSize           = 112
	defaultSimilarityThreshold = 0.5
	defaultRetryDelay          = 10 * time.Millisecond
	defaultSuperviseInterval   = time.Second
)

// Config carries per-session pipeline tunables.
type Config struct {
	// AcquireTimeout bounds the wait for a pool ResourceSet at startup.
	AcquireTimeout time.Duration
	// QueueCapacity bounds every intermediate queue and the output queue.
	QueueCapacity int
	// JoinTimeout bounds how long Stop waits for stage workers to exit.
	JoinTimeout time.Duration
	// AlignSize is the aligned crop side; a multiple of 112 or 128.
	AlignSize int
	// SimilarityThreshold is the identity-match cutoff for this session.
	SimilarityThreshold float32
	// RetryDelay paces live-source read retries and full-queue drops.
	RetryDelay time.Duration
	// SuperviseInterval is the driver's stage-liveness poll period.
	SuperviseInterval time.Duration
}

// ApplyDefaults fills every unset field with its default. New applies it, but
// callers that size buffers off Config fields should apply it themselves first.
func (c *Config) ApplyDefaults() {
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = defaultAcquireTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = defaultJoinTimeout
	}
	if c.AlignSize <= 0 {
		c.AlignSize = defaultAlignSize
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = defaultSimilarityThreshold
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.SuperviseInterval <= 0 {
		c.SuperviseInterval = defaultSuperviseInterval
	}
}

// detected pairs a frame with its detections between stages 3 and 4.
type detected struct {
	frame gocv.Mat
	dets  []infer.Detection
}

// Engine drives one session's pipeline. Run is the driver body and blocks
// until teardown; Stop may be called from any goroutine and is idempotent.
type Engine struct {
	id         string
	descriptor string
	cfg        Config
	pool       *pool.Pool
	src        source.Source
	store      identity.Store
	out        chan<- []byte
	log        zerolog.Logger

	mu     sync.Mutex
	state  State
	failed bool

	set    *infer.ResourceSet
	handle source.Handle

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	live     atomic.Int32
	eof      atomic.Bool

	q1, q2 chan gocv.Mat
	q3     chan detected

	dropped   atomic.Int64
	published atomic.Int64
}

// New builds an engine bound to the session's output queue. The engine owns
// everything it acquires during Run; out is closed by stage 4 as the output
// sentinel.
func New(id, descriptor string, cfg Config, p *pool.Pool, src source.Source, store identity.Store, out chan<- []byte, log zerolog.Logger) *Engine {
	cfg.ApplyDefaults()
	return &Engine{
		id:         id,
		descriptor: descriptor,
		cfg:        cfg,
		pool:       p,
		src:        src,
		store:      store,
		out:        out,
		log:        log.With().Str("stream_id", id).Logger(),
		state:      StateCreated,
		stop:       make(chan struct{}),
		q1:         make(chan gocv.Mat, cfg.QueueCapacity),
		q2:         make(chan gocv.Mat, cfg.QueueCapacity),
		q3:         make(chan detected, cfg.QueueCapacity),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// DroppedFrames reports frames discarded under backpressure so far.
func (e *Engine) DroppedFrames() int64 { return e.dropped.Load() }

// PublishedFrames reports frames delivered to the output queue so far.
func (e *Engine) PublishedFrames() int64 { return e.published.Load() }

// Run acquires a ResourceSet and the frame source, spawns the four stage
// workers and supervises them until Stop fires or a worker dies. It always
// finishes through Stop, so the ResourceSet is returned to the pool on every
// path. Intended to run on its own driver goroutine.
func (e *Engine) Run() error {
	e.setState(StateStarting)
	e.log.Info().Str("source", e.descriptor).Msg("pipeline starting, acquiring resource set")

	set, err := e.pool.Acquire(e.cfg.AcquireTimeout)
	if err != nil {
		e.log.Error().Err(err).Msg("pipeline start failed: no resource set available")
		e.markFailed()
		e.Stop()
		return err
	}
	// Stop may have already run while Acquire was blocking; its teardown saw
	// no set, so this side must return it. The check and the assignment share
	// the mutex so exactly one side owns the set in every interleaving.
	e.mu.Lock()
	stopped := e.stopRequested()
	if !stopped {
		e.set = set
	}
	e.mu.Unlock()
	if stopped {
		e.pool.Release(set)
		e.log.Info().Msg("stopped during startup, resource set returned")
		return nil
	}

	handle, err := e.src.Open(e.descriptor)
	if err != nil {
		e.log.Error().Err(err).Msg("pipeline start failed: cannot open source")
		e.markFailed()
		e.Stop()
		return err
	}
	e.mu.Lock()
	stopped = e.stopRequested()
	if !stopped {
		e.handle = handle
	}
	e.mu.Unlock()
	if stopped {
		_ = handle.Close()
		e.mu.Lock()
		set = e.set
		e.set = nil
		e.mu.Unlock()
		if set != nil {
			e.pool.Release(set)
		}
		e.log.Info().Msg("stopped during startup, source closed")
		return nil
	}

	e.setState(StateRunning)
	e.runStage("capture", e.captureStage)
	e.runStage("buffer", e.bufferStage)
	e.runStage("detect", e.detectStage)
	e.runStage("recognize", e.recognizeStage)
	e.log.Info().Msg("pipeline running")

	ticker := time.NewTicker(e.cfg.SuperviseInterval)
	defer ticker.Stop()
supervise:
	for {
		select {
		case <-e.stop:
			break supervise
		case <-ticker.C:
			if e.live.Load() < 4 {
				if !e.eof.Load() {
					e.log.Error().Msg("stage worker terminated unexpectedly")
					e.markFailed()
				}
				break supervise
			}
		}
	}
	e.Stop()
	return nil
}

func (e *Engine) markFailed() {
	e.mu.Lock()
	e.failed = true
	e.mu.Unlock()
}

// stopRequested reports whether Stop has been signaled.
func (e *Engine) stopRequested() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// Stop signals all stages, joins them with a bounded timeout, closes the
// source, drains every queue and unconditionally returns the ResourceSet.
// A worker stuck in slow source I/O may outlive the join timeout; that is
// logged and tolerated because pool reclamation must never wait on it.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		if !e.failed {
			e.state = StateStopping
		}
		e.mu.Unlock()
		close(e.stop)

		joined := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(joined)
		}()
		select {
		case <-joined:
		case <-time.After(e.cfg.JoinTimeout):
			e.log.Warn().Msg("stage workers did not stop within join timeout, likely blocked on source I/O")
		}

		e.mu.Lock()
		handle := e.handle
		e.handle = nil
		set := e.set
		e.set = nil
		e.mu.Unlock()

		// The set goes back first: closing a handle can block on a stalled
		// read, and pool reclamation must not wait for that.
		if set != nil {
			e.pool.Release(set)
		}
		if handle != nil {
			if err := handle.Close(); err != nil {
				e.log.Warn().Err(err).Msg("source close reported an error")
			}
		}
		e.drainQueues()

		e.mu.Lock()
		if e.failed {
			e.state = StateFailed
		} else {
			e.state = StateStopped
		}
		e.mu.Unlock()
		e.log.Info().
			Int64("published", e.published.Load()).
			Int64("dropped", e.dropped.Load()).
			Msg("pipeline stopped")
	})
}

func (e *Engine) runStage(name string, fn func()) {
	e.wg.Add(1)
	e.live.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.live.Add(-1)
		fn()
		e.log.Debug().Str("stage", name).Msg("stage exited")
	}()
}

// pause sleeps d unless stop fires first; reports whether to keep running.
func (e *Engine) pause(d time.Duration) bool {
	select {
	case <-e.stop:
		return false
	case <-time.After(d):
		return true
	}
}

// captureStage reads frames at the source's native pace. The enqueue is
// non-blocking: when q1 is full the fresh frame is discarded so the reader
// is never stalled (drop-newest keeps latency flat under backpressure).
func (e *Engine) captureStage() {
	defer close(e.q1)
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		e.mu.Lock()
		handle := e.handle
		e.mu.Unlock()
		if handle == nil {
			return
		}

		frame := gocv.NewMat()
		if err := handle.Read(&frame); err != nil {
			frame.Close()
			// Only live sources get retries; a failed read on a finite
			// source is exhaustion.
			if source.IsEOF(err) || !handle.Live() {
				e.eof.Store(true)
				e.log.Info().Msg("source exhausted (EOF)")
				return
			}
			if !e.pause(e.cfg.RetryDelay) {
				return
			}
			continue
		}
		framesCaptured.Inc()

		select {
		case e.q1 <- frame:
		default:
			frame.Close()
			e.dropped.Add(1)
			framesDropped.WithLabelValues("capture").Inc()
			if !e.pause(e.cfg.RetryDelay) {
				return
			}
		}
	}
}

// bufferStage forwards frames unchanged. It decouples capture cadence from
// inference cadence and gives shutdown a checkpoint that never waits on
// source I/O.
func (e *Engine) bufferStage() {
	defer close(e.q2)
	for {
		select {
		case <-e.stop:
			return
		case frame, ok := <-e.q1:
			if !ok {
				return
			}
			select {
			case e.q2 <- frame:
			case <-e.stop:
				frame.Close()
				return
			}
		}
	}
}

// detectStage runs the detector once per frame. Per-frame inference errors
// are logged and absorbed; the stage only exits on sentinel or stop.
func (e *Engine) detectStage() {
	defer close(e.q3)
	for {
		select {
		case <-e.stop:
			return
		case frame, ok := <-e.q2:
			if !ok {
				return
			}
			e.mu.Lock()
			set := e.set
			e.mu.Unlock()
			if set == nil {
				frame.Close()
				return
			}
			dets, err := set.Detector.Detect(frame)
			if err != nil {
				inferenceErrors.WithLabelValues("detect").Inc()
				e.log.Warn().Err(err).Msg("detection failed for frame")
				frame.Close()
				continue
			}
			detectionsTotal.Add(float64(len(dets)))
			select {
			case e.q3 <- detected{frame: frame, dets: dets}:
			case <-e.stop:
				frame.Close()
				return
			}
		}
	}
}

// recognizeStage aligns, recognizes, annotates, encodes and publishes. The
// publish is non-blocking: a full output queue drops the frame so delivery
// always favors the latest frame. Closing out is the output sentinel.
func (e *Engine) recognizeStage() {
	defer close(e.out)
	for {
		select {
		case <-e.stop:
			return
		case d, ok := <-e.q3:
			if !ok {
				return
			}
			e.processFrame(d)
		}
	}
}

func (e *Engine) processFrame(d detected) {
	defer d.frame.Close()

	// Align every detection that exposes exactly five landmarks; the rest
	// are skipped for recognition.
	var crops []gocv.Mat
	var cropDets []infer.Detection
	for _, det := range d.dets {
		if len(det.Landmarks) != 5 {
			continue
		}
		crop, m, err := AlignCrop(d.frame, det.Landmarks, e.cfg.AlignSize)
		if err != nil {
			e.log.Warn().Err(err).Msg("alignment rejected detection")
			continue
		}
		m.Close()
		crops = append(crops, crop)
		cropDets = append(cropDets, det)
	}

	results := make([]Result, 0, len(cropDets))
	if len(crops) > 0 {
		e.mu.Lock()
		set := e.set
		e.mu.Unlock()
		var embeddings [][]float32
		if set != nil {
			var err error
			embeddings, err = set.Recognizer.RecognizeBatch(crops)
			if err != nil {
				inferenceErrors.WithLabelValues("recognize").Inc()
				e.log.Warn().Err(err).Msg("batch recognition failed for frame")
				embeddings = nil
			}
		}
		for i, det := range cropDets {
			res := Result{Box: det.Box}
			if embeddings != nil && i < len(embeddings) {
				if match, ok := e.store.Search(embeddings[i], e.cfg.SimilarityThreshold); ok {
					res.Name = match.Name
					res.Similarity = match.Similarity
					res.Matched = true
				}
			}
			results = append(results, res)
		}
		for i := range crops {
			crops[i].Close()
		}
	}

	annotate(&d.frame, results)
	buf, err := encodeJPEG(d.frame)
	if err != nil {
		e.log.Warn().Err(err).Msg("jpeg encode failed for frame")
		return
	}
	select {
	case e.out <- buf:
		e.published.Add(1)
		framesPublished.Inc()
	default:
		e.dropped.Add(1)
		framesDropped.WithLabelValues("output").Inc()
	}
}

// drainQueues empties every queue, closing any Mats still in flight.
func (e *Engine) drainQueues() {
	for {
		select {
		case f, ok := <-e.q1:
			if ok {
				f.Close()
				continue
			}
		default:
		}
		break
	}
	for {
		select {
		case f, ok := <-e.q2:
			if ok {
				f.Close()
				continue
			}
		default:
		}
		break
	}
	for {
		select {
		case d, ok := <-e.q3:
			if ok {
				d.frame.Close()
				continue
			}
		default:
		}
		break
	}
}

// Healthy reports whether all stage workers are still alive. The manager
// polls this instead of receiving push notifications.
func (e *Engine) Healthy() bool {
	return e.live.Load() == 4
}

// String implements fmt.Stringer for log-friendly engine identity.
func (e *Engine) String() string {
	return fmt.Sprintf("pipeline[%s]", e.id)
}
