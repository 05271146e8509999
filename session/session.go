package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hypercosmac/bubblecap/config"
	"github.com/hypercosmac/bubblecap/pkg"
)

// NewCoordinatorOptions wires the coordinator to its collaborators. The
// factories let the capture and sink implementations be swapped out in
// tests.
type NewCoordinatorOptions struct {
	RecordingsDir string
	Logger        *zap.Logger

	StatusInterval  time.Duration
	FinalizeTimeout time.Duration

	NewSources func(ctx context.Context, opts StartOptions) ([]Source, error)
	NewWriter  func(ctx context.Context, cfg WriterConfig) (Writer, error)

	// Thumbnail extracts a preview image from a finalized recording.
	// Optional; failures are logged, never fatal.
	Thumbnail func(ctx context.Context, path string) ([]byte, error)
}

// Coordinator owns the recording lifecycle for the one session this process
// may have active. Capture sources deliver samples concurrently through
// HandleSample; one mutex guards all session state, and the per-stream drop
// counters are atomics so a drop recorded outside the lock is never lost.
type Coordinator struct {
	ctx  context.Context
	log  *zap.Logger
	opts NewCoordinatorOptions

	mu          sync.Mutex
	state       State
	sessionID   string
	createdAt   time.Time
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	originSet   bool
	origin      time.Duration
	writer      Writer
	sources     []Source
	lastErr     error

	droppedVideo atomic.Uint64
	droppedAudio atomic.Uint64

	status atomic.Pointer[Status]
	events chan Event
}

// NewCoordinator creates the process-wide session coordinator and starts its
// status publisher.
func NewCoordinator(ctx context.Context, opts NewCoordinatorOptions) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = config.STATUS_INTERVAL
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = config.FINALIZE_TIMEOUT
	}

	c := &Coordinator{
		ctx:    ctx,
		log:    opts.Logger.Named("session"),
		opts:   opts,
		events: make(chan Event, 8),
	}

	go c.statusLoop(opts.StatusInterval)

	return c
}

// Events returns the out-of-band notification channel. Publishing never
// blocks; a listener that falls behind loses events.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Start opens a new session. Calling it in any state other than idle is a
// no-op, matching the toggle idiom of the control surface. On failure the
// coordinator stays idle and no output artifact remains on disk.
func (c *Coordinator) Start(opts StartOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		c.log.Debug("start ignored", zap.Stringer("state", c.state))
		return nil
	}

	if err := pkg.CreateDirectory(c.opts.RecordingsDir); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkInit, err)
	}

	now := time.Now()
	filename := pkg.RecordingFilename(now)

	sources, err := c.opts.NewSources(c.ctx, opts)
	if err != nil {
		c.lastErr = err
		return err
	}

	writer, err := c.opts.NewWriter(c.ctx, WriterConfig{
		Path:    filepath.Join(c.opts.RecordingsDir, filename),
		Audio:   opts.Audio,
		Quality: opts.Quality,
	})
	if err != nil {
		c.lastErr = err
		return fmt.Errorf("%w: %v", ErrSinkInit, err)
	}

	for i, src := range sources {
		if err := src.Start(c.ctx, c); err != nil {
			for _, started := range sources[:i] {
				if serr := started.Stop(); serr != nil {
					c.log.Warn("stopping source after failed start", zap.Error(serr))
				}
			}
			if derr := writer.Discard(); derr != nil {
				c.log.Warn("discarding writer after failed start", zap.Error(derr))
			}
			c.lastErr = err
			return err
		}
	}

	c.sessionID = uuid.New().String()
	c.createdAt = now
	c.startedAt = now
	c.pausedTotal = 0
	c.originSet = false
	c.origin = 0
	c.writer = writer
	c.sources = sources
	c.lastErr = nil
	c.droppedVideo.Store(0)
	c.droppedAudio.Store(0)
	c.state = StateCapturing

	c.log.Info("recording started",
		zap.String("id", c.sessionID),
		zap.String("path", writer.Path()),
		zap.Bool("audio", opts.Audio),
		zap.Bool("webcam", opts.Webcam),
		zap.String("quality", string(opts.Quality)),
	)

	return nil
}

// HandleSample is the capture sources' entry point; safe for concurrent use
// by the video and audio producers.
func (c *Coordinator) HandleSample(s Sample) {
	c.Ingest(s)
}

// Ingest rebases one sample onto the session clock and forwards it to its
// sink lane. Samples arriving outside the capturing state are discarded;
// samples hitting sink backpressure are dropped and counted, never buffered.
func (c *Coordinator) Ingest(s Sample) {
	c.mu.Lock()

	if c.state != StateCapturing {
		c.mu.Unlock()
		return
	}

	// First sample after start establishes t=0, whichever stream wins.
	if !c.originSet {
		c.originSet = true
		c.origin = s.PTS
	}

	in := c.inputLocked(s.Stream)
	if in == nil {
		c.mu.Unlock()
		return
	}

	if !in.Ready() {
		c.mu.Unlock()
		c.countDrop(s.Stream)
		return
	}

	s.PTS -= c.origin
	c.mu.Unlock()

	// Each stream is delivered by a single producer goroutine, so appending
	// outside the lock keeps per-stream order intact.
	if err := in.Append(s); err != nil {
		c.countDrop(s.Stream)
		c.log.Debug("sample append rejected", zap.Stringer("stream", s.Stream), zap.Error(err))
	}
}

// Pause freezes the elapsed readout and starts dropping samples. No-op
// unless capturing. Sinks stay open; sources keep producing.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCapturing {
		return
	}

	c.pausedAt = time.Now()
	c.state = StatePaused
	c.log.Info("recording paused", zap.String("id", c.sessionID))
}

// Resume folds the pause interval into the accumulated pause total and
// continues capturing. No-op unless paused.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		return
	}

	c.pausedTotal += time.Since(c.pausedAt)
	c.state = StateCapturing
	c.log.Info("recording resumed",
		zap.String("id", c.sessionID),
		zap.Duration("paused_total", c.pausedTotal),
	)
}

// Stop finalizes the session and returns the finished recording. Calling it
// while idle or already finalizing is a no-op returning no record. On
// finalize failure the partial file is kept on disk for recovery and
// ErrFinalize is returned.
func (c *Coordinator) Stop() (*Recording, error) {
	c.mu.Lock()

	if c.state != StateCapturing && c.state != StatePaused {
		c.mu.Unlock()
		return nil, nil
	}

	now := time.Now()
	if c.state == StatePaused {
		c.pausedTotal += now.Sub(c.pausedAt)
	}
	c.state = StateFinalizing

	id := c.sessionID
	createdAt := c.createdAt
	duration := now.Sub(c.startedAt) - c.pausedTotal
	writer := c.writer
	sources := c.sources

	c.mu.Unlock()

	c.log.Info("finalizing recording", zap.String("id", id), zap.Duration("duration", duration))

	c.shutdownCapture(sources, writer)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.opts.FinalizeTimeout)
	defer cancel()

	ferr := writer.Finalize(ctx)

	c.mu.Lock()
	c.resetLocked()
	if ferr != nil {
		c.lastErr = ferr
	}
	c.mu.Unlock()

	if ferr != nil {
		// Policy: keep the partial file on disk rather than delete it; it
		// may still be playable up to the last flushed fragment.
		c.log.Error("finalize failed, keeping partial file",
			zap.String("id", id),
			zap.String("path", writer.Path()),
			zap.Error(ferr),
		)
		c.publish(Event{Kind: EventFinalizeFailed, Err: ferr})
		return nil, fmt.Errorf("%w: %v", ErrFinalize, ferr)
	}

	rec := &Recording{
		ID:        id,
		Filename:  filepath.Base(writer.Path()),
		Path:      writer.Path(),
		CreatedAt: createdAt,
		Duration:  duration,
	}

	if c.opts.Thumbnail != nil {
		tctx, tcancel := context.WithTimeout(context.WithoutCancel(c.ctx), 5*time.Second)
		thumb, terr := c.opts.Thumbnail(tctx, rec.Path)
		tcancel()
		if terr != nil {
			c.log.Warn("thumbnail generation failed", zap.String("id", id), zap.Error(terr))
		} else {
			rec.Thumbnail = thumb
		}
	}

	c.log.Info("recording finished",
		zap.String("id", id),
		zap.String("path", rec.Path),
		zap.Duration("duration", rec.Duration),
		zap.Uint64("dropped_video", c.droppedVideo.Load()),
		zap.Uint64("dropped_audio", c.droppedAudio.Load()),
	)

	c.publish(Event{Kind: EventFinished, Recording: rec})

	return rec, nil
}

// HandleFatal is called by a capture source when it dies mid-session. The
// coordinator force-stops straight to idle, keeps whatever partial file the
// writer managed to flush, and notifies listeners out-of-band.
func (c *Coordinator) HandleFatal(err error) {
	c.mu.Lock()

	if c.state != StateCapturing && c.state != StatePaused {
		c.mu.Unlock()
		return
	}

	id := c.sessionID
	writer := c.writer
	sources := c.sources
	c.lastErr = err
	c.resetLocked()
	c.mu.Unlock()

	c.log.Error("capture source failed, force stopping", zap.String("id", id), zap.Error(err))

	go func() {
		c.shutdownCapture(sources, writer)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.opts.FinalizeTimeout)
		defer cancel()

		if ferr := writer.Finalize(ctx); ferr != nil {
			c.log.Warn("best-effort finalize after capture failure",
				zap.String("path", writer.Path()),
				zap.Error(ferr),
			)
		}
	}()

	c.publish(Event{Kind: EventCaptureFailed, Err: err})
}

// shutdownCapture stops the producers and tells both sink lanes that no more
// data will arrive.
func (c *Coordinator) shutdownCapture(sources []Source, writer Writer) {
	for _, src := range sources {
		if err := src.Stop(); err != nil {
			c.log.Warn("stopping capture source", zap.Error(err))
		}
	}

	if in := writer.Video(); in != nil {
		in.Complete()
	}
	if in := writer.Audio(); in != nil {
		in.Complete()
	}
}

func (c *Coordinator) resetLocked() {
	c.state = StateIdle
	c.writer = nil
	c.sources = nil
	c.originSet = false
	c.origin = 0
}

func (c *Coordinator) inputLocked(stream Stream) Input {
	if c.writer == nil {
		return nil
	}
	if stream == StreamAudio {
		return c.writer.Audio()
	}
	return c.writer.Video()
}

func (c *Coordinator) countDrop(stream Stream) {
	if stream == StreamAudio {
		c.droppedAudio.Add(1)
		return
	}
	c.droppedVideo.Add(1)
}

// elapsedLocked reports capture time excluding pauses; frozen while paused.
func (c *Coordinator) elapsedLocked(now time.Time) time.Duration {
	if c.state == StateIdle {
		return 0
	}

	paused := c.pausedTotal
	if c.state == StatePaused {
		paused += now.Sub(c.pausedAt)
	}

	return now.Sub(c.startedAt) - paused
}

func (c *Coordinator) publish(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Warn("event listener behind, dropping event", zap.Stringer("kind", e.Kind))
	}
}
