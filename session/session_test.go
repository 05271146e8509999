package session_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypercosmac/bubblecap/session"
)

type fakeInput struct {
	mu        sync.Mutex
	ready     bool
	completed bool
	samples   []session.Sample
}

func newFakeInput() *fakeInput {
	return &fakeInput{ready: true}
}

func (f *fakeInput) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeInput) SetReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
}

func (f *fakeInput) Append(s session.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed {
		return errors.New("input completed")
	}
	f.samples = append(f.samples, s)
	return nil
}

func (f *fakeInput) Complete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
}

func (f *fakeInput) Samples() []session.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Sample, len(f.samples))
	copy(out, f.samples)
	return out
}

type fakeWriter struct {
	video *fakeInput
	audio *fakeInput

	mu            sync.Mutex
	path          string
	finalizeErr   error
	finalizeGate  chan struct{}
	finalizeBegan chan struct{}
	finalized     bool
	discarded     bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		video:         newFakeInput(),
		audio:         newFakeInput(),
		finalizeBegan: make(chan struct{}, 1),
	}
}

func (w *fakeWriter) Video() session.Input { return w.video }
func (w *fakeWriter) Audio() session.Input { return w.audio }

func (w *fakeWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

func (w *fakeWriter) Finalize(ctx context.Context) error {
	select {
	case w.finalizeBegan <- struct{}{}:
	default:
	}
	if w.finalizeGate != nil {
		select {
		case <-w.finalizeGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	return w.finalizeErr
}

func (w *fakeWriter) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.discarded = true
	return nil
}

func (w *fakeWriter) Discarded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.discarded
}

type fakeSource struct {
	mu       sync.Mutex
	handler  session.Handler
	startErr error
	stopped  bool
}

func (f *fakeSource) Start(ctx context.Context, h session.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.handler = h
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeSource) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeSource) deliver(s session.Sample) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.HandleSample(s)
	}
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.HandleFatal(err)
	}
}

type harness struct {
	dir    string
	writer *fakeWriter
	source *fakeSource

	sourcesErr error
	writerErr  error

	mu          sync.Mutex
	writerOpens int

	c *session.Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		dir:    t.TempDir(),
		writer: newFakeWriter(),
		source: &fakeSource{},
	}

	h.c = session.NewCoordinator(ctx, session.NewCoordinatorOptions{
		RecordingsDir:  h.dir,
		StatusInterval: 10 * time.Millisecond,
		NewSources: func(ctx context.Context, opts session.StartOptions) ([]session.Source, error) {
			if h.sourcesErr != nil {
				return nil, h.sourcesErr
			}
			return []session.Source{h.source}, nil
		},
		NewWriter: func(ctx context.Context, cfg session.WriterConfig) (session.Writer, error) {
			if h.writerErr != nil {
				return nil, h.writerErr
			}
			h.mu.Lock()
			h.writerOpens++
			h.mu.Unlock()
			h.writer.mu.Lock()
			h.writer.path = cfg.Path
			h.writer.mu.Unlock()
			return h.writer, nil
		},
	})

	return h
}

func (h *harness) WriterOpens() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writerOpens
}

func videoSample(pts time.Duration) session.Sample {
	return session.Sample{Stream: session.StreamVideo, PTS: pts, Duration: 33 * time.Millisecond}
}

func audioSample(pts time.Duration) session.Sample {
	return session.Sample{Stream: session.StreamAudio, PTS: pts, Duration: 20 * time.Millisecond}
}

func TestFirstSampleEstablishesOrigin(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Start(session.StartOptions{Audio: true}))

	h.source.deliver(videoSample(1000 * time.Millisecond))
	h.source.deliver(audioSample(1005 * time.Millisecond))

	video := h.writer.video.Samples()
	audio := h.writer.audio.Samples()

	require.Len(t, video, 1)
	require.Len(t, audio, 1)

	assert.Equal(t, time.Duration(0), video[0].PTS)
	assert.Equal(t, 5*time.Millisecond, audio[0].PTS)
}

func TestAudioFirstWinsOrigin(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Start(session.StartOptions{Audio: true}))

	h.source.deliver(audioSample(2000 * time.Millisecond))
	h.source.deliver(videoSample(2012 * time.Millisecond))

	audio := h.writer.audio.Samples()
	video := h.writer.video.Samples()

	require.Len(t, audio, 1)
	require.Len(t, video, 1)

	assert.Equal(t, time.Duration(0), audio[0].PTS)
	assert.Equal(t, 12*time.Millisecond, video[0].PTS)
}

func TestPausedSamplesNeverReachSinks(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Start(session.StartOptions{Audio: true}))
	h.c.Pause()

	for i := 0; i < 10; i++ {
		h.source.deliver(videoSample(time.Duration(i) * 33 * time.Millisecond))
		h.source.deliver(audioSample(time.Duration(i) * 20 * time.Millisecond))
	}

	assert.Empty(t, h.writer.video.Samples())
	assert.Empty(t, h.writer.audio.Samples())

	h.c.Resume()
	h.source.deliver(videoSample(500 * time.Millisecond))

	assert.Len(t, h.writer.video.Samples(), 1)
}

func TestPauseExcludedFromDuration(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Start(session.StartOptions{}))

	time.Sleep(80 * time.Millisecond)
	h.c.Pause()
	time.Sleep(120 * time.Millisecond)
	h.c.Resume()
	time.Sleep(40 * time.Millisecond)

	rec, err := h.c.Stop()
	require.NoError(t, err)
	require.NotNil(t, rec)

	// 80ms + 40ms captured, 120ms paused; allow scheduler slack.
	assert.InDelta(t, 120, rec.Duration.Milliseconds(), 60)
	assert.Less(t, rec.Duration.Milliseconds(), int64(200))
}

func TestElapsedFrozenWhilePaused(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Start(session.StartOptions{}))
	h.c.Pause()

	time.Sleep(50 * time.Millisecond)
	first := h.c.Status().Elapsed
	time.Sleep(50 * time.Millisecond)
	second := h.c.Status().Elapsed

	assert.InDelta(t, first.Milliseconds(), second.Milliseconds(), 25)
}

func TestStopFromIdleIsNoop(t *testing.T) {
	h := newHarness(t)

	rec, err := h.c.Stop()

	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestInvalidTransitionsAreNoops(t *testing.T) {
	h := newHarness(t)

	h.c.Pause()
	h.c.Resume()
	assert.Equal(t, session.StateIdle, h.c.Status().State)

	require.NoError(t, h.c.Start(session.StartOptions{}))

	// Start while capturing must not open a second writer.
	require.NoError(t, h.c.Start(session.StartOptions{}))
	assert.Equal(t, 1, h.WriterOpens())

	h.c.Resume()
	require.Eventually(t, func() bool {
		return h.c.Status().State == session.StateCapturing
	}, time.Second, 10*time.Millisecond)
}

func TestBackpressureDropsAndRecovers(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Start(session.StartOptions{}))

	h.source.deliver(videoSample(1000 * time.Millisecond))
	require.Len(t, h.writer.video.Samples(), 1)

	h.writer.video.SetReady(false)
	for i := 1; i <= 5; i++ {
		h.source.deliver(videoSample(1000*time.Millisecond + time.Duration(i)*10*time.Millisecond))
	}
	assert.Len(t, h.writer.video.Samples(), 1)

	h.writer.video.SetReady(true)
	h.source.deliver(videoSample(1060 * time.Millisecond))

	video := h.writer.video.Samples()
	require.Len(t, video, 2)
	// Still rebased against the original origin, not a stale one.
	assert.Equal(t, 60*time.Millisecond, video[1].PTS)

	require.Eventually(t, func() bool {
		return h.c.Status().DroppedVideo == 5
	}, time.Second, 10*time.Millisecond)
}

func TestStartPermissionDeniedLeavesNoArtifact(t *testing.T) {
	h := newHarness(t)
	h.sourcesErr = fmt.Errorf("%w: screen capture not authorized", session.ErrPermissionDenied)

	err := h.c.Start(session.StartOptions{})

	require.ErrorIs(t, err, session.ErrPermissionDenied)
	assert.Equal(t, session.StateIdle, h.c.Status().State)
	assert.Equal(t, 0, h.WriterOpens())

	entries, rerr := os.ReadDir(h.dir)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}

func TestStartSinkInitFailure(t *testing.T) {
	h := newHarness(t)
	h.writerErr = errors.New("disk full")

	err := h.c.Start(session.StartOptions{})

	require.ErrorIs(t, err, session.ErrSinkInit)
	assert.Equal(t, session.StateIdle, h.c.Status().State)
}

func TestSourceStartFailureDiscardsWriter(t *testing.T) {
	h := newHarness(t)
	h.source.startErr = errors.New("x11grab exited")

	err := h.c.Start(session.StartOptions{})

	require.Error(t, err)
	assert.Equal(t, session.StateIdle, h.c.Status().State)
	assert.True(t, h.writer.Discarded())
}

func TestStopWhileFinalizingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.writer.finalizeGate = make(chan struct{})

	require.NoError(t, h.c.Start(session.StartOptions{}))

	type result struct {
		rec *session.Recording
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := h.c.Stop()
		done <- result{rec, err}
	}()

	<-h.writer.finalizeBegan

	rec, err := h.c.Stop()
	assert.NoError(t, err)
	assert.Nil(t, rec)

	close(h.writer.finalizeGate)

	first := <-done
	require.NoError(t, first.err)
	require.NotNil(t, first.rec)
}

func TestFinalizeFailureKeepsNoRecord(t *testing.T) {
	h := newHarness(t)
	h.writer.finalizeErr = errors.New("moov atom write failed")

	require.NoError(t, h.c.Start(session.StartOptions{}))

	rec, err := h.c.Stop()

	require.ErrorIs(t, err, session.ErrFinalize)
	assert.Nil(t, rec)
	require.Eventually(t, func() bool {
		return h.c.Status().State == session.StateIdle
	}, time.Second, 10*time.Millisecond)
}

func TestFatalSourceErrorForcesIdle(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Start(session.StartOptions{}))

	h.source.fail(errors.New("capture process died"))

	require.Eventually(t, func() bool {
		return h.c.Status().State == session.StateIdle
	}, time.Second, 10*time.Millisecond)

	select {
	case ev := <-h.c.Events():
		assert.Equal(t, session.EventCaptureFailed, ev.Kind)
		assert.Error(t, ev.Err)
	case <-time.After(time.Second):
		t.Fatal("expected capture failure event")
	}

	require.Eventually(t, h.source.Stopped, time.Second, 10*time.Millisecond)

	// Samples from the dying source are discarded, not forwarded.
	h.source.deliver(videoSample(time.Second))
	assert.Empty(t, h.writer.video.Samples())
}

func TestStopReturnsRecordAndEvent(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Start(session.StartOptions{Audio: true}))
	h.source.deliver(videoSample(100 * time.Millisecond))

	rec, err := h.c.Stop()
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, h.writer.Path(), rec.Path)
	assert.NotEmpty(t, rec.Filename)
	assert.False(t, rec.CreatedAt.IsZero())

	select {
	case ev := <-h.c.Events():
		assert.Equal(t, session.EventFinished, ev.Kind)
		require.NotNil(t, ev.Recording)
		assert.Equal(t, rec.ID, ev.Recording.ID)
	case <-time.After(time.Second):
		t.Fatal("expected finished event")
	}
}

func TestConcurrentProducers(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Start(session.StartOptions{Audio: true}))

	const n = 500
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			h.source.deliver(videoSample(time.Duration(i) * 33 * time.Millisecond))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			h.source.deliver(audioSample(time.Duration(i) * 20 * time.Millisecond))
		}
	}()

	wg.Wait()

	assert.Len(t, h.writer.video.Samples(), n)
	assert.Len(t, h.writer.audio.Samples(), n)

	// Per-stream timestamps stay monotonic through the rebase.
	last := int64(-1)
	for _, s := range h.writer.video.Samples() {
		require.GreaterOrEqual(t, int64(s.PTS), last)
		last = int64(s.PTS)
	}
}
