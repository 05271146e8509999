package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hypercosmac/bubblecap/config"
	"github.com/hypercosmac/bubblecap/session"
)

type NewWriterOptions struct {
	Path    string
	Audio   bool
	Quality config.Quality
	Capture config.CaptureOptions

	QueueSize int
	Logger    *zap.Logger
}

// Writer muxes raw capture samples into one MP4 per session. Video comes in
// on the ffmpeg process stdin, audio on fd 3; each lane has a pump goroutine
// draining its bounded queue into the pipe.
type Writer struct {
	ctx  context.Context
	log  *zap.Logger
	opts NewWriterOptions

	ffmpeg     *exec.Cmd
	videoPipe  io.WriteCloser
	audioPipe  *os.File
	audioChild *os.File

	video *Input
	audio *Input

	wg sync.WaitGroup

	mu        sync.Mutex
	finalized bool
}

// NewWriter opens the muxer process for a new session. On failure nothing is
// left on disk.
func NewWriter(ctx context.Context, opts NewWriterOptions) (*Writer, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = config.SINK_QUEUE_SIZE
	}
	if opts.Capture.Width == 0 {
		opts.Capture = config.DEFAULT_CAPTURE_OPTS
	}

	w := &Writer{
		ctx:  ctx,
		log:  opts.Logger.Named("sink"),
		opts: opts,
	}

	preset := config.PresetFor(opts.Quality)

	args := []string{
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgr0",
		"-video_size", fmt.Sprintf("%dx%d", opts.Capture.Width, opts.Capture.Height),
		"-framerate", strconv.Itoa(preset.FrameRate),
		"-i", "pipe:0",
	}

	if opts.Audio {
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(opts.Capture.SampleRate),
			"-ac", strconv.Itoa(opts.Capture.Channels),
			"-i", "pipe:3",
		)
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", preset.Preset,
		"-crf", strconv.Itoa(preset.CRF),
		"-pix_fmt", "yuv420p",
	)

	if opts.Audio {
		args = append(args, "-c:a", "aac", "-b:a", "128k", "-async", "1")
	}

	args = append(args, "-y", opts.Path)

	cmd := exec.Command("ffmpeg", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %v", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %v", err)
	}

	if opts.Audio {
		childEnd, parentEnd, perr := audioPipePair()
		if perr != nil {
			return nil, perr
		}
		cmd.ExtraFiles = []*os.File{childEnd}
		w.audioChild = childEnd
		w.audioPipe = parentEnd
	}

	if err := cmd.Start(); err != nil {
		if w.audioPipe != nil {
			w.audioPipe.Close()
			w.audioChild.Close()
		}
		os.Remove(opts.Path)
		return nil, fmt.Errorf("failed to start muxer: %v", err)
	}

	if w.audioChild != nil {
		// Parent keeps only its write end.
		w.audioChild.Close()
	}

	w.ffmpeg = cmd
	w.videoPipe = stdin

	go w.copyStderr(stderr)

	w.video = newInput(session.StreamVideo, opts.QueueSize)
	w.wg.Add(1)
	go w.pump(w.video, w.videoPipe)

	if opts.Audio {
		w.audio = newInput(session.StreamAudio, opts.QueueSize)
		w.wg.Add(1)
		go w.pump(w.audio, w.audioPipe)
	}

	w.log.Info("muxer started", zap.String("path", opts.Path), zap.Bool("audio", opts.Audio))

	return w, nil
}

func audioPipePair() (child, parent *os.File, err error) {
	r, wr, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audio pipe: %v", err)
	}
	return r, wr, nil
}

func (w *Writer) Video() session.Input { return w.video }

func (w *Writer) Audio() session.Input {
	if w.audio == nil {
		return nil
	}
	return w.audio
}

func (w *Writer) Path() string { return w.opts.Path }

// pump drains one lane's queue into its pipe until the lane completes or the
// pipe breaks. A broken pipe stops the pump; the lane's queue then fills and
// the coordinator starts dropping.
func (w *Writer) pump(in *Input, dst io.WriteCloser) {
	defer w.wg.Done()
	defer dst.Close()

	for s := range in.queue {
		if _, err := dst.Write(s.Data); err != nil {
			w.log.Error("muxer pipe write failed", zap.Stringer("stream", in.stream), zap.Error(err))
			return
		}
	}
}

func (w *Writer) copyStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		w.log.Warn("ffmpeg: " + scanner.Text())
	}
}

// Finalize completes both lanes, waits for the muxer process to flush and
// exit within the context deadline, and verifies the resulting file.
func (w *Writer) Finalize(ctx context.Context) error {
	w.mu.Lock()
	if w.finalized {
		w.mu.Unlock()
		return nil
	}
	w.finalized = true
	w.mu.Unlock()

	w.video.Complete()
	if w.audio != nil {
		w.audio.Complete()
	}

	pumpsDone := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(pumpsDone)
	}()

	select {
	case <-pumpsDone:
	case <-ctx.Done():
		w.kill()
		return fmt.Errorf("muxer pumps did not drain: %v", ctx.Err())
	}

	done := make(chan error, 1)
	go func() {
		done <- w.ffmpeg.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("muxer exited with error: %v", err)
		}
	case <-ctx.Done():
		w.log.Warn("muxer didn't exit in time, force killing")
		w.kill()
		return fmt.Errorf("muxer finalize timed out: %v", ctx.Err())
	}

	if err := w.verifyOutputFile(); err != nil {
		return fmt.Errorf("output file verification failed: %v", err)
	}

	w.log.Info("muxer finalized", zap.String("path", w.opts.Path))

	return nil
}

// Discard tears the session down and removes whatever was written. Used when
// a session fails to start; a half-open artifact must not survive.
func (w *Writer) Discard() error {
	w.video.Complete()
	if w.audio != nil {
		w.audio.Complete()
	}

	w.kill()

	if err := os.Remove(w.opts.Path); err != nil && !os.IsNotExist(err) {
		return err
	}

	w.log.Info("muxer output discarded", zap.String("path", w.opts.Path))

	return nil
}

func (w *Writer) kill() {
	if w.ffmpeg == nil || w.ffmpeg.Process == nil {
		return
	}

	if err := w.ffmpeg.Process.Kill(); err != nil {
		w.log.Debug("killing muxer", zap.Error(err))
	}

	go w.ffmpeg.Wait()
}

func (w *Writer) verifyOutputFile() error {
	info, err := os.Stat(w.opts.Path)
	if err != nil {
		return fmt.Errorf("failed to stat output file: %v", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output file is empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", w.opts.Path)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffprobe check failed: %v, output: %s", err, output)
	}

	return nil
}
