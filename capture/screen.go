package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hypercosmac/bubblecap/config"
	"github.com/hypercosmac/bubblecap/session"
)

// bubbleSize is the diameter of the webcam overlay in pixels.
const bubbleSize = 240

// bubbleMargin offsets the bubble from the bottom-left corner.
const bubbleMargin = 24

type ScreenSourceOptions struct {
	Display string
	Capture config.CaptureOptions
	Preset  config.QualityPreset

	// Webcam is the v4l2 device composited as a circular bubble over the
	// screen; empty disables the overlay.
	Webcam string

	Logger *zap.Logger
}

// ScreenSource grabs the X display through ffmpeg and delivers raw BGRA
// frames, one sample per frame, stamped with the shared source clock.
type ScreenSource struct {
	opts ScreenSourceOptions
	log  *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped atomic.Bool
}

func NewScreenSource(opts ScreenSourceOptions) *ScreenSource {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &ScreenSource{
		opts: opts,
		log:  opts.Logger.Named("screen"),
	}
}

func (s *ScreenSource) Start(ctx context.Context, h session.Handler) error {
	cmd := exec.Command("ffmpeg", s.buildArgs()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open capture pipe: %v", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start screen capture: %v", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	go logStderr(s.log, stderr)
	go s.readFrames(ctx, h, stdout)

	s.log.Info("screen capture started",
		zap.String("display", s.opts.Display),
		zap.Int("framerate", s.opts.Preset.FrameRate),
		zap.String("webcam", s.opts.Webcam),
	)

	return nil
}

func (s *ScreenSource) buildArgs() []string {
	args := []string{
		"-loglevel", "error",
		"-f", "x11grab",
		"-framerate", strconv.Itoa(s.opts.Preset.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", s.opts.Capture.Width, s.opts.Capture.Height),
		"-i", s.opts.Display,
	}

	if s.opts.Webcam != "" {
		args = append(args,
			"-f", "v4l2",
			"-video_size", "320x240",
			"-i", s.opts.Webcam,
			"-filter_complex", bubbleFilter(bubbleSize, bubbleMargin),
			"-map", "[out]",
		)
	}

	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "bgr0",
		"pipe:1",
	)

	return args
}

// bubbleFilter crops the webcam feed into a circle and pins it to the
// bottom-left corner of the screen, the signature look of the recordings.
func bubbleFilter(size, margin int) string {
	return fmt.Sprintf(
		"[1:v]crop='min(iw,ih)':'min(iw,ih)',scale=%d:%d,format=rgba,"+
			"geq=r='r(X,Y)':g='g(X,Y)':b='b(X,Y)':a='if(lte(hypot(X-W/2,Y-H/2),W/2),255,0)'[bubble];"+
			"[0:v][bubble]overlay=%d:main_h-overlay_h-%d[out]",
		size, size, margin, margin,
	)
}

func (s *ScreenSource) readFrames(ctx context.Context, h session.Handler, r io.Reader) {
	frameSize := s.opts.Capture.Width * s.opts.Capture.Height * 4
	frameDur := time.Second / time.Duration(s.opts.Preset.FrameRate)

	for {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			if s.stopped.Load() || ctx.Err() != nil {
				return
			}
			h.HandleFatal(fmt.Errorf("screen capture ended: %v", err))
			return
		}

		h.HandleSample(session.Sample{
			Stream:   session.StreamVideo,
			PTS:      nowPTS(),
			Duration: frameDur,
			Data:     buf,
		})
	}
}

func (s *ScreenSource) Stop() error {
	s.stopped.Store(true)

	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	return stopCapture(s.log, cmd)
}

func logStderr(log *zap.Logger, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Warn("ffmpeg: " + scanner.Text())
	}
}

// stopCapture interrupts the capture process and falls back to a hard kill
// if it lingers.
func stopCapture(log *zap.Logger, cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		log.Debug("interrupting capture", zap.Error(err))
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		log.Warn("capture didn't exit in time, force killing")
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill capture process: %v", err)
		}
		<-done
	}

	return nil
}
