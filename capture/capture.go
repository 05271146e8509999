package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/hypercosmac/bubblecap/config"
	"github.com/hypercosmac/bubblecap/session"
)

// FactoryOptions holds the process-wide capture configuration; per-session
// choices (audio on/off, webcam bubble, quality) come from StartOptions.
type FactoryOptions struct {
	Display      string
	AudioDevice  string
	WebcamDevice string
	Capture      config.CaptureOptions
	Logger       *zap.Logger
}

// Factory returns the source constructor the session coordinator calls on
// every Start. It preflights the capture environment so start failures are
// reported before anything touches the disk.
func Factory(opts FactoryOptions) func(ctx context.Context, so session.StartOptions) ([]session.Source, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Capture.Width == 0 {
		opts.Capture = config.DEFAULT_CAPTURE_OPTS
	}

	return func(ctx context.Context, so session.StartOptions) ([]session.Source, error) {
		display := opts.Display
		if display == "" {
			display = os.Getenv("DISPLAY")
		}

		if err := Preflight(ctx, display); err != nil {
			return nil, err
		}

		preset := config.PresetFor(so.Quality)

		webcam := ""
		if so.Webcam {
			webcam = opts.WebcamDevice
			if webcam == "" {
				webcam = "/dev/video0"
			}
		}

		sources := []session.Source{
			NewScreenSource(ScreenSourceOptions{
				Display: display,
				Capture: opts.Capture,
				Preset:  preset,
				Webcam:  webcam,
				Logger:  opts.Logger,
			}),
		}

		if so.Audio {
			sources = append(sources, NewAudioSource(AudioSourceOptions{
				Device:  opts.AudioDevice,
				Capture: opts.Capture,
				Logger:  opts.Logger,
			}))
		}

		return sources, nil
	}
}

// Preflight verifies a capturable display exists and that the X server will
// talk to us.
func Preflight(ctx context.Context, display string) error {
	if display == "" {
		return fmt.Errorf("%w: DISPLAY is not set", session.ErrNoCaptureTarget)
	}

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %v", err)
	}

	if _, err := exec.LookPath("xdpyinfo"); err == nil {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		cmd := exec.CommandContext(cctx, "xdpyinfo", "-display", display)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%w: display %s refused connection: %s", session.ErrPermissionDenied, display, out)
		}
	}

	return nil
}

// nowPTS is the shared source clock; both producers stamp samples off the
// same wall clock so first-sample-wins rebasing is meaningful.
func nowPTS() time.Duration {
	return time.Duration(time.Now().UnixNano())
}
