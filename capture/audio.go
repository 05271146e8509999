package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hypercosmac/bubblecap/config"
	"github.com/hypercosmac/bubblecap/session"
)

type AudioSourceOptions struct {
	// Device is the pulse source name; empty records the default source.
	Device  string
	Capture config.CaptureOptions
	Logger  *zap.Logger
}

// AudioSource captures the pulse source through ffmpeg and delivers fixed
// 20ms chunks of interleaved s16le samples.
type AudioSource struct {
	opts AudioSourceOptions
	log  *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped atomic.Bool
}

func NewAudioSource(opts AudioSourceOptions) *AudioSource {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &AudioSource{
		opts: opts,
		log:  opts.Logger.Named("audio"),
	}
}

func (a *AudioSource) Start(ctx context.Context, h session.Handler) error {
	device := a.opts.Device
	if device == "" {
		device = "default"
	}

	cmd := exec.Command("ffmpeg",
		"-loglevel", "error",
		"-f", "pulse",
		"-i", device,
		"-f", "s16le",
		"-ar", strconv.Itoa(a.opts.Capture.SampleRate),
		"-ac", strconv.Itoa(a.opts.Capture.Channels),
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open capture pipe: %v", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start audio capture: %v", err)
	}

	a.mu.Lock()
	a.cmd = cmd
	a.mu.Unlock()

	go logStderr(a.log, stderr)
	go a.readChunks(ctx, h, stdout)

	a.log.Info("audio capture started", zap.String("device", device))

	return nil
}

func (a *AudioSource) readChunks(ctx context.Context, h session.Handler, r io.Reader) {
	// Bytes per chunk: rate * channels * 2 bytes per sample, for one
	// AUDIO_CHUNK worth of audio.
	chunkSize := a.opts.Capture.SampleRate * a.opts.Capture.Channels * 2
	chunkSize = chunkSize * int(config.AUDIO_CHUNK.Milliseconds()) / 1000

	for {
		buf := make([]byte, chunkSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			if a.stopped.Load() || ctx.Err() != nil {
				return
			}
			h.HandleFatal(fmt.Errorf("audio capture ended: %v", err))
			return
		}

		h.HandleSample(session.Sample{
			Stream:   session.StreamAudio,
			PTS:      nowPTS(),
			Duration: config.AUDIO_CHUNK,
			Data:     buf,
		})
	}
}

func (a *AudioSource) Stop() error {
	a.stopped.Store(true)

	a.mu.Lock()
	cmd := a.cmd
	a.mu.Unlock()

	return stopCapture(a.log, cmd)
}
