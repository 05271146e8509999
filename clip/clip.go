package clip

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadRange = errors.New("clip range is invalid")
	ErrBadSpeed = errors.New("speed must be between 0.25x and 4x")
)

// ExportOptions describes one trim/speed export from a finished recording.
// End of zero means "to the end of the source".
type ExportOptions struct {
	Source string
	Dest   string

	Start time.Duration
	End   time.Duration
	Speed float64
}

// Export writes a trimmed, speed-adjusted copy of the source recording.
func Export(ctx context.Context, opts ExportOptions) error {
	if opts.Speed == 0 {
		opts.Speed = 1
	}
	if opts.Speed < 0.25 || opts.Speed > 4 {
		return ErrBadSpeed
	}
	if opts.Start < 0 || (opts.End != 0 && opts.End <= opts.Start) {
		return ErrBadRange
	}

	hasAudio, err := hasAudioStream(ctx, opts.Source)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", buildExportArgs(opts, hasAudio)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("export failed: %v, output: %s", err, out)
	}

	return nil
}

func buildExportArgs(opts ExportOptions, hasAudio bool) []string {
	args := []string{
		"-loglevel", "error",
		"-ss", ffmpegTime(opts.Start),
	}

	if opts.End > 0 {
		args = append(args, "-to", ffmpegTime(opts.End))
	}

	args = append(args, "-i", opts.Source)

	filter := fmt.Sprintf("[0:v]setpts=PTS/%s[v]", formatSpeed(opts.Speed))
	if hasAudio {
		filter += fmt.Sprintf(";[0:a]%s[a]", atempoChain(opts.Speed))
	}

	args = append(args, "-filter_complex", filter, "-map", "[v]")
	if hasAudio {
		args = append(args, "-map", "[a]")
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
	)

	if hasAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	}

	args = append(args, "-y", opts.Dest)

	return args
}

// atempoChain builds the audio tempo filter; a single atempo stage only
// accepts factors in [0.5, 2], so factors outside that range are split into
// two stages.
func atempoChain(speed float64) string {
	if speed >= 0.5 && speed <= 2 {
		return "atempo=" + formatSpeed(speed)
	}

	var first float64
	if speed > 2 {
		first = 2
	} else {
		first = 0.5
	}

	return fmt.Sprintf("atempo=%s,atempo=%s", formatSpeed(first), formatSpeed(speed/first))
}

func formatSpeed(speed float64) string {
	return strconv.FormatFloat(speed, 'f', -1, 64)
}

func ffmpegTime(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// hasAudioStream asks ffprobe whether the source carries audio; the export
// filter graph differs between the two cases.
func hasAudioStream(ctx context.Context, path string) (bool, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("ffprobe failed: %v", err)
	}

	return strings.TrimSpace(string(out)) != "", nil
}
