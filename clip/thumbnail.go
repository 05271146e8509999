package clip

import (
	"context"
	"fmt"
	"os/exec"
)

// Thumbnail extracts the first frame of a recording as JPEG bytes, used as
// the persisted preview image.
func Thumbnail(ctx context.Context, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-ss", "0",
		"-i", path,
		"-frames:v", "1",
		"-vf", "scale=320:-1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("thumbnail extraction failed: %v", err)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("thumbnail extraction produced no image")
	}

	return out, nil
}
