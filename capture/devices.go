package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// AudioDevice is one capturable pulse source.
type AudioDevice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListAudioDevices enumerates the pulse sources available for capture.
func ListAudioDevices(ctx context.Context) ([]AudioDevice, error) {
	if _, err := exec.LookPath("pactl"); err != nil {
		return nil, fmt.Errorf("pactl not found in PATH: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(cctx, "pactl", "list", "short", "sources").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list pulse sources: %v", err)
	}

	return parsePactlSources(string(out)), nil
}

func parsePactlSources(out string) []AudioDevice {
	devices := make([]AudioDevice, 0)

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		devices = append(devices, AudioDevice{
			ID:   fields[0],
			Name: fields[1],
		})
	}

	return devices
}
