package pkg

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// HandleSignal listens for termination signals and returns the channel they
// are delivered on.
func HandleSignal() chan os.Signal {
	signalChan := make(chan os.Signal, 20)
	signal.Notify(
		signalChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,
	)

	return signalChan
}

// CreateDirectory creates the directory if it does not exist yet.
func CreateDirectory(path string) error {
	return os.MkdirAll(path, 0o755)
}

// RecordingFilename derives the deterministic output name for a recording
// started at the given time.
func RecordingFilename(t time.Time) string {
	return fmt.Sprintf("recording_%s.mp4", t.Format("20060102_150405"))
}
