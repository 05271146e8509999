package session

import (
	"context"
	"time"

	"github.com/hypercosmac/bubblecap/config"
)

// Stream tags a media sample with the pipeline it belongs to.
type Stream int

const (
	StreamVideo Stream = iota
	StreamAudio
)

func (s Stream) String() string {
	switch s {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Sample is one timestamped chunk of media handed from a capture source to
// the coordinator. PTS is on the source's own clock until the coordinator
// rebases it against the session origin.
type Sample struct {
	Stream   Stream
	PTS      time.Duration
	Duration time.Duration
	Data     []byte
}

// Input is one stream lane of an output sink. Append must only be called
// while Ready reports true; Complete signals that no more data will arrive.
type Input interface {
	Ready() bool
	Append(s Sample) error
	Complete()
}

// Writer is the container being written for one session. Audio returns nil
// when the session was started without audio.
type Writer interface {
	Video() Input
	Audio() Input
	Path() string
	Finalize(ctx context.Context) error
	Discard() error
}

// Handler receives samples and fatal errors from a running capture source.
type Handler interface {
	HandleSample(s Sample)
	HandleFatal(err error)
}

// Source is a capture producer. Start begins delivering samples to the
// handler from the source's own goroutine until Stop or a fatal error.
type Source interface {
	Start(ctx context.Context, h Handler) error
	Stop() error
}

// StartOptions configures a single recording session.
type StartOptions struct {
	Audio   bool
	Webcam  bool
	Quality config.Quality
}

// WriterConfig is handed to the writer factory when a session starts.
type WriterConfig struct {
	Path    string
	Audio   bool
	Quality config.Quality
}

// Recording describes a finished recording; the store persists it.
type Recording struct {
	ID        string
	Filename  string
	Path      string
	CreatedAt time.Time
	Duration  time.Duration
	Thumbnail []byte
}
