package sink

import (
	"errors"
	"sync"
	"time"

	"github.com/hypercosmac/bubblecap/session"
)

var (
	ErrNotReady     = errors.New("input queue full")
	ErrCompleted    = errors.New("input already completed")
	ErrNonMonotonic = errors.New("timestamp went backwards")
)

// Input is one lane of the muxer. The queue is bounded; once it is full the
// caller sees Ready() == false and is expected to drop, never block.
type Input struct {
	stream session.Stream
	queue  chan session.Sample

	mu        sync.Mutex
	completed bool
	lastPTS   time.Duration
}

func newInput(stream session.Stream, size int) *Input {
	return &Input{
		stream:  stream,
		queue:   make(chan session.Sample, size),
		lastPTS: -1,
	}
}

// Ready reports whether the lane can take another sample right now.
func (in *Input) Ready() bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.completed {
		return false
	}

	return len(in.queue) < cap(in.queue)
}

// Append enqueues one sample. Per-lane timestamps must not regress.
func (in *Input) Append(s session.Sample) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.completed {
		return ErrCompleted
	}

	if s.PTS < in.lastPTS {
		return ErrNonMonotonic
	}

	select {
	case in.queue <- s:
		in.lastPTS = s.PTS
		return nil
	default:
		return ErrNotReady
	}
}

// Complete signals that no more samples will arrive on this lane.
func (in *Input) Complete() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.completed {
		return
	}

	in.completed = true
	close(in.queue)
}
