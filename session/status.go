package session

import (
	"time"
)

// State is the lifecycle phase of the coordinator.
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StatePaused
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StatePaused:
		return "paused"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Status is the observable snapshot published for the control surface. It is
// refreshed on a fixed interval so readers never contend with the ingest
// path.
type Status struct {
	State        State
	Elapsed      time.Duration
	DroppedVideo uint64
	DroppedAudio uint64
	LastError    string
}

// statusLoop republishes the snapshot until the coordinator context ends.
func (c *Coordinator) statusLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			s := c.snapshot()
			c.status.Store(&s)
		}
	}
}

// Status returns the last published snapshot; before the first publish it
// computes one directly.
func (c *Coordinator) Status() Status {
	if s := c.status.Load(); s != nil {
		return *s
	}
	return c.snapshot()
}

func (c *Coordinator) snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		State:        c.state,
		Elapsed:      c.elapsedLocked(time.Now()),
		DroppedVideo: c.droppedVideo.Load(),
		DroppedAudio: c.droppedAudio.Load(),
	}

	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}

	return s
}
