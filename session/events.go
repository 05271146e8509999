package session

// EventKind classifies out-of-band notifications from the coordinator.
type EventKind int

const (
	// EventCaptureFailed: a capture source died mid-session and the
	// coordinator force-stopped.
	EventCaptureFailed EventKind = iota
	// EventFinished: a recording finalized successfully.
	EventFinished
	// EventFinalizeFailed: stop was requested but the writer failed to
	// flush; the partial file is kept on disk.
	EventFinalizeFailed
)

func (k EventKind) String() string {
	switch k {
	case EventCaptureFailed:
		return "capture_failed"
	case EventFinished:
		return "finished"
	case EventFinalizeFailed:
		return "finalize_failed"
	default:
		return "unknown"
	}
}

// Event is pushed on the coordinator's event channel for listeners that are
// not waiting on a lifecycle call, e.g. the control surface.
type Event struct {
	Kind      EventKind
	Err       error
	Recording *Recording
}
