package session

import "errors"

var (
	// ErrPermissionDenied is returned by Start when a capture source is not
	// authorized to record.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrNoCaptureTarget is returned by Start when no capturable surface
	// exists, e.g. no display is reachable.
	ErrNoCaptureTarget = errors.New("no capture target available")

	// ErrSinkInit is returned by Start when the output container cannot be
	// opened for writing.
	ErrSinkInit = errors.New("failed to open recording sink")

	// ErrFinalize is returned by Stop when the writer failed to flush and
	// close the container.
	ErrFinalize = errors.New("failed to finalize recording")
)
