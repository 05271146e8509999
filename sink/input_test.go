package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypercosmac/bubblecap/session"
)

func TestInputBackpressure(t *testing.T) {
	in := newInput(session.StreamVideo, 2)

	require.True(t, in.Ready())
	require.NoError(t, in.Append(session.Sample{PTS: 0}))
	require.NoError(t, in.Append(session.Sample{PTS: 10 * time.Millisecond}))

	assert.False(t, in.Ready())
	assert.ErrorIs(t, in.Append(session.Sample{PTS: 20 * time.Millisecond}), ErrNotReady)

	// Draining one slot makes the lane ready again.
	<-in.queue
	assert.True(t, in.Ready())
	assert.NoError(t, in.Append(session.Sample{PTS: 20 * time.Millisecond}))
}

func TestInputRejectsRegressingTimestamps(t *testing.T) {
	in := newInput(session.StreamAudio, 4)

	require.NoError(t, in.Append(session.Sample{PTS: 100 * time.Millisecond}))

	assert.ErrorIs(t, in.Append(session.Sample{PTS: 50 * time.Millisecond}), ErrNonMonotonic)

	// Equal timestamps are allowed, only regressions are not.
	assert.NoError(t, in.Append(session.Sample{PTS: 100 * time.Millisecond}))
}

func TestInputCompleteClosesLane(t *testing.T) {
	in := newInput(session.StreamVideo, 2)

	in.Complete()
	in.Complete() // idempotent

	assert.False(t, in.Ready())
	assert.ErrorIs(t, in.Append(session.Sample{}), ErrCompleted)

	_, open := <-in.queue
	assert.False(t, open)
}
