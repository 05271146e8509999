package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypercosmac/bubblecap/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.NewStore(filepath.Join(t.TempDir(), "recordings.db"), nil)
	require.NoError(t, err)

	return s
}

func record(id string, createdAt time.Time) *store.Recording {
	return &store.Recording{
		ID:         id,
		Filename:   id + ".mp4",
		Path:       "/recordings/" + id + ".mp4",
		CreatedAt:  createdAt,
		DurationMs: 4000,
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newStore(t)

	base := time.Now()
	require.NoError(t, s.Add(record("older", base.Add(-time.Hour))))
	require.NoError(t, s.Add(record("newest", base)))
	require.NoError(t, s.Add(record("middle", base.Add(-time.Minute))))

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "newest", recs[0].ID)
	assert.Equal(t, "middle", recs[1].ID)
	assert.Equal(t, "older", recs[2].ID)
}

func TestGetAndRemove(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Add(record("rec1", time.Now())))

	rec, err := s.Get("rec1")
	require.NoError(t, err)
	assert.Equal(t, "rec1.mp4", rec.Filename)

	require.NoError(t, s.Remove("rec1"))

	_, err = s.Get("rec1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.Remove("rec1"), store.ErrNotFound)
}

func TestSetUploadURL(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Add(record("rec1", time.Now())))
	require.NoError(t, s.SetUploadURL("rec1", "https://bucket.example.com/rec1.mp4"))

	rec, err := s.Get("rec1")
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example.com/rec1.mp4", rec.UploadURL)
}

func TestWatcherPrunesDeletedFiles(t *testing.T) {
	s := newStore(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "rec1.mp4")
	require.NoError(t, os.WriteFile(path, []byte("mp4"), 0o644))

	require.NoError(t, s.Add(&store.Recording{
		ID:        "rec1",
		Filename:  "rec1.mp4",
		Path:      path,
		CreatedAt: time.Now(),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := store.NewWatcher(ctx, dir, s, nil)
	require.NoError(t, w.Start())
	defer w.Close()

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		_, err := s.Get("rec1")
		return err == store.ErrNotFound
	}, 3*time.Second, 50*time.Millisecond)
}
