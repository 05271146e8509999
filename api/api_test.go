package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypercosmac/bubblecap/api"
	"github.com/hypercosmac/bubblecap/executor"
	"github.com/hypercosmac/bubblecap/session"
	"github.com/hypercosmac/bubblecap/store"
)

const testPort = 3211

func newTestServer(t *testing.T) *api.ApiServer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()

	st, err := store.NewStore(filepath.Join(dir, "recordings.db"), nil)
	require.NoError(t, err)

	coordinator := session.NewCoordinator(ctx, session.NewCoordinatorOptions{
		RecordingsDir: dir,
		NewSources: func(ctx context.Context, opts session.StartOptions) ([]session.Source, error) {
			return nil, fmt.Errorf("%w: no display in test", session.ErrNoCaptureTarget)
		},
		NewWriter: func(ctx context.Context, cfg session.WriterConfig) (session.Writer, error) {
			return nil, fmt.Errorf("unreachable in test")
		},
	})

	exec := executor.NewWorkerExecutor(ctx, &executor.WorkerExecutorOptions{WorkerCount: 1})
	exec.Start()

	apiServer := api.NewApiServer(ctx, api.ApiServerOptions{
		Port:          testPort,
		RecordingsDir: dir,
		Coordinator:   coordinator,
		Store:         st,
		Executor:      exec,
	})

	<-apiServer.Start()
	t.Cleanup(func() { apiServer.Close() })

	return apiServer
}

func url(path string) string {
	return fmt.Sprintf("http://localhost:%d%s", testPort, path)
}

func TestApiServer(t *testing.T) {
	newTestServer(t)

	resp, err := http.Get(url("/ping"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))

	t.Run("status reports idle", func(t *testing.T) {
		resp, err := http.Get(url("/recording/status"))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, 200, resp.StatusCode)

		var status api.RecordingStatusResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		assert.Equal(t, "idle", status.State)
		assert.Zero(t, status.ElapsedMs)
	})

	t.Run("start surfaces capture target failure", func(t *testing.T) {
		resp, err := http.Post(url("/recording/start"), "application/json",
			strings.NewReader(`{"audio":true}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, 404, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "no display in test")
	})

	t.Run("stop without session is a noop", func(t *testing.T) {
		resp, err := http.Post(url("/recording/stop"), "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, 200, resp.StatusCode)

		var stop api.StopRecordingResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&stop))
		assert.Equal(t, "no active recording", stop.Status)
		assert.Nil(t, stop.Recording)
	})

	t.Run("recordings list is empty", func(t *testing.T) {
		resp, err := http.Get(url("/recordings"))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, 200, resp.StatusCode)

		var list api.ListRecordingsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		assert.Empty(t, list.Recordings)
	})

	t.Run("deleting unknown recording is 404", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, url("/recordings/nope"), nil)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, 404, resp.StatusCode)
	})

	// Give the server a beat before test cleanup tears everything down.
	time.Sleep(100 * time.Millisecond)
}
