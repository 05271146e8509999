package uploader_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypercosmac/bubblecap/cloud"
	"github.com/hypercosmac/bubblecap/config"
	"github.com/hypercosmac/bubblecap/uploader"
)

type fakeClient struct {
	mu        sync.Mutex
	partSizes map[int]int
	completed []*cloud.CloudUploadPartReponse
}

func newFakeClient() *fakeClient {
	return &fakeClient{partSizes: make(map[int]int)}
}

func (f *fakeClient) CreateMultipartUpload(storagePath *string) (*string, error) {
	id := "upload-1"
	return &id, nil
}

func (f *fakeClient) UploadPart(input *cloud.CloudUploadPartInput) (*cloud.CloudUploadPartReponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.partSizes[input.PartNumber] = len(*input.Buffer)

	etag := fmt.Sprintf("etag-%d", input.PartNumber)
	num := int64(input.PartNumber)
	return &cloud.CloudUploadPartReponse{ETag: &etag, PartNumber: &num}, nil
}

func (f *fakeClient) CompletePartUpload(input *cloud.CloudUploadPartInput) (*cloud.CloudUploadPartCompleted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.completed = *input.Parts

	url := "https://bucket.example.com/" + *input.StoragePath
	return &cloud.CloudUploadPartCompleted{Recording_Url: &url}, nil
}

func (f *fakeClient) UploadFile(fileName *string, filePath string) error     { return nil }
func (f *fakeClient) DownloadFile(fileName *string, downloadPath string) error { return nil }

func TestUploaderSplitsFileIntoParts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.mp4")

	// Two full parts plus a tail.
	size := int(config.MAX_BUFFER_SIZE)*2 + 1024
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, size), 0o644))

	client := newFakeClient()

	u, err := uploader.NewUploader(context.Background(), uploader.NewUploaderOptions{
		FilePath:    path,
		StoragePath: "recording.mp4",
		Client:      client,
	})
	require.NoError(t, err)

	url, err := u.Run()
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example.com/recording.mp4", url)

	require.Len(t, client.partSizes, 3)
	assert.Equal(t, int(config.MAX_BUFFER_SIZE), client.partSizes[1])
	assert.Equal(t, int(config.MAX_BUFFER_SIZE), client.partSizes[2])
	assert.Equal(t, 1024, client.partSizes[3])

	// Completion must see the parts in order.
	require.Len(t, client.completed, 3)
	for i, part := range client.completed {
		assert.Equal(t, int64(i+1), *part.PartNumber)
	}
}
