package uploader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hypercosmac/bubblecap/cloud"
	"github.com/hypercosmac/bubblecap/config"
)

type NewUploaderOptions struct {
	// FilePath is the finished recording on disk.
	FilePath string
	// StoragePath is the object key in the bucket.
	StoragePath string

	Client cloud.CloudClient
	Logger *zap.Logger
}

// Uploader streams one finished recording to the bucket as a multipart
// upload; parts go up concurrently while the file is read sequentially.
type Uploader struct {
	ctx context.Context
	log *zap.Logger

	id          string
	filePath    string
	storagePath string
	client      cloud.CloudClient

	wg         *sync.WaitGroup
	partNumber int

	completedMtx   *sync.Mutex
	completedParts []*cloud.CloudUploadPartReponse
	partErr        error
}

// NewUploader opens a new multipart upload session for the file.
func NewUploader(ctx context.Context, opts NewUploaderOptions) (*Uploader, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	uploadId, err := opts.Client.CreateMultipartUpload(&opts.StoragePath)
	if err != nil {
		return nil, err
	}

	return &Uploader{
		ctx: context.WithoutCancel(ctx),
		log: logger.Named("uploader"),

		id:          *uploadId,
		filePath:    opts.FilePath,
		storagePath: opts.StoragePath,
		client:      opts.Client,

		wg:         &sync.WaitGroup{},
		partNumber: 1,

		completedMtx:   &sync.Mutex{},
		completedParts: make([]*cloud.CloudUploadPartReponse, 0),
	}, nil
}

// Run reads the file, uploads it in parts, and completes the upload,
// returning the recording's bucket URL.
func (u *Uploader) Run() (string, error) {
	file, err := os.Open(u.filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open recording for upload: %v", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	buffer := make([]byte, config.MAX_BUFFER_SIZE)
	bytesRead := 0

	for {
		n, rerr := reader.Read(buffer[bytesRead:])
		bytesRead += n

		if bytesRead >= int(config.MAX_BUFFER_SIZE) || (rerr == io.EOF && bytesRead > 0) {
			part := make([]byte, bytesRead)
			copy(part, buffer[:bytesRead])

			u.startPart(part)
			bytesRead = 0
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", fmt.Errorf("failed to read recording: %v", rerr)
		}
	}

	u.wg.Wait()

	if err := u.firstPartError(); err != nil {
		return "", err
	}

	// Parts finish out of order; the bucket wants them sorted.
	sort.Slice(u.completedParts, func(i, j int) bool {
		return *u.completedParts[i].PartNumber < *u.completedParts[j].PartNumber
	})

	resp, err := u.client.CompletePartUpload(&cloud.CloudUploadPartInput{
		UploadId:    u.id,
		StoragePath: &u.storagePath,
		Parts:       &u.completedParts,
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete multipart upload: %v", err)
	}

	u.log.Info("recording uploaded",
		zap.String("key", u.storagePath),
		zap.Int("parts", len(u.completedParts)),
	)

	return *resp.Recording_Url, nil
}

func (u *Uploader) startPart(part []byte) {
	partNumber := u.partNumber
	u.partNumber++

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()

		resp, err := u.client.UploadPart(&cloud.CloudUploadPartInput{
			UploadId:    u.id,
			StoragePath: &u.storagePath,
			Buffer:      &part,
			PartNumber:  partNumber,
		})

		u.completedMtx.Lock()
		defer u.completedMtx.Unlock()

		if err != nil {
			u.log.Error("part upload failed", zap.Int("part", partNumber), zap.Error(err))
			if u.partErr == nil {
				u.partErr = err
			}
			return
		}

		u.completedParts = append(u.completedParts, resp)
	}()
}

func (u *Uploader) firstPartError() error {
	u.completedMtx.Lock()
	defer u.completedMtx.Unlock()
	return u.partErr
}
