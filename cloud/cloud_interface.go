package cloud

// CloudUploadPartInput describes one part of a multipart upload.
type CloudUploadPartInput struct {
	UploadId    string
	StoragePath *string
	Buffer      *[]byte
	PartNumber  int
	Parts       *[]*CloudUploadPartReponse
}

type CloudUploadPartReponse struct {
	ETag       *string
	PartNumber *int64
}

type CloudUploadPartCompleted struct {
	Recording_Url *string
}

// CloudClient handles moving finished recordings to and from the bucket.
type CloudClient interface {
	CreateMultipartUpload(storagePath *string) (*string, error)
	UploadPart(input *CloudUploadPartInput) (*CloudUploadPartReponse, error)
	CompletePartUpload(input *CloudUploadPartInput) (*CloudUploadPartCompleted, error)

	UploadFile(fileName *string, filePath string) error
	DownloadFile(fileName *string, downloadPath string) error
}
