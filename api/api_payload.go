package api

import (
	"github.com/hypercosmac/bubblecap/config"
	"github.com/hypercosmac/bubblecap/store"
)

type StartRecordingRequest struct {
	Audio   bool           `json:"audio"`
	Webcam  bool           `json:"webcam"`
	Quality config.Quality `json:"quality,omitempty"`
}

type RecordingStatusResponse struct {
	State        string `json:"state"`
	ElapsedMs    int64  `json:"elapsed_ms"`
	DroppedVideo uint64 `json:"dropped_video"`
	DroppedAudio uint64 `json:"dropped_audio"`
	LastError    string `json:"last_error,omitempty"`
}

type StartRecordingResponse struct {
	Status string `json:"status"`
}

type StopRecordingResponse struct {
	Status    string           `json:"status"`
	Recording *store.Recording `json:"recording,omitempty"`
}

type ListRecordingsResponse struct {
	Recordings []store.Recording `json:"recordings"`
}

type ExportRequest struct {
	StartMs int64   `json:"start_ms"`
	EndMs   int64   `json:"end_ms"`
	Speed   float64 `json:"speed"`
}

type ExportResponse struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
}
