package config

import "time"

const RECORDING_DIR = "recordings"

// MAX_BUFFER_SIZE is the size of a single multipart upload part.
const MAX_BUFFER_SIZE int64 = 10 * 1024 * 1024

// Quality selects the capture rate and encoder settings for a session.
type Quality string

const (
	QualityLow      Quality = "low"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// QualityPreset holds the ffmpeg-facing knobs for a quality tier.
type QualityPreset struct {
	FrameRate int
	CRF       int
	Preset    string
}

var qualityPresets = map[Quality]QualityPreset{
	QualityLow:      {FrameRate: 15, CRF: 30, Preset: "veryfast"},
	QualityStandard: {FrameRate: 30, CRF: 23, Preset: "fast"},
	QualityHigh:     {FrameRate: 60, CRF: 18, Preset: "medium"},
}

// PresetFor resolves a quality tier, falling back to the standard tier for
// unknown values.
func PresetFor(q Quality) QualityPreset {
	if p, ok := qualityPresets[q]; ok {
		return p
	}
	return qualityPresets[QualityStandard]
}

// CaptureOptions is the capture geometry and audio format shared by the
// capture sources and the muxer; both sides must agree for the raw pipes to
// line up.
type CaptureOptions struct {
	Width  int
	Height int

	SampleRate int
	Channels   int
}

var DEFAULT_CAPTURE_OPTS = CaptureOptions{
	Width:      1280,
	Height:     720,
	SampleRate: 48000,
	Channels:   2,
}

// AUDIO_CHUNK is how much audio one sample carries.
const AUDIO_CHUNK = 20 * time.Millisecond

// SINK_QUEUE_SIZE bounds each muxer input queue; once full, ingest drops.
const SINK_QUEUE_SIZE = 64

// STATUS_INTERVAL is how often the coordinator publishes its status snapshot.
const STATUS_INTERVAL = 250 * time.Millisecond

// FINALIZE_TIMEOUT bounds how long stop waits for the muxer to flush.
const FINALIZE_TIMEOUT = 15 * time.Second
