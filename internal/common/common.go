package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey    = "X-API-Key" // #nosec G101 - header name constant, not a credential
	ContentTypeJSON = "application/json"
	ContentTypeSSE  = "text/event-stream"
	ContentTypeSRT  = "text/plain; charset=utf-8"
)

// API paths
const (
	PathHealthz  = "/healthz"
	PathMeetings = "/v1/meetings"
)

// Defaults and limits
const (
	DefaultMaxUploadBytes = 100 * 1024 * 1024
	DefaultASRMaxBytes    = 25 * 1000 * 1000
	SQLiteBusyTimeoutMS   = 5000
	ProgressBufferSize    = 64
)

// Subdirectory names under the storage root
const (
	UploadsDirName   = "uploads"
	ProcessedDirName = "processed"
	OutputDirName    = "output"
)

// Audio transcoding parameters shared by the compression and resample steps.
// Both the ASR upload and the diarization engine expect mono 16 kHz input.
const (
	AudioSampleRate = "16000"
	AudioChannels   = "1"
)
