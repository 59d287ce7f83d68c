package asr

import "context"

// Client is the speech-to-text engine boundary. Implementations return the
// transcript as SRT document text.
type Client interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	// MaxUploadBytes is the hard upload ceiling of the service. Callers
	// must check artifact size against it before invoking Transcribe.
	MaxUploadBytes() int64
}
