package diarize

import "context"

// Client is the speaker-diarization engine boundary. Implementations return
// the speaker turns as RTTM document text. A numSpeakers of zero or less
// requests automatic speaker-count inference.
type Client interface {
	Diarize(ctx context.Context, audioPath string, numSpeakers int) (string, error)
}
