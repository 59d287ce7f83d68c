package rttm

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Turn is one time interval attributed to a speaker by the diarization engine.
type Turn struct {
	Start   time.Duration
	End     time.Duration
	Speaker string
}

// Field positions within an RTTM line:
// SPEAKER <file> <chan> <start> <dur> <ortho> <stype> <speaker> <conf>
const (
	fieldStart   = 3
	fieldDur     = 4
	fieldSpeaker = 7
	minFields    = 9
)

// Parse reads an RTTM document into turns. Lines with fewer than the
// required fields or unparsable numbers are skipped rather than failing
// the whole parse; diarization engines occasionally emit partial or
// diagnostic lines and those must not abort a job.
func Parse(document string) []Turn {
	var turns []Turn
	for _, line := range strings.Split(document, "\n") {
		fields := strings.Fields(line)
		if len(fields) < minFields {
			continue
		}
		start, err := strconv.ParseFloat(fields[fieldStart], 64)
		if err != nil {
			continue
		}
		dur, err := strconv.ParseFloat(fields[fieldDur], 64)
		if err != nil {
			continue
		}
		turns = append(turns, Turn{
			Start:   time.Duration(start * float64(time.Second)),
			End:     time.Duration((start + dur) * float64(time.Second)),
			Speaker: fields[fieldSpeaker],
		})
	}
	return turns
}

// Compose serializes turns back to RTTM lines. Used for fixtures and for
// retaining the raw turn document as a job artifact.
func Compose(fileID string, turns []Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		start := turn.Start.Seconds()
		dur := (turn.End - turn.Start).Seconds()
		fmt.Fprintf(&b, "SPEAKER %s 1 %.3f %.3f <NA> <NA> %s <NA>\n", fileID, start, dur, turn.Speaker)
	}
	return b.String()
}
