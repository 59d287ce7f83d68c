package fusion

import (
	"time"

	"github.com/jo-hoe/meetscribe/internal/rttm"
	"github.com/jo-hoe/meetscribe/internal/subtitle"
)

// SpeakerUnresolved marks a cue no diarization turn overlaps. Cues during
// silence or noise the diarizer left unannotated are expected to carry it.
const SpeakerUnresolved = "unknown"

// AnnotatedCue is a subtitle cue with a resolved speaker label. Downstream
// consumers of speaker identity must read Speaker, never re-derive it from
// the rendered cue text.
type AnnotatedCue struct {
	subtitle.Cue
	Speaker string
}

// Fuse assigns each cue the speaker whose turn overlaps it longest.
//
// Turns are scanned in document order and only a strictly greater overlap
// replaces the current best, so ties deterministically keep the turn that
// appears earlier in the diarization document. A cue with no positive
// overlap is tagged SpeakerUnresolved. Pure function over its inputs;
// documents are small (tens to low hundreds of entries), so the O(cues x
// turns) scan needs no interval index.
func Fuse(cues []subtitle.Cue, turns []rttm.Turn) []AnnotatedCue {
	annotated := make([]AnnotatedCue, 0, len(cues))
	for _, cue := range cues {
		annotated = append(annotated, AnnotatedCue{
			Cue:     cue,
			Speaker: bestSpeaker(cue, turns),
		})
	}
	return annotated
}

func bestSpeaker(cue subtitle.Cue, turns []rttm.Turn) string {
	best := SpeakerUnresolved
	var bestOverlap time.Duration
	for _, turn := range turns {
		overlap := overlapDuration(cue.Start, cue.End, turn.Start, turn.End)
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = turn.Speaker
		}
	}
	return best
}

func overlapDuration(aStart, aEnd, bStart, bEnd time.Duration) time.Duration {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}

// Annotate renders annotated cues back into plain subtitle cues whose text
// carries a bracketed speaker tag prefix, e.g. "[Speaker02] ...". The tag is
// purely presentational.
func Annotate(cues []AnnotatedCue) []subtitle.Cue {
	out := make([]subtitle.Cue, 0, len(cues))
	for _, cue := range cues {
		plain := cue.Cue
		plain.Text = RenderSpeakerTag(cue.Speaker) + " " + cue.Text
		out = append(out, plain)
	}
	return out
}

// SpeakerCount reports the number of distinct resolved speakers across the
// annotated cues. Unresolved cues do not count; the result may differ from
// any speaker-count hint the caller supplied.
func SpeakerCount(cues []AnnotatedCue) int {
	seen := make(map[string]struct{})
	for _, cue := range cues {
		if cue.Speaker == SpeakerUnresolved {
			continue
		}
		seen[cue.Speaker] = struct{}{}
	}
	return len(seen)
}
