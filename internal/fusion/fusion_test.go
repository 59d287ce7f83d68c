package fusion

import (
	"testing"
	"time"

	"github.com/jo-hoe/meetscribe/internal/rttm"
	"github.com/jo-hoe/meetscribe/internal/subtitle"
)

func sec(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func cue(index int, start, end float64, text string) subtitle.Cue {
	return subtitle.Cue{Index: index, Start: sec(start), End: sec(end), Text: text}
}

func turn(start, end float64, speaker string) rttm.Turn {
	return rttm.Turn{Start: sec(start), End: sec(end), Speaker: speaker}
}

func TestFuse_PicksLongestOverlap(t *testing.T) {
	// Cue [10, 12] against turns [9, 10.5] (A, 0.5s overlap) and
	// [10.5, 12.5] (B, 1.5s overlap) resolves to B.
	cues := []subtitle.Cue{cue(1, 10, 12, "hello")}
	turns := []rttm.Turn{
		turn(9, 10.5, "SPEAKER_A"),
		turn(10.5, 12.5, "SPEAKER_B"),
	}
	out := Fuse(cues, turns)
	if out[0].Speaker != "SPEAKER_B" {
		t.Fatalf("expected SPEAKER_B, got %q", out[0].Speaker)
	}
}

func TestFuse_TieKeepsEarlierTurn(t *testing.T) {
	// Both turns overlap the cue for exactly one second; the turn that
	// appears earlier in the document wins, regardless of its timing.
	cues := []subtitle.Cue{cue(1, 10, 12, "hello")}
	turns := []rttm.Turn{
		turn(11, 12, "SPEAKER_LATE_BUT_FIRST"),
		turn(10, 11, "SPEAKER_EARLY_BUT_SECOND"),
	}
	for i := 0; i < 50; i++ {
		out := Fuse(cues, turns)
		if out[0].Speaker != "SPEAKER_LATE_BUT_FIRST" {
			t.Fatalf("run %d: tie break not deterministic: %q", i, out[0].Speaker)
		}
	}
}

func TestFuse_NoOverlapIsUnresolved(t *testing.T) {
	cues := []subtitle.Cue{cue(1, 100, 102, "silence")}
	turns := []rttm.Turn{turn(0, 5, "SPEAKER_00")}
	out := Fuse(cues, turns)
	if out[0].Speaker != SpeakerUnresolved {
		t.Fatalf("expected unresolved, got %q", out[0].Speaker)
	}
}

func TestFuse_TouchingIntervalsDoNotOverlap(t *testing.T) {
	cues := []subtitle.Cue{cue(1, 5, 6, "edge")}
	turns := []rttm.Turn{turn(0, 5, "SPEAKER_00")}
	out := Fuse(cues, turns)
	if out[0].Speaker != SpeakerUnresolved {
		t.Fatalf("zero-length contact must not resolve, got %q", out[0].Speaker)
	}
}

func TestFuse_ToleratesOverlappingCues(t *testing.T) {
	cues := []subtitle.Cue{
		cue(1, 0, 3, "first"),
		cue(2, 2, 5, "second"),
	}
	turns := []rttm.Turn{
		turn(0, 2.5, "SPEAKER_00"),
		turn(2.5, 5, "SPEAKER_01"),
	}
	out := Fuse(cues, turns)
	if out[0].Speaker != "SPEAKER_00" || out[1].Speaker != "SPEAKER_01" {
		t.Fatalf("unexpected assignment: %q, %q", out[0].Speaker, out[1].Speaker)
	}
}

func TestFuse_MaximalOverlapProperty(t *testing.T) {
	cues := []subtitle.Cue{
		cue(1, 0, 4, "a"),
		cue(2, 3, 8, "b"),
		cue(3, 9, 11, "c"),
		cue(4, 20, 22, "d"),
	}
	turns := []rttm.Turn{
		turn(0, 2, "SPEAKER_00"),
		turn(1, 6, "SPEAKER_01"),
		turn(6, 10, "SPEAKER_02"),
	}
	for _, annotated := range Fuse(cues, turns) {
		if annotated.Speaker == SpeakerUnresolved {
			for _, tr := range turns {
				if overlapDuration(annotated.Start, annotated.End, tr.Start, tr.End) > 0 {
					t.Fatalf("cue %d unresolved despite overlap with %q", annotated.Index, tr.Speaker)
				}
			}
			continue
		}
		var winner time.Duration
		for _, tr := range turns {
			if tr.Speaker == annotated.Speaker {
				if o := overlapDuration(annotated.Start, annotated.End, tr.Start, tr.End); o > winner {
					winner = o
				}
			}
		}
		for _, tr := range turns {
			if o := overlapDuration(annotated.Start, annotated.End, tr.Start, tr.End); o > winner {
				t.Fatalf("cue %d: %q overlap %v beats selected %q (%v)",
					annotated.Index, tr.Speaker, o, annotated.Speaker, winner)
			}
		}
	}
}

func TestAnnotate(t *testing.T) {
	annotated := []AnnotatedCue{
		{Cue: cue(1, 0, 1, "hello"), Speaker: "SPEAKER_02"},
		{Cue: cue(2, 1, 2, "there"), Speaker: SpeakerUnresolved},
	}
	out := Annotate(annotated)
	if out[0].Text != "[Speaker02] hello" {
		t.Fatalf("tagged text mismatch: %q", out[0].Text)
	}
	if out[1].Text != "[unknown] there" {
		t.Fatalf("unresolved text mismatch: %q", out[1].Text)
	}
}

func TestSpeakerCount(t *testing.T) {
	annotated := []AnnotatedCue{
		{Speaker: "SPEAKER_00"},
		{Speaker: "SPEAKER_01"},
		{Speaker: "SPEAKER_00"},
		{Speaker: SpeakerUnresolved},
	}
	if got := SpeakerCount(annotated); got != 2 {
		t.Fatalf("expected 2 speakers, got %d", got)
	}
}
