package fusion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SpeakerUnidentified is returned by ExtractSpeaker when the cue text carries
// no recognizable tag at all.
const SpeakerUnidentified = "unidentified"

// speakerWord is the localized word rendered inside the bracketed tag.
const speakerWord = "Speaker"

// tagPattern is the single canonical tag grammar: bracket, speaker word,
// numeric or single-letter id, closing bracket, optional colon, optional
// space. One parser replaces the ordered pattern lists diarization output
// tends to accumulate.
var tagPattern = regexp.MustCompile(`^\[` + speakerWord + `(\d+|[A-Z])\]:? ?`)

// unknownPattern matches the tag rendered for unresolved cues.
var unknownPattern = regexp.MustCompile(`^\[` + SpeakerUnresolved + `\]:? ?`)

// RenderSpeakerTag renders a diarization label as a bracketed display tag.
// Numeric labels (including raw engine labels such as "SPEAKER_03") render
// zero-padded to two digits: "[Speaker03]". Single-letter labels render as
// "[SpeakerA]". The unresolved sentinel renders as "[unknown]".
func RenderSpeakerTag(label string) string {
	if label == SpeakerUnresolved {
		return "[" + SpeakerUnresolved + "]"
	}
	id := strings.TrimPrefix(label, "SPEAKER_")
	if n, err := strconv.Atoi(id); err == nil {
		return fmt.Sprintf("[%s%02d]", speakerWord, n)
	}
	if len(id) == 1 && id[0] >= 'A' && id[0] <= 'Z' {
		return "[" + speakerWord + id + "]"
	}
	// Labels outside the known shapes pass through verbatim.
	return "[" + id + "]"
}

// ExtractSpeaker splits an annotated cue text into its display speaker and
// the remaining clean text. Texts without any tag yield SpeakerUnidentified
// and the input unchanged; texts tagged unresolved yield SpeakerUnresolved.
func ExtractSpeaker(text string) (speaker, rest string) {
	if m := tagPattern.FindStringSubmatch(text); m != nil {
		id := m[1]
		if n, err := strconv.Atoi(id); err == nil {
			speaker = fmt.Sprintf("%s%02d", speakerWord, n)
		} else {
			speaker = speakerWord + id
		}
		return speaker, strings.TrimSpace(text[len(m[0]):])
	}
	if m := unknownPattern.FindString(text); m != "" {
		return SpeakerUnresolved, strings.TrimSpace(text[len(m):])
	}
	return SpeakerUnidentified, text
}
