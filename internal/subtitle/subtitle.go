package subtitle

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cue is one timed line of transcript text.
type Cue struct {
	Index int           // 1-based ordinal, unique within a document
	Start time.Duration // non-negative
	End   time.Duration // strictly after Start
	Text  string        // opaque display text, may span multiple lines
}

// MalformedError describes a document that violates SRT syntax.
// The block number is 1-based and counts blank-line separated blocks.
type MalformedError struct {
	Block  int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed subtitle document: block %d: %s", e.Block, e.Reason)
}

// Parse reads an SRT document into cues, preserving document order.
// It tolerates CRLF line endings and a leading BOM but is otherwise strict:
// a missing index, unparsable timestamp line, or empty text is an error.
func Parse(document string) ([]Cue, error) {
	document = strings.TrimPrefix(document, "\uFEFF")
	document = strings.ReplaceAll(document, "\r\n", "\n")

	var cues []Cue
	blockNum := 0
	for _, block := range strings.Split(document, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		blockNum++

		lines := strings.Split(block, "\n")
		if len(lines) < 3 {
			return nil, &MalformedError{Block: blockNum, Reason: "expected index, timing and text lines"}
		}

		index, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			return nil, &MalformedError{Block: blockNum, Reason: fmt.Sprintf("invalid cue index %q", lines[0])}
		}

		start, end, err := parseTimingLine(lines[1])
		if err != nil {
			return nil, &MalformedError{Block: blockNum, Reason: err.Error()}
		}
		if end <= start {
			return nil, &MalformedError{Block: blockNum, Reason: "cue end is not after cue start"}
		}

		text := strings.TrimSpace(strings.Join(lines[2:], "\n"))
		if text == "" {
			return nil, &MalformedError{Block: blockNum, Reason: "empty cue text"}
		}

		cues = append(cues, Cue{Index: index, Start: start, End: end, Text: text})
	}
	return cues, nil
}

// Compose serializes cues back to SRT text. It is the left inverse of Parse
// on the parsed structure: Parse(Compose(cues)) yields cues again. Ordering
// is preserved as given; cues are never re-sorted.
func Compose(cues []Cue) string {
	var b strings.Builder
	for _, cue := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", cue.Index, FormatTimestamp(cue.Start), FormatTimestamp(cue.End), cue.Text)
	}
	return b.String()
}

func parseTimingLine(line string) (start, end time.Duration, err error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	start, err = parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err = parseTimestamp(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp reads HH:MM:SS,mmm. A dot millisecond separator is accepted
// because some ASR engines emit the WebVTT variant.
func parseTimestamp(s string) (time.Duration, error) {
	normalized := strings.Replace(s, ".", ",", 1)
	var h, m, sec, ms int
	if _, err := fmt.Sscanf(normalized, "%d:%d:%d,%d", &h, &m, &sec, &ms); err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	if h < 0 || m < 0 || m > 59 || sec < 0 || sec > 59 || ms < 0 || ms > 999 {
		return 0, fmt.Errorf("timestamp %q out of range", s)
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

// FormatTimestamp renders a duration as an SRT timestamp (HH:MM:SS,mmm).
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
