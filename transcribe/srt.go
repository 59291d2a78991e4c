package transcribe

import (
	"fmt"
	"math"
	"strings"
)

// Segment is one timestamped piece of recognized speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm. Hours keep counting past 24.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(math.Round(seconds * 1000))
	ms := total % 1000
	s := (total / 1000) % 60
	m := (total / 60000) % 60
	h := total / 3600000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// RenderSRT renders every segment as one cue, in order.
func RenderSRT(segments []Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, FormatTimestamp(seg.Start), FormatTimestamp(seg.End), strings.TrimSpace(seg.Text))
	}
	return b.String()
}
