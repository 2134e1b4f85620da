package workflows

import (
	"regexp"
	"strings"
)

// SegmentKind distinguishes the two full-production segment pipelines.
type SegmentKind string

const (
	SegmentTalking SegmentKind = "talking"
	SegmentBRoll   SegmentKind = "broll"
)

// Segment is one parsed unit of a full-production script.
type Segment struct {
	Kind SegmentKind
	// Text is the spoken narration (talking) or optional caption (broll).
	Text string
	// Prompt is the visual description, broll segments only.
	Prompt string
}

var (
	talkingMarker = regexp.MustCompile(`(?i)^\[TALKING\]\s*(.*)`)
	brollMarker   = regexp.MustCompile(`(?i)^\[BROLL:\s*(.*?)\]\s*(.*)`)
)

// ParseScript splits a script into segments on [TALKING] and
// [BROLL: description] markers. Lines without a marker continue the
// current segment's text. A script with no markers at all becomes a
// single talking segment.
func ParseScript(script string) []Segment {
	var segments []Segment
	var current *Segment

	flush := func() {
		if current != nil {
			segments = append(segments, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(script), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := talkingMarker.FindStringSubmatch(line); m != nil {
			flush()
			current = &Segment{Kind: SegmentTalking, Text: m[1]}
			continue
		}
		if m := brollMarker.FindStringSubmatch(line); m != nil {
			flush()
			current = &Segment{Kind: SegmentBRoll, Prompt: m[1], Text: m[2]}
			continue
		}
		if current != nil {
			current.Text += " " + line
		}
	}
	flush()

	if len(segments) == 0 {
		return []Segment{{Kind: SegmentTalking, Text: script}}
	}
	return segments
}
