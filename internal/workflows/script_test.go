package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScriptMixedSegments(t *testing.T) {
	script := `[TALKING] Welcome to the channel.
[BROLL: drone shot of a coastline] The coast is stunning.
[talking] Let's dive in.`

	segments := ParseScript(script)
	require.Len(t, segments, 3)

	assert.Equal(t, SegmentTalking, segments[0].Kind)
	assert.Equal(t, "Welcome to the channel.", segments[0].Text)

	assert.Equal(t, SegmentBRoll, segments[1].Kind)
	assert.Equal(t, "drone shot of a coastline", segments[1].Prompt)
	assert.Equal(t, "The coast is stunning.", segments[1].Text)

	// Markers are case-insensitive.
	assert.Equal(t, SegmentTalking, segments[2].Kind)
}

func TestParseScriptContinuationLines(t *testing.T) {
	script := `[TALKING] First line.
Second line continues.

Third after a blank.`

	segments := ParseScript(script)
	require.Len(t, segments, 1)
	assert.Equal(t, "First line. Second line continues. Third after a blank.", segments[0].Text)
}

func TestParseScriptNoMarkers(t *testing.T) {
	segments := ParseScript("Just a plain script with no markup.")
	require.Len(t, segments, 1)
	assert.Equal(t, SegmentTalking, segments[0].Kind)
	assert.Equal(t, "Just a plain script with no markup.", segments[0].Text)
}

func TestParseScriptLeadingProseIsDropped(t *testing.T) {
	// Text before the first marker belongs to no segment.
	segments := ParseScript("intro notes\n[TALKING] Hello.")
	require.Len(t, segments, 1)
	assert.Equal(t, "Hello.", segments[0].Text)
}
