package summary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPromptSectionOrder(t *testing.T) {
	p := BuildPrompt("TRANSCRIPT:\n[00:00:01] doctor: hello", "")
	require.Len(t, p.System, 1)
	assert.Contains(t, p.System[0], "Information not available")

	last := -1
	for _, s := range Sections {
		idx := strings.Index(p.User, s.Heading)
		require.GreaterOrEqual(t, idx, 0, s.Heading)
		assert.Greater(t, idx, last, "%s out of order", s.Heading)
		last = idx
	}
	assert.Contains(t, p.User, "Not performed")
	assert.Contains(t, p.User, "[00:00:01] doctor: hello")
	assert.NotContains(t, p.User, "Additional instructions")
}

func TestBuildPromptAppendsInstruction(t *testing.T) {
	p := BuildPrompt("notes", "  Use bullet points.  ")
	assert.True(t, strings.HasSuffix(p.User, "Use bullet points.\n"))
}

func TestValidate(t *testing.T) {
	corpus := "TRANSCRIPT:\n[00:00:05] patient: redness after filler on tuesday\n[00:00:09] doctor: avoid makeup for now\nCLINICIAN NOTES:\ncold compress"

	t.Run("clean summary", func(t *testing.T) {
		assert.Empty(t, Validate(fullSummary, corpus))
	})

	t.Run("missing and invented sections", func(t *testing.T) {
		text := strings.Join([]string{
			"**CHIEF COMPLAINT:** Redness after filler.",
			"HISTORY OF PRESENT ILLNESS: Information not available.",
			"EXAMINATION FINDINGS: Not performed.",
			"ASSESSMENT/DIAGNOSIS: Vascular occlusion.",
			"TREATMENT PLAN: Cold compress.",
			"PATIENT INSTRUCTIONS: Information not available.",
		}, "\n")
		flags := Validate(text, corpus)
		assert.ElementsMatch(t, []Flag{
			{Section: "ASSESSMENT/DIAGNOSIS", Reason: FlagUnsupported},
			{Section: "FOLLOW-UP", Reason: FlagMissing},
		}, flags)
	})

	t.Run("multi-line sections", func(t *testing.T) {
		text := "1. CHIEF COMPLAINT:\n- redness\n2. HISTORY OF PRESENT ILLNESS: filler on tuesday\n" +
			"EXAMINATION FINDINGS: Not performed\nASSESSMENT/DIAGNOSIS: Information not available\n" +
			"TREATMENT PLAN: compress\nPATIENT INSTRUCTIONS: Information not available\nFOLLOW-UP: Information not available"
		assert.Empty(t, Validate(text, corpus))
	})
}
