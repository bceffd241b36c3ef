package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"voiceflow/internal/models"
)

func TestNormalizeSegments(t *testing.T) {
	raw := []models.Segment{
		{ID: 7, StartTime: 3.5, Speaker: "Alice", Text: "  first line "},
		{ID: 7, StartTime: -2, Text: "second line"},
		{ID: 0, StartTime: 10, Speaker: "  ", Text: "   "},
		{ID: 9, StartTime: 12, Text: "third line"},
	}

	got := NormalizeSegments(raw)

	assert.Len(t, got, 3, "blank segment dropped")
	for i, s := range got {
		assert.Equal(t, i+1, s.ID, "dense 1-based ordinals")
	}
	assert.Equal(t, "first line", got[0].Text)
	assert.Equal(t, "Alice", got[0].Speaker)
	assert.Equal(t, 3.5, got[0].StartTime)
	assert.Equal(t, float64(0), got[1].StartTime, "negative start clamped")
	assert.Equal(t, DefaultSpeaker, got[1].Speaker, "missing speaker defaulted")
}

func TestNormalizeSegmentsEmpty(t *testing.T) {
	assert.Empty(t, NormalizeSegments(nil))
	assert.Empty(t, NormalizeSegments([]models.Segment{{Text: " "}, {Text: ""}}))
}

func TestNormalizeAnalysis(t *testing.T) {
	got := NormalizeAnalysis(models.Analysis{
		Summary:     "  summary  ",
		ActionItems: []string{" do a ", "", "  ", "do b"},
	})
	assert.Equal(t, "summary", got.Summary)
	assert.Equal(t, []string{"do a", "do b"}, got.ActionItems)
}

func TestPlaceholders(t *testing.T) {
	tr := PlaceholderTranscript()
	assert.NotEmpty(t, tr.Segments, "placeholder transcript is never empty")
	assert.NotEmpty(t, tr.Segments[0].Text)

	an := PlaceholderAnalysis()
	assert.NotEmpty(t, an.Summary)
	assert.NotEmpty(t, an.ActionItems)
}
