package worker

import (
	"strings"

	"voiceflow/internal/models"
)

// DefaultSpeaker labels segments whose provider output carries no
// speaker attribution.
const DefaultSpeaker = "Me"

// NormalizeSegments rewrites provider output into the persisted form:
// dense 1-based ordinals, blank-text segments dropped, negative or
// unparseable start times clamped to 0, missing speakers defaulted.
func NormalizeSegments(raw []models.Segment) []models.Segment {
	out := make([]models.Segment, 0, len(raw))
	for _, s := range raw {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		start := s.StartTime
		if start < 0 || start != start { // NaN guard
			start = 0
		}
		speaker := strings.TrimSpace(s.Speaker)
		if speaker == "" {
			speaker = DefaultSpeaker
		}
		out = append(out, models.Segment{
			ID:        len(out) + 1,
			StartTime: start,
			Speaker:   speaker,
			Text:      text,
		})
	}
	return out
}

// NormalizeAnalysis trims the summary and drops blank action items.
func NormalizeAnalysis(raw models.Analysis) models.Analysis {
	items := make([]string, 0, len(raw.ActionItems))
	for _, it := range raw.ActionItems {
		if trimmed := strings.TrimSpace(it); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return models.Analysis{Summary: strings.TrimSpace(raw.Summary), ActionItems: items}
}

// PlaceholderTranscript is the synthesized non-empty transcript used
// when no provider credential is configured or when normalization
// leaves zero segments. An empty transcript is never a valid terminal
// state for a done job.
func PlaceholderTranscript() models.Transcript {
	return models.Transcript{Segments: []models.Segment{{
		ID:        1,
		StartTime: 0,
		Speaker:   DefaultSpeaker,
		Text:      "(No AI provider credential configured; this is a built-in placeholder transcript.)",
	}}}
}

// PlaceholderAnalysis is the companion analysis for asset-level
// recordings, pointing the operator at the missing configuration.
func PlaceholderAnalysis() *models.Analysis {
	return &models.Analysis{
		Summary:     "No AI provider credential is configured, so this is a placeholder result. Configure a provider API key on the server and retry this task.",
		ActionItems: []string{"Configure an AI provider API key on the server", "Retry this task"},
	}
}
