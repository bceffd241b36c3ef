package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"voiceflow/internal/models"
)

func strPtr(s string) *string { return &s }

func TestEffectiveTaskAuthoritative(t *testing.T) {
	rec := models.Recording{ID: "r", Level: models.LevelAsset, Status: models.RecordingReady,
		Transcript: &models.Transcript{Segments: []models.Segment{{ID: 1, Text: "hi"}}}}

	cases := []struct {
		taskStatus string
		want       Status
	}{
		{models.TaskWaiting, StatusWaiting},
		{models.TaskProcessing, StatusProcessing},
		{models.TaskDone, StatusDone},
		{models.TaskFailed, StatusFailed},
	}
	for _, tc := range cases {
		task := &models.Task{ID: "r", Status: tc.taskStatus}
		assert.Equal(t, tc.want, Effective(rec, task), "task status %s", tc.taskStatus)
	}
}

func TestEffectiveDerivedFromRecording(t *testing.T) {
	cases := []struct {
		name string
		rec  models.Recording
		want Status
	}{
		{
			name: "failed status wins",
			rec:  models.Recording{Level: models.LevelText, Status: models.RecordingFailed},
			want: StatusFailed,
		},
		{
			name: "error implies failed even when status lags",
			rec:  models.Recording{Level: models.LevelText, Status: models.RecordingProcessing, Error: strPtr("boom")},
			want: StatusFailed,
		},
		{
			name: "transcribing maps to waiting",
			rec:  models.Recording{Level: models.LevelText, Status: models.RecordingTranscribing},
			want: StatusWaiting,
		},
		{
			name: "processing maps to processing",
			rec:  models.Recording{Level: models.LevelAsset, Status: models.RecordingProcessing},
			want: StatusProcessing,
		},
		{
			name: "ready with transcript is done",
			rec: models.Recording{Level: models.LevelText, Status: models.RecordingReady,
				Transcript: &models.Transcript{Segments: []models.Segment{{ID: 1, Text: "hi"}}}},
			want: StatusDone,
		},
		{
			name: "ready with analysis only is done",
			rec: models.Recording{Level: models.LevelAsset, Status: models.RecordingReady,
				Analysis: &models.Analysis{Summary: "s"}},
			want: StatusDone,
		},
		{
			name: "audio_only ready is done without artifacts",
			rec:  models.Recording{Level: models.LevelAudioOnly, Status: models.RecordingReady},
			want: StatusDone,
		},
		{
			name: "ready without artifacts on a processed level is unknown, not done",
			rec:  models.Recording{Level: models.LevelAsset, Status: models.RecordingReady},
			want: StatusUnknown,
		},
		{
			name: "ready with empty segment list is unknown",
			rec: models.Recording{Level: models.LevelText, Status: models.RecordingReady,
				Transcript: &models.Transcript{Segments: []models.Segment{}}},
			want: StatusUnknown,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Effective(tc.rec, nil))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusWaiting.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusUnknown.Terminal())
}
