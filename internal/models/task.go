package models

// Task statuses. Terminal states move backward only via a manual retry.
const (
	TaskWaiting    = "waiting"
	TaskProcessing = "processing"
	TaskDone       = "done"
	TaskFailed     = "failed"
)

// Task types, derived from the recording level.
const (
	TypeTranscribe        = "transcribe"
	TypeTranscribeAnalyze = "transcribe+analyze"
)

// Task is the processing attempt-series for one recording. Its id equals
// the recording id; re-enqueue overwrites rather than creating a new row.
type Task struct {
	ID          string  `json:"id"`
	RecordingID string  `json:"recordingId"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	Error       *string `json:"error"`
	CreatedAt   int64   `json:"createdAt"`
	UpdatedAt   int64   `json:"updatedAt"`
}

// TaskView is a task enriched with recording metadata for console views.
type TaskView struct {
	Task
	Title string `json:"title"`
}

// TaskTypeForLevel maps a recording level to its task type. audio_only
// recordings never acquire a task.
func TaskTypeForLevel(level string) string {
	if level == LevelAsset {
		return TypeTranscribeAnalyze
	}
	return TypeTranscribe
}
