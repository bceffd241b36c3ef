// Package reconcile unifies the two independently updated sources of
// truth about a recording's progress: the task row (queue-facing) and
// the recording row (durable record). Every status-rendering path must
// go through Effective so the detail view and the queue console never
// disagree.
package reconcile

import "voiceflow/internal/models"

// Status is the merged view of a recording's pipeline progress.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	// StatusUnknown covers a recording that claims Ready but carries no
	// artifacts and has no task: "never processed" must not silently
	// read as success.
	StatusUnknown Status = "unknown"
)

// Terminal reports whether no further automatic transition occurs.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Effective merges a recording with its task (which may be nil, e.g.
// for audio_only recordings or if the task row was ever pruned). When a
// task exists its status is authoritative; otherwise the status is
// derived strictly from the recording's own persisted fields.
func Effective(rec models.Recording, task *models.Task) Status {
	if task != nil {
		switch task.Status {
		case models.TaskWaiting:
			return StatusWaiting
		case models.TaskProcessing:
			return StatusProcessing
		case models.TaskDone:
			return StatusDone
		case models.TaskFailed:
			return StatusFailed
		}
	}

	if rec.Status == models.RecordingFailed || rec.Error != nil {
		return StatusFailed
	}
	switch rec.Status {
	case models.RecordingTranscribing:
		return StatusWaiting
	case models.RecordingProcessing:
		return StatusProcessing
	case models.RecordingReady:
		if rec.Level == models.LevelAudioOnly {
			return StatusDone
		}
		if hasArtifacts(rec) {
			return StatusDone
		}
		return StatusUnknown
	}
	return StatusUnknown
}

func hasArtifacts(rec models.Recording) bool {
	if rec.Transcript != nil && len(rec.Transcript.Segments) > 0 {
		return true
	}
	return rec.Analysis != nil
}
