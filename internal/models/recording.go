package models

import "regexp"

// Recording statuses persisted in Postgres.
const (
	RecordingTranscribing = "Transcribing"
	RecordingProcessing   = "Processing"
	RecordingReady        = "Ready"
	RecordingFailed       = "Failed"
)

// Recording levels decide how much processing a capture receives.
const (
	LevelAsset     = "asset"      // transcript + analysis
	LevelText      = "text"       // transcript only
	LevelAudioOnly = "audio_only" // no processing
)

// Marker is a user-placed annotation on the capture timeline.
type Marker struct {
	Time  float64 `json:"time"`
	Label string  `json:"label"`
}

// Segment is one normalized transcript line.
type Segment struct {
	ID        int     `json:"id"`
	StartTime float64 `json:"startTime"`
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
}

// Transcript wraps the ordered segment sequence.
type Transcript struct {
	Segments []Segment `json:"segments"`
}

// Analysis is the derived summary for asset-level recordings.
type Analysis struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"todoList"`
}

// Recording represents one captured audio asset and its derived artifacts.
// Timestamps are epoch milliseconds.
type Recording struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Level      string      `json:"level"`
	Scene      *string     `json:"scene"`
	CreatedAt  int64       `json:"createdAt"`
	Duration   int64       `json:"duration"`
	AudioRef   string      `json:"-"`
	Status     string      `json:"status"`
	IsStarred  bool        `json:"isStarred"`
	Markers    []Marker    `json:"markers"`
	Transcript *Transcript `json:"transcript"`
	Analysis   *Analysis   `json:"analysis"`
	Error      *string     `json:"error,omitempty"`
	UpdatedAt  int64       `json:"updatedAt"`
}

var idPattern = regexp.MustCompile(`^[a-f0-9-]{16,64}$`)

// ValidID reports whether a client-generated recording id is acceptable:
// lowercase hex and hyphens, bounded length.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidLevel reports whether level names a known processing level.
func ValidLevel(level string) bool {
	return level == LevelAsset || level == LevelText || level == LevelAudioOnly
}

// ValidScene reports whether scene names a known scene tag.
func ValidScene(scene string) bool {
	switch scene {
	case "meeting", "lecture", "interview", "idea":
		return true
	}
	return false
}
