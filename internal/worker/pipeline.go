package worker

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"voiceflow/internal/ai"
	"voiceflow/internal/blob"
	"voiceflow/internal/models"
	"voiceflow/internal/telemetry"
)

// Store is the slice of persistence the pipeline mutates. *store.Store
// satisfies it; tests use an in-memory fake.
type Store interface {
	GetRecording(ctx context.Context, id string) (models.Recording, error)
	SetRecordingStatus(ctx context.Context, id, status string, errMsg *string) error
	SaveRecordingResult(ctx context.Context, id string, transcript models.Transcript, analysis *models.Analysis) error
	SetTaskStatus(ctx context.Context, id, status string, errMsg *string) error
}

// Pipeline drives one recording through the processing state machine.
type Pipeline struct {
	store    Store
	blobs    blob.Store
	provider ai.Provider // nil when no credential is configured
}

func NewPipeline(st Store, blobs blob.Store, provider ai.Provider) *Pipeline {
	return &Pipeline{store: st, blobs: blobs, provider: provider}
}

// Process executes one attempt for a recording. It flips both rows to
// processing before any external call, so a crash mid-attempt is
// observable as "stuck processing", never a silent "waiting". On
// failure the error message is persisted on both rows and returned so
// the queue's outer retry policy governs further attempts.
func (p *Pipeline) Process(ctx context.Context, recordingID string) error {
	rec, err := p.store.GetRecording(ctx, recordingID)
	if err != nil {
		return fmt.Errorf("load recording %s: %w", recordingID, err)
	}

	if err := p.store.SetTaskStatus(ctx, recordingID, models.TaskProcessing, nil); err != nil {
		return fmt.Errorf("mark task processing: %w", err)
	}
	if err := p.store.SetRecordingStatus(ctx, recordingID, models.RecordingProcessing, nil); err != nil {
		return fmt.Errorf("mark recording processing: %w", err)
	}

	transcript, analysis, err := p.produce(ctx, rec)
	if err != nil {
		return p.fail(ctx, recordingID, err)
	}

	if err := p.store.SaveRecordingResult(ctx, recordingID, transcript, analysis); err != nil {
		return p.fail(ctx, recordingID, fmt.Errorf("persist result: %w", err))
	}
	if err := p.store.SetTaskStatus(ctx, recordingID, models.TaskDone, nil); err != nil {
		return p.fail(ctx, recordingID, fmt.Errorf("mark task done: %w", err))
	}
	return nil
}

func (p *Pipeline) produce(ctx context.Context, rec models.Recording) (models.Transcript, *models.Analysis, error) {
	if p.provider == nil {
		zap.S().Infow("no provider credential, emitting placeholder", "recording", rec.ID)
		telemetry.PlaceholderRuns.Inc()
		t, a := p.placeholder(rec)
		return t, a, nil
	}

	audio, err := blob.ReadAll(ctx, p.blobs, rec.AudioRef)
	if err != nil {
		return models.Transcript{}, nil, fmt.Errorf("read audio %s: %w", rec.AudioRef, err)
	}

	scene := ""
	if rec.Scene != nil {
		scene = *rec.Scene
	}

	raw, err := p.provider.Transcribe(ctx, audio, blob.MimeForRef(rec.AudioRef), scene)
	if err != nil {
		return models.Transcript{}, nil, fmt.Errorf("transcribe: %w", err)
	}
	segments := NormalizeSegments(raw)
	if len(segments) == 0 {
		zap.S().Warnw("provider returned no usable segments, falling back to placeholder", "recording", rec.ID)
		telemetry.PlaceholderRuns.Inc()
		t, a := p.placeholder(rec)
		return t, a, nil
	}
	transcript := models.Transcript{Segments: segments}

	var analysis *models.Analysis
	if rec.Level == models.LevelAsset {
		text := transcriptText(segments)
		rawAnalysis, err := p.provider.Analyze(ctx, text, scene)
		if err != nil {
			return models.Transcript{}, nil, fmt.Errorf("analyze: %w", err)
		}
		a := NormalizeAnalysis(rawAnalysis)
		analysis = &a
	}
	return transcript, analysis, nil
}

func (p *Pipeline) placeholder(rec models.Recording) (models.Transcript, *models.Analysis) {
	if rec.Level == models.LevelAsset {
		return PlaceholderTranscript(), PlaceholderAnalysis()
	}
	return PlaceholderTranscript(), nil
}

// fail records the message on both rows so every client surface shows
// the same text, then propagates the original error.
func (p *Pipeline) fail(ctx context.Context, recordingID string, cause error) error {
	msg := cause.Error()
	if err := p.store.SetTaskStatus(ctx, recordingID, models.TaskFailed, &msg); err != nil {
		zap.S().Errorw("record task failure", "recording", recordingID, "err", err)
	}
	if err := p.store.SetRecordingStatus(ctx, recordingID, models.RecordingFailed, &msg); err != nil {
		zap.S().Errorw("record recording failure", "recording", recordingID, "err", err)
	}
	return cause
}

func transcriptText(segments []models.Segment) string {
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		lines = append(lines, s.Text)
	}
	return strings.Join(lines, "\n")
}
