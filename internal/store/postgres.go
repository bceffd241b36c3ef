package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"voiceflow/internal/models"
)

// ErrNotFound is returned when a recording or task id has no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicateID is returned when a recording id already exists.
var ErrDuplicateID = errors.New("recording already exists")

// ErrNoRecording is returned when a task upsert targets a missing recording.
var ErrNoRecording = errors.New("task references missing recording")

// Store wraps pgxpool for Postgres persistence. It is the single durable
// source of truth; queue state in Redis is operational only.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// CreateRecordingParams collects inputs required to insert a recording.
type CreateRecordingParams struct {
	ID        string
	Title     string
	Level     string
	Scene     string
	CreatedAt int64
	Duration  int64
	AudioRef  string
	Status    string
	Markers   []models.Marker
}

// CreateRecording inserts a recording row. A duplicate id returns
// ErrDuplicateID.
func (s *Store) CreateRecording(ctx context.Context, p CreateRecordingParams) (models.Recording, error) {
	if p.CreatedAt == 0 {
		p.CreatedAt = nowMillis()
	}
	if p.Duration < 0 {
		p.Duration = 0
	}
	if p.Markers == nil {
		p.Markers = []models.Marker{}
	}
	markersJSON, err := json.Marshal(p.Markers)
	if err != nil {
		return models.Recording{}, fmt.Errorf("marshal markers: %w", err)
	}

	now := nowMillis()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO recordings (id, title, level, scene, created_at, duration, audio_ref, status, is_starred, markers, transcript, analysis, error, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, FALSE, $9, NULL, NULL, NULL, $10)
	`, p.ID, p.Title, p.Level, p.Scene, p.CreatedAt, p.Duration, p.AudioRef, p.Status, markersJSON, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Recording{}, ErrDuplicateID
		}
		return models.Recording{}, fmt.Errorf("insert recording: %w", err)
	}
	return s.GetRecording(ctx, p.ID)
}

// RecordingExists reports whether the id has a row.
func (s *Store) RecordingExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM recordings WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recording exists: %w", err)
	}
	return true, nil
}

const recordingColumns = `id, title, level, scene, created_at, duration, audio_ref, status, is_starred, markers, transcript, analysis, error, updated_at`

// GetRecording fetches a recording by id, ErrNotFound on a miss.
func (s *Store) GetRecording(ctx context.Context, id string) (models.Recording, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = $1`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Recording{}, ErrNotFound
	}
	if err != nil {
		return models.Recording{}, fmt.Errorf("scan recording: %w", err)
	}
	return rec, nil
}

// ListRecordings returns recordings ordered by creation time descending.
// When includeBody is false the transcript/analysis bodies are omitted
// from the rows to keep list responses small; this is a bandwidth
// control, not a semantic change.
func (s *Store) ListRecordings(ctx context.Context, includeBody bool) ([]models.Recording, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordingColumns+` FROM recordings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	out := []models.Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		if !includeBody {
			rec.Transcript = nil
			rec.Analysis = nil
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetRecordingStatus updates status and error in one atomic row update.
func (s *Store) SetRecordingStatus(ctx context.Context, id, status string, errMsg *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recordings SET status = $2, error = $3, updated_at = $4 WHERE id = $1
	`, id, status, errMsg, nowMillis())
	if err != nil {
		return fmt.Errorf("update recording status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRecordingResult persists a normalized transcript (and analysis, if
// any), flips the recording to Ready, and clears any prior error.
func (s *Store) SaveRecordingResult(ctx context.Context, id string, transcript models.Transcript, analysis *models.Analysis) error {
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	var analysisJSON []byte
	if analysis != nil {
		if analysisJSON, err = json.Marshal(analysis); err != nil {
			return fmt.Errorf("marshal analysis: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE recordings
		SET status = $2, transcript = $3, analysis = $4, error = NULL, updated_at = $5
		WHERE id = $1
	`, id, models.RecordingReady, transcriptJSON, analysisJSON, nowMillis())
	if err != nil {
		return fmt.Errorf("save recording result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStarred toggles the star flag.
func (s *Store) SetStarred(ctx context.Context, id string, starred bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recordings SET is_starred = $2, updated_at = $3 WHERE id = $1
	`, id, starred, nowMillis())
	if err != nil {
		return fmt.Errorf("set starred: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTitle renames a recording.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recordings SET title = $2, updated_at = $3 WHERE id = $1
	`, id, title, nowMillis())
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRecording removes a recording and, via the FK cascade, its task.
// The pipeline never calls this; it exists for the owning UI.
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertTask creates or overwrites the task keyed by the recording id.
// Re-enqueue reuses the identity rather than creating a new row. An
// upsert against a missing recording returns ErrNoRecording.
func (s *Store) UpsertTask(ctx context.Context, id, taskType, status string) (models.Task, error) {
	now := nowMillis()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, recording_id, type, status, error, created_at, updated_at)
		VALUES ($1, $1, $2, $3, NULL, $4, $4)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			error = NULL,
			updated_at = EXCLUDED.updated_at
	`, id, taskType, status, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return models.Task{}, ErrNoRecording
		}
		return models.Task{}, fmt.Errorf("upsert task: %w", err)
	}
	return s.GetTask(ctx, id)
}

// SetTaskStatus updates status and error atomically with a fresh
// updated_at.
func (s *Store) SetTaskStatus(ctx context.Context, id, status string, errMsg *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $2, error = $3, updated_at = $4 WHERE id = $1
	`, id, status, errMsg, nowMillis())
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTask fetches a task by id (equal to the recording id).
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, recording_id, type, status, error, created_at, updated_at
		FROM tasks WHERE id = $1
	`, id)
	var t models.Task
	var taskErr pgtype.Text
	if err := row.Scan(&t.ID, &t.RecordingID, &t.Type, &t.Status, &taskErr, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Task{}, ErrNotFound
		}
		return models.Task{}, fmt.Errorf("scan task: %w", err)
	}
	t.Error = textPtr(taskErr)
	return t, nil
}

// ListTasks returns tasks ordered by last update descending.
func (s *Store) ListTasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, recording_id, type, status, error, created_at, updated_at
		FROM tasks ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []models.Task{}
	for rows.Next() {
		var t models.Task
		var taskErr pgtype.Text
		if err := rows.Scan(&t.ID, &t.RecordingID, &t.Type, &t.Status, &taskErr, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Error = textPtr(taskErr)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTaskViews returns tasks joined with recording titles so a console
// view renders without a second round trip per item.
func (s *Store) ListTaskViews(ctx context.Context) ([]models.TaskView, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.recording_id, t.type, t.status, t.error, t.created_at, t.updated_at, r.title
		FROM tasks t
		JOIN recordings r ON r.id = t.recording_id
		ORDER BY t.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list task views: %w", err)
	}
	defer rows.Close()

	out := []models.TaskView{}
	for rows.Next() {
		var v models.TaskView
		var taskErr pgtype.Text
		if err := rows.Scan(&v.ID, &v.RecordingID, &v.Type, &v.Status, &taskErr, &v.CreatedAt, &v.UpdatedAt, &v.Title); err != nil {
			return nil, fmt.Errorf("scan task view: %w", err)
		}
		v.Error = textPtr(taskErr)
		out = append(out, v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (models.Recording, error) {
	var rec models.Recording
	var scene, errMsg pgtype.Text
	var markersJSON, transcriptJSON, analysisJSON []byte

	if err := row.Scan(&rec.ID, &rec.Title, &rec.Level, &scene, &rec.CreatedAt, &rec.Duration, &rec.AudioRef, &rec.Status, &rec.IsStarred, &markersJSON, &transcriptJSON, &analysisJSON, &errMsg, &rec.UpdatedAt); err != nil {
		return models.Recording{}, err
	}
	rec.Scene = textPtr(scene)
	rec.Error = textPtr(errMsg)
	rec.Markers = []models.Marker{}
	if len(markersJSON) > 0 {
		_ = json.Unmarshal(markersJSON, &rec.Markers)
	}
	if len(transcriptJSON) > 0 {
		var tr models.Transcript
		if err := json.Unmarshal(transcriptJSON, &tr); err == nil {
			rec.Transcript = &tr
		}
	}
	if len(analysisJSON) > 0 {
		var an models.Analysis
		if err := json.Unmarshal(analysisJSON, &an); err == nil {
			rec.Analysis = &an
		}
	}
	return rec, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
