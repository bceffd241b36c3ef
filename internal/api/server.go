package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"voiceflow/internal/blob"
	"voiceflow/internal/config"
	"voiceflow/internal/models"
	"voiceflow/internal/queue"
	"voiceflow/internal/reconcile"
	"voiceflow/internal/store"
	"voiceflow/internal/telemetry"
)

// Store is the persistence surface the API consumes. *store.Store
// satisfies it; tests use an in-memory fake.
type Store interface {
	CreateRecording(ctx context.Context, p store.CreateRecordingParams) (models.Recording, error)
	RecordingExists(ctx context.Context, id string) (bool, error)
	GetRecording(ctx context.Context, id string) (models.Recording, error)
	ListRecordings(ctx context.Context, includeBody bool) ([]models.Recording, error)
	SetRecordingStatus(ctx context.Context, id, status string, errMsg *string) error
	SetStarred(ctx context.Context, id string, starred bool) error
	UpdateTitle(ctx context.Context, id, title string) error
	DeleteRecording(ctx context.Context, id string) error
	UpsertTask(ctx context.Context, id, taskType, status string) (models.Task, error)
	SetTaskStatus(ctx context.Context, id, status string, errMsg *string) error
	GetTask(ctx context.Context, id string) (models.Task, error)
	ListTasks(ctx context.Context) ([]models.Task, error)
	ListTaskViews(ctx context.Context) ([]models.TaskView, error)
}

// Queue is the producer side of the work queue.
type Queue interface {
	Enqueue(ctx context.Context, recordingID string) error
}

// Limiter guards the upload path; nil disables limiting.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the recording API.
type Server struct {
	cfg     config.Config
	store   Store
	queue   Queue
	blobs   blob.Store
	limiter Limiter
}

// New constructs the API server.
func New(cfg config.Config, st Store, q Queue, blobs blob.Store, limiter Limiter) *Server {
	return &Server{cfg: cfg, store: st, queue: q, blobs: blobs, limiter: limiter}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/recordings", s.handleUpload)
		r.Get("/recordings", s.handleListRecordings)
		r.Get("/recordings/{id}", s.handleGetRecording)
		r.Patch("/recordings/{id}", s.handlePatchRecording)
		r.Delete("/recordings/{id}", s.handleDeleteRecording)
		r.Get("/recordings/{id}/audio", s.handleAudio)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/tasks/{id}/retry", s.handleRetry)
	})
	return r
}

// handleUpload accepts the multipart capture payload, persists the
// audio blob and the recording row, and enqueues the processing job for
// non-audio_only levels. Validation failures never reach the queue.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(ctx, clientKey(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.UploadMaxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		telemetry.UploadsRejected.Inc()
		writeError(w, http.StatusBadRequest, "invalid multipart payload or file too large")
		return
	}

	id := r.FormValue("id")
	title := r.FormValue("title")
	level := r.FormValue("level")
	scene := r.FormValue("scene")
	if title == "" {
		title = "New recording"
	}

	if !models.ValidID(id) {
		telemetry.UploadsRejected.Inc()
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if !models.ValidLevel(level) {
		telemetry.UploadsRejected.Inc()
		writeError(w, http.StatusBadRequest, "invalid level")
		return
	}
	if scene != "" && !models.ValidScene(scene) {
		telemetry.UploadsRejected.Inc()
		writeError(w, http.StatusBadRequest, "invalid scene")
		return
	}

	createdAt, _ := strconv.ParseInt(r.FormValue("createdAt"), 10, 64)
	if createdAt <= 0 {
		createdAt = time.Now().UnixMilli()
	}
	duration, _ := strconv.ParseInt(r.FormValue("duration"), 10, 64)
	if duration < 0 {
		duration = 0
	}
	markers := []models.Marker{}
	if raw := r.FormValue("markersJson"); raw != "" {
		// Malformed marker JSON degrades to an empty list; markers are
		// decoration, not pipeline input.
		_ = json.Unmarshal([]byte(raw), &markers)
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		telemetry.UploadsRejected.Inc()
		writeError(w, http.StatusBadRequest, "missing audio file field")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") && contentType != "video/webm" {
		telemetry.UploadsRejected.Inc()
		writeError(w, http.StatusBadRequest, "unsupported audio content type")
		return
	}

	if exists, err := s.store.RecordingExists(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	} else if exists {
		telemetry.UploadsRejected.Inc()
		writeError(w, http.StatusConflict, "recording already exists")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".webm"
	}
	ref, err := s.blobs.Save(ctx, id, ext, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store audio: "+err.Error())
		return
	}

	status := models.RecordingTranscribing
	if level == models.LevelAudioOnly {
		status = models.RecordingReady
	}

	rec, err := s.store.CreateRecording(ctx, store.CreateRecordingParams{
		ID:        id,
		Title:     title,
		Level:     level,
		Scene:     scene,
		CreatedAt: createdAt,
		Duration:  duration,
		AudioRef:  ref,
		Status:    status,
		Markers:   markers,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			writeError(w, http.StatusConflict, "recording already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if level != models.LevelAudioOnly {
		if _, err := s.store.UpsertTask(ctx, id, models.TaskTypeForLevel(level), models.TaskWaiting); err != nil {
			// Without a task row no job will ever run; leave the
			// recording terminal failed rather than waiting forever.
			msg := "create task: " + err.Error()
			_ = s.store.SetRecordingStatus(ctx, id, models.RecordingFailed, &msg)
			writeError(w, http.StatusInternalServerError, msg)
			return
		}
		if err := s.enqueueOrFail(ctx, id); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}

	telemetry.UploadsAccepted.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"recording": rec})
}

// enqueueOrFail admits the job; a duplicate is benign. Any other
// enqueue failure is persisted as terminal on both rows so the client
// never polls for a job that was never actually queued.
func (s *Server) enqueueOrFail(ctx context.Context, id string) error {
	err := s.queue.Enqueue(ctx, id)
	if err == nil {
		telemetry.JobsEnqueued.Inc()
		return nil
	}
	if isDuplicate(err) {
		telemetry.JobsDuplicate.Inc()
		return nil
	}
	msg := "enqueue failed: " + err.Error()
	_ = s.store.SetTaskStatus(ctx, id, models.TaskFailed, &msg)
	_ = s.store.SetRecordingStatus(ctx, id, models.RecordingFailed, &msg)
	return errors.New(msg)
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	includeBody := r.URL.Query().Get("includeBody") == "1"
	recordings, err := s.store.ListRecordings(r.Context(), includeBody)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": recordings})
}

// handleGetRecording is the canonical per-item status read: the
// recording together with its task, plus the merged status. The task is
// null for audio_only recordings and tolerated as absent everywhere.
func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetRecording(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var taskPtr *models.Task
	task, err := s.store.GetTask(r.Context(), id)
	if err == nil {
		taskPtr = &task
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recording": rec,
		"task":      taskPtr,
		"status":    reconcile.Effective(rec, taskPtr),
	})
}

type patchRequest struct {
	Title     *string `json:"title"`
	IsStarred *bool   `json:"isStarred"`
}

func (s *Server) handlePatchRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Title != nil {
		if err := s.store.UpdateTitle(r.Context(), id, *req.Title); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if req.IsStarred != nil {
		if err := s.store.SetStarred(r.Context(), id, *req.IsStarred); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	rec, err := s.store.GetRecording(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recording": rec})
}

// handleDeleteRecording removes the row (task follows via cascade) and
// the audio blob. This is the owning UI's operation; the pipeline never
// deletes.
func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetRecording(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.DeleteRecording(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.blobs.Remove(r.Context(), rec.AudioRef); err != nil && !errors.Is(err, blob.ErrMissing) {
		zap.S().Warnw("remove audio blob", "recording", id, "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleAudio serves the stored audio with byte-range support so a
// client can seek without downloading the whole asset. Unsatisfiable
// ranges answer 416, distinct from 404.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetRecording(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	obj, _, modTime, err := s.blobs.Open(r.Context(), rec.AudioRef)
	if err != nil {
		if errors.Is(err, blob.ErrMissing) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", blob.MimeForRef(rec.AudioRef))
	http.ServeContent(w, r, rec.ID+filepath.Ext(rec.AudioRef), modTime, obj)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTaskViews(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

// handleRetry re-admits a failed (or stuck) recording: task back to
// waiting, recording back to Transcribing, prior errors cleared, job
// re-enqueued under the same dedup key. Racing an in-flight automatic
// retry reads as a duplicate and is success, not an error.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetRecording(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if rec.Level == models.LevelAudioOnly {
		writeError(w, http.StatusBadRequest, "audio_only recordings have no processing task")
		return
	}

	if _, err := s.store.UpsertTask(ctx, id, models.TaskTypeForLevel(rec.Level), models.TaskWaiting); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.SetRecordingStatus(ctx, id, models.RecordingTranscribing, nil); err != nil {
		writeStoreError(w, err)
		return
	}

	err = s.queue.Enqueue(ctx, id)
	if err != nil && isDuplicate(err) {
		telemetry.JobsDuplicate.Inc()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "duplicated": true})
		return
	}
	if err != nil {
		msg := "enqueue failed: " + err.Error()
		_ = s.store.SetTaskStatus(ctx, id, models.TaskFailed, &msg)
		_ = s.store.SetRecordingStatus(ctx, id, models.RecordingFailed, &msg)
		writeError(w, http.StatusBadGateway, msg)
		return
	}
	telemetry.JobsEnqueued.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func isDuplicate(err error) bool {
	return errors.Is(err, queue.ErrDuplicate)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNoRecording) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		zap.S().Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
