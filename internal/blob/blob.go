package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"voiceflow/internal/config"
)

// Object is an opened audio blob, seekable for byte-range serving.
type Object interface {
	io.ReadSeeker
	io.Closer
}

// Store holds uploaded audio. The blob is write-once at upload time and
// thereafter read-only to the worker and the audio endpoint.
type Store interface {
	// Save persists the audio payload and returns an opaque reference
	// recorded on the recording row.
	Save(ctx context.Context, recordingID, ext string, r io.Reader) (string, error)
	// Open returns the blob with its size and modification time;
	// ErrMissing when the reference resolves to nothing.
	Open(ctx context.Context, ref string) (Object, int64, time.Time, error)
	// Remove deletes the blob. Only the owning UI's delete path calls it.
	Remove(ctx context.Context, ref string) error
}

// ErrMissing is returned when a reference has no stored blob.
var ErrMissing = errors.New("audio blob missing")

// New selects a backend from config.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	switch strings.ToLower(cfg.BlobBackend) {
	case "", "local":
		return NewLocal(cfg.DataDir)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("BLOB_BACKEND=s3 requires AUDIO_S3_BUCKET")
		}
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

// ReadAll fetches the whole blob, as the worker does before a provider call.
func ReadAll(ctx context.Context, s Store, ref string) ([]byte, error) {
	obj, _, _, err := s.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// MimeForRef guesses the audio content type from the reference extension.
func MimeForRef(ref string) string {
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".webm":
		return "audio/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

func objectKey(recordingID, ext string) string {
	if ext == "" || !strings.HasPrefix(ext, ".") {
		ext = ".webm"
	}
	return recordingID + strings.ToLower(ext)
}
