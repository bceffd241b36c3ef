package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Local stores audio files under <baseDir>/uploads. References are
// paths relative to the base directory.
type Local struct {
	baseDir string
}

// NewLocal creates the data directories if needed.
func NewLocal(baseDir string) (*Local, error) {
	if baseDir == "" {
		baseDir = "./data"
	}
	for _, dir := range []string{baseDir, filepath.Join(baseDir, "uploads"), filepath.Join(baseDir, "tmp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &Local{baseDir: baseDir}, nil
}

func (l *Local) Save(_ context.Context, recordingID, ext string, r io.Reader) (string, error) {
	// Write to a temp file first so a failed upload never leaves a
	// partial blob at the final reference.
	tmpPath := filepath.Join(l.baseDir, "tmp", uuid.NewString())
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create temp upload: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close upload: %w", err)
	}

	ref := filepath.Join("uploads", objectKey(recordingID, ext))
	finalPath := filepath.Join(l.baseDir, ref)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	return ref, nil
}

func (l *Local) Open(_ context.Context, ref string) (Object, int64, time.Time, error) {
	path := l.resolve(ref)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, time.Time{}, ErrMissing
		}
		return nil, 0, time.Time{}, fmt.Errorf("open blob: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, time.Time{}, fmt.Errorf("stat blob: %w", err)
	}
	return f, st.Size(), st.ModTime(), nil
}

func (l *Local) Remove(_ context.Context, ref string) error {
	err := os.Remove(l.resolve(ref))
	if errors.Is(err, os.ErrNotExist) {
		return ErrMissing
	}
	return err
}

func (l *Local) resolve(ref string) string {
	// Refs are stored relative to baseDir; rooting the clean keeps any
	// ".." in a ref from escaping it.
	return filepath.Join(l.baseDir, filepath.Clean(string(filepath.Separator)+ref))
}
