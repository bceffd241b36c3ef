package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRoundTrip(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := l.Save(ctx, "a1b2c3d4e5f60718", ".webm", strings.NewReader("audio bytes"))
	require.NoError(t, err)
	assert.Equal(t, "uploads/a1b2c3d4e5f60718.webm", ref)

	obj, size, modTime, err := l.Open(ctx, ref)
	require.NoError(t, err)
	defer obj.Close()
	assert.Equal(t, int64(len("audio bytes")), size)
	assert.False(t, modTime.IsZero())

	body, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "audio bytes", string(body))

	// Seekable for byte-range serving.
	_, err = obj.Seek(6, io.SeekStart)
	require.NoError(t, err)
	tail, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(tail))
}

func TestLocalMissingBlob(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, _, err = l.Open(ctx, "uploads/nope.webm")
	assert.ErrorIs(t, err, ErrMissing)
	assert.ErrorIs(t, l.Remove(ctx, "uploads/nope.webm"), ErrMissing)
}

func TestLocalRemove(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := l.Save(ctx, "a1b2c3d4e5f60718", ".mp3", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, l.Remove(ctx, ref))

	_, _, _, err = l.Open(ctx, ref)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestLocalRefStaysInsideBase(t *testing.T) {
	base := t.TempDir()
	l, err := NewLocal(base)
	require.NoError(t, err)

	resolved := l.resolve("../../etc/passwd")
	assert.True(t, strings.HasPrefix(resolved, base), "resolved %q escapes base", resolved)
}

func TestObjectKeyDefaultsExtension(t *testing.T) {
	assert.Equal(t, "abc.webm", objectKey("abc", ""))
	assert.Equal(t, "abc.webm", objectKey("abc", "webm"))
	assert.Equal(t, "abc.mp3", objectKey("abc", ".MP3"))
}

func TestMimeForRef(t *testing.T) {
	assert.Equal(t, "audio/webm", MimeForRef("uploads/a.webm"))
	assert.Equal(t, "audio/mpeg", MimeForRef("a.mp3"))
	assert.Equal(t, "audio/mp4", MimeForRef("a.m4a"))
	assert.Equal(t, "application/octet-stream", MimeForRef("a.bin"))
}
