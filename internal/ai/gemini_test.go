package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGemini(serverURL string) *Gemini {
	return &Gemini{
		apiKey:  "test-key",
		model:   "gemini-2.5-flash",
		baseURL: serverURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		policy:  retryPolicy{maxAttempts: 3, initial: time.Millisecond, max: 5 * time.Millisecond},
	}
}

func geminiReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	})
	return string(b)
}

func TestGeminiTranscribeParsesWrappedTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "generateContent")
		_, _ = w.Write([]byte(geminiReply(`{"transcript":{"segments":[{"id":1,"startTime":0,"speaker":"Me","text":"hello"}]}}`)))
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	segs, err := g.Transcribe(context.Background(), []byte("audio"), "audio/webm", "meeting")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "hello", segs[0].Text)
}

func TestGeminiTranscribeParsesTopLevelSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(geminiReply(`{"segments":[{"id":1,"startTime":2,"text":"plain shape"}]}`)))
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	segs, err := g.Transcribe(context.Background(), []byte("audio"), "audio/webm", "")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "plain shape", segs[0].Text)
}

func TestGeminiTranscribeToleratesCodeFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fenced := "```json\n{\"segments\":[{\"id\":1,\"text\":\"fenced\"}]}\n```"
		_, _ = w.Write([]byte(geminiReply(fenced)))
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	segs, err := g.Transcribe(context.Background(), []byte("audio"), "audio/webm", "")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "fenced", segs[0].Text)
}

func TestGeminiRetriesTransientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(geminiReply(`{"analysis":{"summary":"ok","todoList":["a"]}}`)))
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	an, err := g.Analyze(context.Background(), "some transcript", "meeting")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "ok", an.Summary)
	assert.Equal(t, []string{"a"}, an.ActionItems)
}

func TestGeminiDoesNotRetryAuthFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	_, err := g.Transcribe(context.Background(), []byte("audio"), "audio/webm", "")
	require.Error(t, err)
	assert.Equal(t, 1, calls, "fatal errors burn a single attempt")

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
	assert.False(t, pe.Transient())
}

func TestGeminiAnalyzeFlatShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(geminiReply(`{"summary":"flat","todoList":["x","y"]}`)))
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	an, err := g.Analyze(context.Background(), "transcript", "")
	require.NoError(t, err)
	assert.Equal(t, "flat", an.Summary)
	assert.Equal(t, []string{"x", "y"}, an.ActionItems)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{0, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tc := range cases {
		e := &Error{Provider: "gemini", Op: "transcribe", Status: tc.status, Err: errors.New("x")}
		assert.Equal(t, tc.transient, e.Transient(), "status %d", tc.status)
	}

	assert.False(t, IsTransient(errors.New("unclassified")), "unknown errors are fatal")
	assert.True(t, IsTransient(&Error{Status: 503, Err: errors.New("x")}))
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSONObject(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, extractJSONObject(" {\"a\":1} \n"))
	assert.Equal(t, `{"a":1}`, extractJSONObject("Here you go:\n```json\n{\"a\":1}\n```"))
	assert.Equal(t, "no braces", extractJSONObject("no braces"))
}
