package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"voiceflow/internal/config"
	"voiceflow/internal/models"
)

// Provider turns audio into transcript segments and transcripts into a
// summary with action items. Implementations are interchangeable;
// selection happens in New via configuration, never through parallel
// entrypoints.
type Provider interface {
	Name() string
	// Transcribe returns raw segments in order. The worker normalizes
	// them before persistence; providers do not guarantee dense
	// ordinals or non-blank text.
	Transcribe(ctx context.Context, audio []byte, mimeType, scene string) ([]models.Segment, error)
	// Analyze derives a summary and action items from the transcript
	// text, with the scene tag as a hint.
	Analyze(ctx context.Context, transcript, scene string) (models.Analysis, error)
}

// New selects the configured provider. A missing credential returns a
// nil Provider and no error: degradation to placeholder output is the
// worker's policy, not a failure.
func New(cfg config.Config) (Provider, error) {
	switch strings.ToLower(cfg.AIProvider) {
	case "", "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, nil
		}
		return NewGemini(cfg), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, nil
		}
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.AIProvider)
	}
}

// Error is a provider-level failure. Status 0 means a network error.
type Error struct {
	Provider string
	Op       string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Provider, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth another attempt:
// rate limits, 5xx, and network errors. Auth failures and malformed
// requests/responses are fatal to the current job attempt.
func (e *Error) Transient() bool {
	if e.Status == 0 {
		return true
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsTransient classifies any error using the Provider Error type;
// unknown errors are treated as fatal.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}

type retryPolicy struct {
	maxAttempts int
	initial     time.Duration
	max         time.Duration
}

func policyFromConfig(cfg config.Config) retryPolicy {
	p := retryPolicy{
		maxAttempts: cfg.ProviderMaxAttempts,
		initial:     cfg.ProviderBackoff,
		max:         cfg.ProviderBackoffMax,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 5
	}
	if p.initial <= 0 {
		p.initial = time.Second
	}
	if p.max <= 0 {
		p.max = 15 * time.Second
	}
	return p
}

// withRetry runs fn under the provider's internal retry budget: bounded
// attempts with capped exponential backoff, transient errors only.
func withRetry(ctx context.Context, p retryPolicy, fn func() error) error {
	delay := p.initial
	var err error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) || attempt == p.maxAttempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.max {
			delay = p.max
		}
	}
	return err
}
