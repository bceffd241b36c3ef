package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"voiceflow/internal/config"
	"voiceflow/internal/models"
	"voiceflow/internal/telemetry"
)

// OpenAI uses two endpoints: audio/transcriptions (verbose_json) for
// segments and chat/completions for the analysis.
type OpenAI struct {
	apiKey          string
	baseURL         string
	transcribeModel string
	chatModel       string
	client          *http.Client
	policy          retryPolicy
}

func NewOpenAI(cfg config.Config) *OpenAI {
	base := strings.TrimSuffix(cfg.OpenAIBaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return &OpenAI{
		apiKey:          cfg.OpenAIAPIKey,
		baseURL:         base,
		transcribeModel: cfg.OpenAITranscribe,
		chatModel:       cfg.OpenAIChatModel,
		client:          &http.Client{Timeout: cfg.ProviderTimeout},
		policy:          policyFromConfig(cfg),
	}
}

func (o *OpenAI) Name() string { return "openai" }

type openAITranscription struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, mimeType, _ string) ([]models.Segment, error) {
	var tr openAITranscription
	err := withRetry(ctx, o.policy, func() error {
		return o.transcribeOnce(ctx, audio, mimeType, &tr)
	})
	if err != nil {
		return nil, err
	}

	segments := make([]models.Segment, 0, len(tr.Segments))
	for i, s := range tr.Segments {
		segments = append(segments, models.Segment{ID: i + 1, StartTime: s.Start, Text: strings.TrimSpace(s.Text)})
	}
	if len(segments) == 0 && strings.TrimSpace(tr.Text) != "" {
		// Some deployments return plain text without timings; keep it
		// as a single segment rather than losing the transcript.
		segments = append(segments, models.Segment{ID: 1, StartTime: 0, Text: strings.TrimSpace(tr.Text)})
	}
	return segments, nil
}

func (o *OpenAI) transcribeOnce(ctx context.Context, audio []byte, mimeType string, out *openAITranscription) error {
	telemetry.ProviderCalls.Inc()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", o.transcribeModel); err != nil {
		return &Error{Provider: "openai", Op: "transcribe", Err: err}
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return &Error{Provider: "openai", Op: "transcribe", Err: err}
	}
	fw, err := mw.CreateFormFile("file", "audio"+extForMime(mimeType))
	if err != nil {
		return &Error{Provider: "openai", Op: "transcribe", Err: err}
	}
	if _, err := fw.Write(audio); err != nil {
		return &Error{Provider: "openai", Op: "transcribe", Err: err}
	}
	if err := mw.Close(); err != nil {
		return &Error{Provider: "openai", Op: "transcribe", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return &Error{Provider: "openai", Op: "transcribe", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return o.do(req, "transcribe", out)
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Analyze(ctx context.Context, transcript, scene string) (models.Analysis, error) {
	payload, err := json.Marshal(chatRequest{
		Model: o.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(scene)},
			{Role: "user", Content: analyzePrompt(transcript)},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return models.Analysis{}, &Error{Provider: "openai", Op: "analyze", Err: err}
	}

	var doc struct {
		Analysis    *models.Analysis `json:"analysis"`
		Summary     string           `json:"summary"`
		ActionItems []string         `json:"todoList"`
	}
	err = withRetry(ctx, o.policy, func() error {
		telemetry.ProviderCalls.Inc()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return &Error{Provider: "openai", Op: "analyze", Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		req.Header.Set("Content-Type", "application/json")

		var cr chatResponse
		if err := o.do(req, "analyze", &cr); err != nil {
			return err
		}
		if len(cr.Choices) == 0 {
			return &Error{Provider: "openai", Op: "analyze", Status: http.StatusOK, Err: errors.New("empty choices")}
		}
		content := extractJSONObject(cr.Choices[0].Message.Content)
		if err := json.Unmarshal([]byte(content), &doc); err != nil {
			return &Error{Provider: "openai", Op: "analyze", Status: http.StatusOK, Err: fmt.Errorf("malformed JSON payload: %w", err)}
		}
		return nil
	})
	if err != nil {
		return models.Analysis{}, err
	}
	if doc.Analysis != nil {
		return *doc.Analysis, nil
	}
	return models.Analysis{Summary: doc.Summary, ActionItems: doc.ActionItems}, nil
}

func (o *OpenAI) do(req *http.Request, op string, out any) error {
	resp, err := o.client.Do(req)
	if err != nil {
		return &Error{Provider: "openai", Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return &Error{Provider: "openai", Op: op, Status: resp.StatusCode, Err: errors.New(snippet(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Provider: "openai", Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func extForMime(mimeType string) string {
	switch mimeType {
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "audio/mp4":
		return ".m4a"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}
