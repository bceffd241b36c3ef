package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"voiceflow/internal/config"
	"voiceflow/internal/models"
	"voiceflow/internal/telemetry"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini speaks the generateContent API with inline audio data and a
// JSON response mime, so transcription is a single multimodal call.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	policy  retryPolicy
}

func NewGemini(cfg config.Config) *Gemini {
	return &Gemini{
		apiKey:  cfg.GeminiAPIKey,
		model:   cfg.GeminiModel,
		baseURL: geminiBaseURL,
		client:  &http.Client{Timeout: cfg.ProviderTimeout},
		policy:  policyFromConfig(cfg),
	}
}

func (g *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type geminiTranscriptDoc struct {
	Transcript *models.Transcript `json:"transcript"`
	Segments   []models.Segment   `json:"segments"`
}

func (g *Gemini) Transcribe(ctx context.Context, audio []byte, mimeType, scene string) ([]models.Segment, error) {
	parts := []geminiPart{
		{Text: transcribePrompt()},
		{InlineData: &geminiInlineData{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(audio),
		}},
	}

	var doc geminiTranscriptDoc
	err := withRetry(ctx, g.policy, func() error {
		return g.generate(ctx, "transcribe", parts, scene, &doc)
	})
	if err != nil {
		return nil, err
	}
	if doc.Transcript != nil {
		return doc.Transcript.Segments, nil
	}
	return doc.Segments, nil
}

func (g *Gemini) Analyze(ctx context.Context, transcript, scene string) (models.Analysis, error) {
	parts := []geminiPart{{Text: analyzePrompt(transcript)}}

	var doc struct {
		Analysis    *models.Analysis `json:"analysis"`
		Summary     string           `json:"summary"`
		ActionItems []string         `json:"todoList"`
	}
	err := withRetry(ctx, g.policy, func() error {
		return g.generate(ctx, "analyze", parts, scene, &doc)
	})
	if err != nil {
		return models.Analysis{}, err
	}
	if doc.Analysis != nil {
		return *doc.Analysis, nil
	}
	return models.Analysis{Summary: doc.Summary, ActionItems: doc.ActionItems}, nil
}

// generate performs one generateContent call and decodes the JSON text
// of the first candidate into out.
func (g *Gemini) generate(ctx context.Context, op string, parts []geminiPart, scene string, out any) error {
	telemetry.ProviderCalls.Inc()

	reqBody := geminiRequest{
		Contents:          []geminiContent{{Parts: parts}},
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt(scene)}}},
		GenerationConfig:  geminiGenConfig{ResponseMimeType: "application/json"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return &Error{Provider: "gemini", Op: op, Err: fmt.Errorf("marshal request: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &Error{Provider: "gemini", Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &Error{Provider: "gemini", Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return &Error{Provider: "gemini", Op: op, Status: resp.StatusCode, Err: errors.New(snippet(body))}
	}

	var gr geminiResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return &Error{Provider: "gemini", Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return &Error{Provider: "gemini", Op: op, Status: resp.StatusCode, Err: errors.New("empty candidate content")}
	}
	text := gr.Candidates[0].Content.Parts[0].Text
	if err := json.Unmarshal([]byte(extractJSONObject(text)), out); err != nil {
		return &Error{Provider: "gemini", Op: op, Status: resp.StatusCode, Err: fmt.Errorf("malformed JSON payload: %w", err)}
	}
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		s = "no body"
	}
	return s
}

// extractJSONObject tolerates models that wrap the JSON in prose or
// code fences by slicing the outermost object.
func extractJSONObject(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}
