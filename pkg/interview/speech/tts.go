package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultTTSBaseURL = "https://api.openai.com/v1"

// HTTPSynthesizer produces PCM16 audio from interviewer text.
type HTTPSynthesizer struct {
	apiKey     string
	baseURL    string
	model      string
	voice      string
	httpClient *http.Client
}

func NewHTTPSynthesizer(apiKey, baseURL, voice string, client *http.Client) *HTTPSynthesizer {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultTTSBaseURL
	}
	if strings.TrimSpace(voice) == "" {
		voice = "alloy"
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSynthesizer{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      "tts-1",
		voice:      voice,
		httpClient: client,
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string, language string) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"model":           s.model,
		"input":           text,
		"voice":           s.voice,
		"response_format": "pcm",
	})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("synthesis error %d: %s", resp.StatusCode, string(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	return audio, nil
}
