package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

const defaultSTTBaseURL = "https://api.openai.com/v1"

// HTTPTranscriber transcribes bounded WAV buffers through a Whisper-style
// verbose transcription endpoint.
type HTTPTranscriber struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewHTTPTranscriber(apiKey, baseURL string, client *http.Client) *HTTPTranscriber {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultSTTBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTranscriber{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      "whisper-1",
		httpClient: client,
	}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, wav []byte, language string) (*Transcript, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "turn.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", t.model); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("write response_format field: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return nil, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription error %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Text     string `json:"text"`
		Segments []struct {
			NoSpeechProb float64 `json:"no_speech_prob"`
		} `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("parse transcription response: %w", err)
	}

	out := &Transcript{Text: strings.TrimSpace(decoded.Text)}
	// Report the minimum segment no-speech probability: if any segment clearly
	// contains speech, the turn does.
	for i, seg := range decoded.Segments {
		if i == 0 || seg.NoSpeechProb < out.NoSpeechProb {
			out.NoSpeechProb = seg.NoSpeechProb
		}
	}
	return out, nil
}
