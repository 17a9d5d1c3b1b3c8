package speech

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
	"time"
)

const (
	defaultWhisperBaseURL = "https://api.openai.com"
	defaultWhisperModel   = "whisper-1"
	defaultWhisperTimeout = 120 * time.Second

	transcriptionsPath = "/v1/audio/transcriptions"
)

// ErrNoCredential is returned when the client was built without an API
// key; callers treat it like any other transcription failure.
var ErrNoCredential = errors.New("speech: no API key configured")

// Whisper transcribes audio through an OpenAI-compatible
// /v1/audio/transcriptions endpoint using the verbose JSON response
// format, which carries per-segment timestamps. It works against the
// hosted OpenAI API as well as local whisper servers exposing the same
// surface.
type Whisper struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ Transcriber = (*Whisper)(nil)

// WhisperOption configures the Whisper client.
type WhisperOption func(*Whisper)

// WithBaseURL points the client at an alternative endpoint.
func WithBaseURL(url string) WhisperOption {
	return func(w *Whisper) { w.baseURL = strings.TrimRight(url, "/") }
}

// WithModel overrides the transcription model (default whisper-1).
func WithModel(model string) WhisperOption {
	return func(w *Whisper) { w.model = model }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) WhisperOption {
	return func(w *Whisper) { w.httpClient = c }
}

// NewWhisper creates a Whisper transcription client. The apiKey may be
// empty for local endpoints that skip authentication against the hosted
// API; Transcribe then fails fast with ErrNoCredential unless a custom
// base URL was configured.
func NewWhisper(apiKey string, opts ...WhisperOption) *Whisper {
	w := &Whisper{
		baseURL:    defaultWhisperBaseURL,
		apiKey:     apiKey,
		model:      defaultWhisperModel,
		httpClient: &http.Client{Timeout: defaultWhisperTimeout},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Transcribe submits one WAV chunk and returns its timestamped
// transcription.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte) (*Transcription, error) {
	if w.apiKey == "" && w.baseURL == defaultWhisperBaseURL {
		return nil, ErrNoCredential
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", w.model); err != nil {
		return nil, fmt.Errorf("speech: write form field: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("speech: write form field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return nil, fmt.Errorf("speech: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, fmt.Errorf("speech: write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("speech: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+transcriptionsPath, &body)
	if err != nil {
		return nil, fmt.Errorf("speech: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech: transcription failed: status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var apiResp struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("speech: unmarshal response: %w", err)
	}

	t := &Transcription{
		FullText: strings.TrimSpace(apiResp.Text),
		Language: apiResp.Language,
		Duration: apiResp.Duration,
	}
	for _, s := range apiResp.Segments {
		t.Segments = append(t.Segments, Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return t, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
