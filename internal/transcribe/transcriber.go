// Package transcribe is the Transcriber stage's implementation: a thin
// HTTP client against a remote speech-to-text worker, posting the
// extracted audio as multipart form data and decoding a segments+
// detected-language response.
//
// Grounded on the serverless job-handler contract the original
// implementation's transcription worker exposed: job_id/audio input in,
// segments/detected-language out. There is no in-process speech model
// here — the model is a configuration knob on the remote side
// (whisper_model in the original), exactly as pipeline.Transcriber's
// modelTier parameter models it.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"frameworks/internal/pipeline"
	"frameworks/pkg/logging"
	"frameworks/pkg/models"
)

// Config holds the remote transcription endpoint's connection details.
type Config struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig returns conservative client-side defaults; Endpoint and
// APIKey must still be supplied.
func DefaultConfig() Config {
	return Config{
		Timeout:    10 * time.Minute,
		MaxRetries: 2,
	}
}

type wordResponse struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type segmentResponse struct {
	Start float64        `json:"start"`
	End   float64        `json:"end"`
	Text  string         `json:"text"`
	Words []wordResponse `json:"words,omitempty"`
}

type transcribeResponse struct {
	DetectedLanguage string            `json:"detected_language"`
	Segments         []segmentResponse `json:"segments"`
	Error            string            `json:"error,omitempty"`
}

// Client implements pipeline.Transcriber.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     logging.Logger
}

// New creates a Client.
func New(cfg Config, logger logging.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// Transcribe posts the audio file at audioPath to the remote worker and
// decodes its segments/detected-language response. Transient failures
// (connection errors, 5xx) are retried with capped backoff; a 4xx is
// treated as a hard failure and surfaced immediately.
func (c *Client) Transcribe(ctx context.Context, audioPath, sourceLanguage, modelTier string) (*pipeline.TranscribeResult, error) {
	backoff := 500 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		result, retryable, err := c.attempt(ctx, audioPath, sourceLanguage, modelTier)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable || attempt == c.cfg.MaxRetries {
			break
		}
		c.logger.WithFields(logging.Fields{"attempt": attempt}).WithError(err).Warn("transcription attempt failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 8*time.Second {
			backoff *= 2
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, audioPath, sourceLanguage, modelTier string) (*pipeline.TranscribeResult, bool, error) {
	body, contentType, err := buildMultipart(audioPath, sourceLanguage, modelTier)
	if err != nil {
		return nil, false, fmt.Errorf("transcribe: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return nil, false, fmt.Errorf("transcribe: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("transcribe: request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("transcribe: read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("transcribe: server error %d: %s", resp.StatusCode, string(payload))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("transcribe: request rejected %d: %s", resp.StatusCode, string(payload))
	}

	var decoded transcribeResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, false, fmt.Errorf("transcribe: decode response: %w", err)
	}
	if decoded.Error != "" {
		return nil, false, fmt.Errorf("transcribe: worker error: %s", decoded.Error)
	}

	segments := make([]models.Segment, len(decoded.Segments))
	for i, s := range decoded.Segments {
		words := make([]models.WordTiming, len(s.Words))
		for j, w := range s.Words {
			words[j] = models.WordTiming{Start: w.Start, End: w.End, Text: w.Text}
		}
		segments[i] = models.Segment{Start: s.Start, End: s.End, Text: s.Text, Words: words}
	}

	return &pipeline.TranscribeResult{Segments: segments, DetectedLanguage: decoded.DetectedLanguage}, false, nil
}

func buildMultipart(audioPath, sourceLanguage, modelTier string) (io.Reader, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("source_language", sourceLanguage); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("model_tier", modelTier); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
