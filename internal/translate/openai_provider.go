package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIProvider is a Provider backed by an OpenAI-compatible chat
// completions endpoint, grounded on the original implementation's
// GPT-based contextual translator: one block of `[SEGk]`-marked lines
// goes in as a single user message, the model's job is to translate
// every line and keep the markers intact.
type OpenAIProvider struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIProvider creates an OpenAIProvider. endpoint is the full
// chat-completions URL (e.g. "https://api.openai.com/v1/chat/completions"
// or a compatible self-hosted gateway).
func NewOpenAIProvider(name, endpoint, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		name:       name,
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Translate implements Provider: it sends block (a `[SEGk] text` list)
// as a single chat turn with an instruction to translate line by line
// and preserve the markers, and returns the model's reply verbatim for
// the facade's parseBlock to recombine.
func (p *OpenAIProvider) Translate(ctx context.Context, block, sourceLang, targetLang string) (string, error) {
	prompt := fmt.Sprintf(
		"Translate the following subtitle lines from %s to %s. "+
			"Each line starts with a [SEGk] marker; keep every marker exactly as given, "+
			"translate only the text after it, and return one translated line per input line with no extra commentary.\n\n%s",
		sourceLang, targetLang, block,
	)

	reqBody := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("translate: %s: marshal request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("translate: %s: build request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate: %s: request: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("translate: %s: read response: %w", p.name, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &RateExhaustedError{Provider: p.name}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate: %s: request rejected %d: %s", p.name, resp.StatusCode, string(body))
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("translate: %s: decode response: %w", p.name, err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("translate: %s: provider error: %s", p.name, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("translate: %s: empty response", p.name)
	}
	return decoded.Choices[0].Message.Content, nil
}
