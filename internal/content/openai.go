package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// ProviderError is a non-2xx reply from a provider.
type ProviderError struct {
	StatusCode int
	Transient  bool
	Message    string
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Message == "" {
		return fmt.Sprintf("content provider: %s error (status %d)", kind, e.StatusCode)
	}
	return fmt.Sprintf("content provider: %s error (status %d): %s", kind, e.StatusCode, e.Message)
}

// OpenAIProvider speaks the OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	model   string
	hc      *http.Client
}

func NewOpenAIProvider(baseURL, apiKey, model string, hc *http.Client) *OpenAIProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAIProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		hc:      hc,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, pr Prompt) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: pr.System},
			{Role: "user", Content: pr.User},
		},
		Temperature: 0.4,
		MaxTokens:   120,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completions: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", mapStatus(resp.StatusCode, respBody)
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrMalformed, err)
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", &ProviderError{StatusCode: resp.StatusCode, Message: out.Error.Message}
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformed)
	}
	return out.Choices[0].Message.Content, nil
}

func mapStatus(code int, body []byte) error {
	var env chatResponse
	msg := ""
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		msg = env.Error.Message
	}
	return &ProviderError{
		StatusCode: code,
		Transient:  code == http.StatusTooManyRequests || code >= 500,
		Message:    msg,
	}
}

// IsTransient reports whether err is a provider outage (429 or 5xx) rather than a rejected request.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}
