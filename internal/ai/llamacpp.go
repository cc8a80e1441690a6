package ai

import (
	"bufio"
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
)

const (
	defaultLlamaCppURL   = "http://localhost:8080"
	defaultLlamaCppModel = "llava"
)

// LlamaCppProvider streams completions from an on-device llama.cpp server.
type LlamaCppProvider struct {
	parsedURL *url.URL
	model     string
	client    *http.Client
	opts      options
}

var _ Generator = (*LlamaCppProvider)(nil)

// NewLlamaCppProvider creates a new llama.cpp provider with the given config.
func NewLlamaCppProvider(baseURL, model string, opts ...Option) (*LlamaCppProvider, error) {
	if baseURL == "" {
		baseURL = defaultLlamaCppURL
	}
	if model == "" {
		model = defaultLlamaCppModel
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid llama.cpp URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid llama.cpp URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("invalid llama.cpp URL: missing host")
	}
	return &LlamaCppProvider{
		parsedURL: parsed,
		model:     model,
		client:    &http.Client{},
		opts:      applyOptions(opts),
	}, nil
}

// Name returns the model name.
func (p *LlamaCppProvider) Name() string {
	return p.model
}

// llamaCppRequest represents a request to the llama.cpp OpenAI-compatible API.
type llamaCppRequest struct {
	Model       string            `json:"model"`
	Messages    []llamaCppMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Stream      bool              `json:"stream"`
}

type llamaCppMessage struct {
	Role    string                `json:"role"`
	Content []llamaCppContentPart `json:"content"`
}

type llamaCppContentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *llamaCppImageURL `json:"image_url,omitempty"`
}

type llamaCppImageURL struct {
	URL string `json:"url"`
}

// llamaCppChunk is one server-sent event of a streamed completion.
type llamaCppChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Ready reports whether the server has finished loading the model.
// llama.cpp answers /health with 503 while loading.
func (p *LlamaCppProvider) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.parsedURL.JoinPath("/health").String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llama.cpp not ready (status %d)", resp.StatusCode)
	}
	return nil
}

// Generate posts a streaming chat completion and reads the SSE response.
func (p *LlamaCppProvider) Generate(ctx context.Context, prompt string, images [][]byte, onPartial func(string)) (string, error) {
	parts := []llamaCppContentPart{{Type: "text", Text: prompt}}
	for _, img := range images {
		parts = append(parts, llamaCppContentPart{
			Type:     "image_url",
			ImageURL: &llamaCppImageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)},
		})
	}

	reqBody := llamaCppRequest{
		Model:       p.model,
		Messages:    []llamaCppMessage{{Role: "user", Content: parts}},
		MaxTokens:   p.opts.maxTokens,
		Temperature: p.opts.temperature,
		Stream:      true,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	reqURL := p.parsedURL.JoinPath("/v1/chat/completions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	out := &collector{onPartial: onPartial}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return out.result()
		}

		var chunk llamaCppChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("failed to parse stream: %w", err)
		}
		for _, c := range chunk.Choices {
			out.add(c.Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read stream: %w", err)
	}
	// Some builds close the stream without [DONE].
	return out.result()
}
