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
	"strings"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2-vision:11b"
)

// OllamaProvider streams completions from a local Ollama server.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
	opts    options
}

var _ Generator = (*OllamaProvider)(nil)

func NewOllamaProvider(baseURL, model string, opts ...Option) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
		opts:    applyOptions(opts),
	}
}

func (p *OllamaProvider) Name() string {
	return p.model
}

// ollamaRequest represents a request to the Ollama chat API
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64 encoded images
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// ollamaChunk is one line of the streamed chat response
type ollamaChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

type ollamaTags struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Ready checks that the server is up and the model has been pulled.
func (p *OllamaProvider) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d)", resp.StatusCode)
	}
	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	for _, m := range tags.Models {
		if m.Name == p.model || m.Model == p.model {
			return nil
		}
	}
	return fmt.Errorf("model %s is not available on %s", p.model, p.baseURL)
}

// Generate sends the prompt and images to /api/chat and reads the NDJSON stream.
func (p *OllamaProvider) Generate(ctx context.Context, prompt string, images [][]byte, onPartial func(string)) (string, error) {
	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}

	reqBody := ollamaRequest{
		Model: p.model,
		Messages: []ollamaMessage{
			{Role: "user", Content: prompt, Images: encoded},
		},
		Stream: true,
		Options: ollamaOptions{
			NumPredict:  p.opts.maxTokens,
			Temperature: p.opts.temperature,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("ollama stream ended without done marker")
			}
			return "", fmt.Errorf("failed to parse stream: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama API error: %s", chunk.Error)
		}
		out.add(chunk.Message.Content)
		if chunk.Done {
			return out.result()
		}
	}
}
