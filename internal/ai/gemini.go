package ai

import (
	"context"
	"fmt"

	"github.com/kozaktomas/camflow/internal/imaging"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider streams completions from the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
	opts   options
}

var _ Generator = (*GeminiProvider)(nil)

func NewGeminiProvider(ctx context.Context, apiKey, model string, opts ...Option) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}

	return &GeminiProvider{
		client: client,
		model:  model,
		opts:   applyOptions(opts),
	}, nil
}

func (p *GeminiProvider) Name() string {
	return p.model
}

// Ready checks that the model exists and the key is accepted.
func (p *GeminiProvider) Ready(ctx context.Context) error {
	if _, err := p.client.Models.Get(ctx, p.model, nil); err != nil {
		return fmt.Errorf("gemini API error: %w", err)
	}
	return nil
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string, images [][]byte, onPartial func(string)) (string, error) {
	parts := []*genai.Part{{Text: prompt}}
	for _, img := range images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: img, MIMEType: imaging.DetectMIMEType(img)}})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	temperature := float32(p.opts.temperature)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(p.opts.maxTokens), //nolint:gosec // small configured value
		Temperature:     &temperature,
	}

	out := &collector{onPartial: onPartial}
	for result, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
		if err != nil {
			return "", fmt.Errorf("gemini API error: %w", err)
		}
		out.add(result.Text())
	}
	return out.result()
}
