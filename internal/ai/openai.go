package ai

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/kozaktomas/camflow/internal/imaging"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = openai.ChatModelGPT4_1Mini

// OpenAIProvider streams chat completions from the OpenAI API.
type OpenAIProvider struct {
	client openai.Client
	model  string
	opts   options
}

var _ Generator = (*OpenAIProvider)(nil)

func NewOpenAIProvider(apiKey, model string, opts ...Option) *OpenAIProvider {
	return newOpenAIProvider(model, opts, option.WithAPIKey(apiKey))
}

func newOpenAIProvider(model string, opts []Option, reqOpts ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client: openai.NewClient(reqOpts...),
		model:  model,
		opts:   applyOptions(opts),
	}
}

func (p *OpenAIProvider) Name() string {
	return p.model
}

// Ready checks that the model is visible to the API key.
func (p *OpenAIProvider) Ready(ctx context.Context) error {
	if _, err := p.client.Models.Get(ctx, p.model); err != nil {
		return fmt.Errorf("openai API error: %w", err)
	}
	return nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, images [][]byte, onPartial func(string)) (string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(prompt)}
	for _, img := range images {
		dataURL := "data:" + imaging.DetectMIMEType(img) + ";base64," + base64.StdEncoding.EncodeToString(img)
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    dataURL,
			Detail: "low",
		}))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: parts,
					},
				},
			},
		},
		MaxTokens:   openai.Int(int64(p.opts.maxTokens)),
		Temperature: openai.Float(p.opts.temperature),
	})
	defer stream.Close()

	out := &collector{onPartial: onPartial}
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			out.add(choice.Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	return out.result()
}
