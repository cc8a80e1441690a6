// Package ai wraps the text-generation backends the analysis pipeline
// streams image descriptions from.
package ai

import (
	"context"
	"errors"
	"strings"
)

// ErrNoResponse is returned when a backend finishes without producing text.
var ErrNoResponse = errors.New("model returned no text")

// Generator produces text for a prompt and a set of images. Partial output is
// passed to onPartial as it arrives; the returned string is the full text.
type Generator interface {
	Name() string
	Ready(ctx context.Context) error
	Generate(ctx context.Context, prompt string, images [][]byte, onPartial func(chunk string)) (string, error)
}

// Option configures a generator.
type Option func(*options)

type options struct {
	maxTokens   int
	temperature float64
}

func defaultOptions() options {
	return options{maxTokens: 300, temperature: 0.2}
}

// WithMaxTokens caps the generated length.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *options) { o.temperature = t }
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// collector accumulates streamed chunks and forwards them to onPartial.
type collector struct {
	b         strings.Builder
	onPartial func(string)
}

func (c *collector) add(chunk string) {
	if chunk == "" {
		return
	}
	c.b.WriteString(chunk)
	if c.onPartial != nil {
		c.onPartial(chunk)
	}
}

func (c *collector) result() (string, error) {
	text := strings.TrimSpace(c.b.String())
	if text == "" {
		return "", ErrNoResponse
	}
	return text, nil
}
