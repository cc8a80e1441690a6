package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
)

type embeddingResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// HTTPEngine computes identity embeddings for pre-cropped faces on the sidecar.
// It satisfies embedding.Engine.
type HTTPEngine struct {
	client *Client
	model  string
}

// NewEngine creates an engine backed by client.
func NewEngine(client *Client) *HTTPEngine {
	return &HTTPEngine{client: client}
}

// Infer posts the face crop and returns the embedding vector.
func (e *HTTPEngine) Infer(ctx context.Context, face image.Image) ([]float32, error) {
	body, err := e.client.postImage(ctx, "/embed/face-crop", face)
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	if resp.Dim != 0 && resp.Dim != len(resp.Embedding) {
		return nil, fmt.Errorf("embedding has %d values, server reported %d", len(resp.Embedding), resp.Dim)
	}
	e.model = resp.Model
	return resp.Embedding, nil
}

// Model returns the model name reported by the last successful call.
func (e *HTTPEngine) Model() string {
	return e.model
}

// Close releases the engine. The sidecar owns the model, so there is nothing to free locally.
func (e *HTTPEngine) Close() error {
	e.client.client.CloseIdleConnections()
	return nil
}
