package facematch

import (
	"context"
	"fmt"
	"image"

	"github.com/kozaktomas/camflow/internal/embedding"
	"github.com/kozaktomas/camflow/internal/inference"
	"github.com/kozaktomas/camflow/internal/logger"
	"go.uber.org/zap"
)

// RecognitionResult describes one detected face.
type RecognitionResult struct {
	Name       string          `json:"name,omitempty"`
	Matched    bool            `json:"matched"`
	Confidence float64         `json:"confidence"`
	Region     image.Rectangle `json:"region"`
}

// Recognizer detects, embeds and matches every face in an image.
type Recognizer struct {
	Detector  inference.Detector
	Extractor embedding.Embedder
	Matcher   *Matcher
}

// Recognize returns one result per detected face. Faces that fail to embed are skipped;
// an error is returned only when detection fails or every face failed.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image) ([]RecognitionResult, error) {
	faces, err := r.Detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	results := make([]RecognitionResult, 0, len(faces))
	var lastErr error
	for i, region := range faces {
		emb, err := r.Extractor.Embed(ctx, img, region)
		if err != nil {
			logger.FromContext(ctx).Warn("skipping face", zap.Int("face", i), zap.Error(err))
			lastErr = err
			continue
		}

		m, ok, err := r.Matcher.BestMatch(ctx, emb)
		if err != nil {
			return nil, err
		}
		res := RecognitionResult{Region: region, Confidence: clamp01(m.Score)}
		if ok {
			res.Name = m.Name
			res.Matched = true
		}
		results = append(results, res)
	}

	if len(results) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return results, nil
}

// Best returns the matched result with the highest confidence.
func Best(results []RecognitionResult) (RecognitionResult, bool) {
	var best RecognitionResult
	found := false
	for _, r := range results {
		if !r.Matched {
			continue
		}
		if !found || r.Confidence > best.Confidence {
			best = r
			found = true
		}
	}
	return best, found
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
