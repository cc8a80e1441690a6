package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/kozaktomas/camflow/internal/facematch"
	"github.com/kozaktomas/camflow/internal/imaging"
)

func (p *Pipeline) recognize(ctx context.Context, ref string) (string, []facematch.RecognitionResult, error) {
	data, err := p.images.Load(ctx, ref)
	if err != nil {
		return "", nil, err
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return "", nil, err
	}

	results, err := p.recognizer.Recognize(ctx, img)
	if err != nil {
		return "", nil, err
	}
	return DescribeRecognition(results), results, nil
}

// DescribeRecognition summarizes the best match of an image.
func DescribeRecognition(results []facematch.RecognitionResult) string {
	if len(results) == 0 {
		return "No faces detected"
	}
	best, ok := facematch.Best(results)
	if !ok {
		return "Unknown person"
	}
	return fmt.Sprintf("Recognized: %s (%d%%)", best.Name, int(math.Round(best.Confidence*100)))
}
