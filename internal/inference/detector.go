package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
)

// Detector finds face regions in an image. Zero faces is a normal result.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error)
}

type faceDetection struct {
	BBox     []float64 `json:"bbox"` // [x1, y1, x2, y2] in pixels
	DetScore float64   `json:"det_score"`
}

type detectResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
}

// HTTPDetector runs face detection on the sidecar.
type HTTPDetector struct {
	client   *Client
	minScore float64
	iou      float64
}

var _ Detector = (*HTTPDetector)(nil)

// NewDetector creates a detector. Detections below minScore are dropped and
// overlapping boxes above DuplicateIoU are merged.
func NewDetector(client *Client, minScore float64) *HTTPDetector {
	return &HTTPDetector{client: client, minScore: minScore, iou: DuplicateIoU}
}

// Detect returns face regions clamped to the image bounds, highest score first.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	body, err := d.client.postImage(ctx, "/detect/face", img)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	bounds := img.Bounds()
	scored := make([]ScoredRect, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.BBox) != 4 || f.DetScore < d.minScore {
			continue
		}
		r := image.Rect(
			bounds.Min.X+int(math.Floor(f.BBox[0])),
			bounds.Min.Y+int(math.Floor(f.BBox[1])),
			bounds.Min.X+int(math.Ceil(f.BBox[2])),
			bounds.Min.Y+int(math.Ceil(f.BBox[3])),
		).Intersect(bounds)
		if r.Empty() {
			continue
		}
		scored = append(scored, ScoredRect{Rect: r, Score: f.DetScore})
	}

	kept := Dedupe(scored, d.iou)
	out := make([]image.Rectangle, len(kept))
	for i, s := range kept {
		out[i] = s.Rect
	}
	return out, nil
}
