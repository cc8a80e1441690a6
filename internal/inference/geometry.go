package inference

import (
	"image"
	"sort"
)

// DuplicateIoU is the overlap above which two detections are considered the same face.
const DuplicateIoU = 0.5

// ScoredRect is a detection box with its confidence.
type ScoredRect struct {
	Rect  image.Rectangle
	Score float64
}

// ComputeIoU calculates Intersection over Union between two rectangles.
func ComputeIoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}

	intersection := area(inter)
	union := area(a) + area(b) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func area(r image.Rectangle) float64 {
	return float64(r.Dx()) * float64(r.Dy())
}

// Dedupe keeps the highest scoring box of every group overlapping above threshold.
// The result is ordered by descending score.
func Dedupe(rects []ScoredRect, threshold float64) []ScoredRect {
	sorted := make([]ScoredRect, len(rects))
	copy(sorted, rects)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	kept := make([]ScoredRect, 0, len(sorted))
	for _, r := range sorted {
		dup := false
		for _, k := range kept {
			if ComputeIoU(r.Rect, k.Rect) > threshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, r)
		}
	}
	return kept
}
