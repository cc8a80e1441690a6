package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/kozaktomas/camflow/internal/embedding"
	"github.com/kozaktomas/camflow/internal/facematch"
	"github.com/kozaktomas/camflow/internal/persongroup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapLoader map[string][]byte

func (m mapLoader) Load(_ context.Context, ref string) ([]byte, error) {
	data, ok := m[ref]
	if !ok {
		return nil, errors.New("image not found")
	}
	return data, nil
}

// scriptedGenerator answers with the next reply, or fails when the reply is empty.
type scriptedGenerator struct {
	replies []string
	calls   int
	images  int
}

func (g *scriptedGenerator) Name() string                  { return "scripted" }
func (g *scriptedGenerator) Ready(_ context.Context) error { return nil }

func (g *scriptedGenerator) Generate(_ context.Context, _ string, images [][]byte, _ func(string)) (string, error) {
	reply := g.replies[g.calls%len(g.replies)]
	g.calls++
	g.images += len(images)
	if reply == "" {
		return "", errors.New("model crashed")
	}
	return reply, nil
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 100, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestRun_AnalyzeKeepsOrderAndProgress(t *testing.T) {
	loader := mapLoader{"a.jpg": jpegBytes(t, 40, 30), "b.jpg": jpegBytes(t, 30, 40)}
	gen := &scriptedGenerator{replies: []string{"a dog", "a cat"}}
	p := New(loader, WithPause(0))

	var progress []float64
	results, err := p.Run(context.Background(), Request{
		Images:    []string{"a.jpg", "b.jpg"},
		Mode:      ModeAnalyze,
		Prompt:    "describe",
		Generator: gen,
	}, func(v float64) { progress = append(progress, v) })

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.jpg", results[0].Image)
	assert.Equal(t, "a dog", results[0].Text)
	assert.Equal(t, "b.jpg", results[1].Image)
	assert.Equal(t, "a cat", results[1].Text)
	assert.False(t, results[0].CreatedAt.IsZero())
	assert.Equal(t, 2, gen.images)
	assert.Equal(t, []float64{0.5, 1}, progress)
}

func TestRun_ProgressWindow(t *testing.T) {
	loader := mapLoader{}
	images := make([]string, 4)
	for i := range images {
		images[i] = string(rune('a'+i)) + ".jpg"
		loader[images[i]] = jpegBytes(t, 8, 8)
	}
	p := New(loader, WithPause(0))

	var progress []float64
	_, err := p.Run(context.Background(), Request{
		Images:    images,
		Mode:      ModeAnalyze,
		Prompt:    "describe",
		Generator: &scriptedGenerator{replies: []string{"ok"}},
		Window:    Window{Start: 0.05, Span: 0.75},
	}, func(v float64) { progress = append(progress, v) })
	require.NoError(t, err)

	require.Len(t, progress, 4)
	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i], progress[i-1])
	}
	assert.InDelta(t, 0.2375, progress[0], 1e-9)
	assert.InDelta(t, 0.80, progress[3], 1e-9)
}

func TestRun_FailedItemsBecomePlaceholders(t *testing.T) {
	loader := mapLoader{
		"ok.jpg":      jpegBytes(t, 10, 10),
		"corrupt.jpg": []byte("not an image"),
		"crash.jpg":   jpegBytes(t, 10, 10),
	}
	gen := &scriptedGenerator{replies: []string{"a tree", ""}}
	p := New(loader, WithPause(0))

	results, err := p.Run(context.Background(), Request{
		Images:    []string{"ok.jpg", "missing.jpg", "corrupt.jpg", "crash.jpg"},
		Mode:      ModeAnalyze,
		Prompt:    "describe",
		Generator: gen,
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "a tree", results[0].Text)
	assert.False(t, results[0].Failed)
	for _, r := range results[1:] {
		assert.True(t, r.Failed, r.Image)
		assert.True(t, strings.HasPrefix(r.Text, "Analysis failed: "), r.Text)
	}
	assert.Contains(t, results[3].Text, "model crashed")
}

func TestRun_Preconditions(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"x"}}
	p := New(mapLoader{}, WithPause(0))

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"no images", Request{Mode: ModeAnalyze, Prompt: "p", Generator: gen}, ErrNoImages},
		{"blank prompt", Request{Images: []string{"a"}, Mode: ModeAnalyze, Prompt: "  ", Generator: gen}, ErrEmptyPrompt},
		{"no generator", Request{Images: []string{"a"}, Mode: ModeAnalyze, Prompt: "p"}, ErrEngineUnavailable},
		{"no recognizer", Request{Images: []string{"a"}, Mode: ModeRecognize}, ErrEngineUnavailable},
		{"unknown mode", Request{Images: []string{"a"}, Mode: "paint"}, ErrUnknownMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := p.Run(context.Background(), tt.req, nil)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, results)
		})
	}
	assert.Zero(t, gen.calls)
}

type fixedDetector struct {
	faces []image.Rectangle
}

func (d fixedDetector) Detect(_ context.Context, _ image.Image) ([]image.Rectangle, error) {
	return d.faces, nil
}

type fixedEmbedder struct {
	emb embedding.Embedding
}

func (e fixedEmbedder) Embed(_ context.Context, _ image.Image, _ image.Rectangle) (embedding.Embedding, error) {
	return e.emb, nil
}

type groupSource []persongroup.Group

func (g groupSource) Groups() []persongroup.Group { return g }
func (g groupSource) Revision() uint64            { return 1 }

func TestRun_RecognizeDescribesBestMatch(t *testing.T) {
	groups := groupSource{{ID: "b", Name: "Bob", Embeddings: []embedding.Embedding{{1, 0}}}}
	rec := &facematch.Recognizer{
		Detector:  fixedDetector{faces: []image.Rectangle{image.Rect(0, 0, 8, 8)}},
		Extractor: fixedEmbedder{emb: embedding.Embedding{0.82, 0.5723635}},
		Matcher:   facematch.NewMatcher(groups),
	}
	p := New(mapLoader{"bob.jpg": jpegBytes(t, 16, 16)}, WithPause(0), WithRecognizer(rec))
	require.True(t, p.CanRecognize())

	results, err := p.Run(context.Background(), Request{Images: []string{"bob.jpg"}, Mode: ModeRecognize}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Recognized: Bob (82%)", results[0].Text)
	require.Len(t, results[0].Recognitions, 1)
	assert.True(t, results[0].Recognitions[0].Matched)
}

func TestDescribeRecognition(t *testing.T) {
	tests := []struct {
		name    string
		results []facematch.RecognitionResult
		want    string
	}{
		{"no faces", nil, "No faces detected"},
		{"unknown", []facematch.RecognitionResult{{Confidence: 0.4}}, "Unknown person"},
		{"best of several", []facematch.RecognitionResult{
			{Name: "Ann", Matched: true, Confidence: 0.71},
			{Confidence: 0.3},
			{Name: "Bob", Matched: true, Confidence: 0.904},
		}, "Recognized: Bob (90%)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DescribeRecognition(tt.results))
		})
	}
}

func TestCleanAnalysis(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"plain", "  A red car.  ", 100, "A red car."},
		{"strips prefix", "The image shows a red car.", 100, "A red car."},
		{"case insensitive", "THIS PHOTO SHOWS two dogs", 100, "Two dogs"},
		{"comma prefix", "In this image, a cat sleeps.", 100, "A cat sleeps."},
		{"prefix only kept", "The image shows", 100, "The image shows"},
		{"truncates on word", "one two three four five", 12, "one two…"},
		{"counts runes", "žluťoučký kůň", 5, "žluťo…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanAnalysis(tt.in, tt.max))
		})
	}
}

func TestWindow_At(t *testing.T) {
	w := Window{Start: 0.8, Span: 0.2}
	assert.InDelta(t, 0.8, w.At(0), 1e-9)
	assert.InDelta(t, 0.9, w.At(0.5), 1e-9)
	assert.InDelta(t, 1.0, w.At(2), 1e-9)
}
