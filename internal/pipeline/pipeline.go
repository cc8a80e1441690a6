// Package pipeline runs a batch of images through analysis or face
// recognition, one image at a time, and reports progress as it goes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/camflow/internal/ai"
	"github.com/kozaktomas/camflow/internal/constants"
	"github.com/kozaktomas/camflow/internal/facematch"
	"github.com/kozaktomas/camflow/internal/imagesource"
	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/kozaktomas/camflow/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrNoImages          = errors.New("no images to process")
	ErrEmptyPrompt       = errors.New("prompt is required in analyze mode")
	ErrEngineUnavailable = errors.New("inference engine unavailable")
	ErrUnknownMode       = errors.New("unknown pipeline mode")
)

// Mode selects what is produced for each image.
type Mode string

const (
	ModeAnalyze   Mode = "analyze"
	ModeRecognize Mode = "recognize"
)

// Window maps pipeline progress in [0, 1] onto a slice of the caller's overall progress.
type Window struct {
	Start float64
	Span  float64
}

// Full is the window covering all of [0, 1].
var Full = Window{Start: 0, Span: 1}

// At returns the overall progress for a pipeline fraction.
func (w Window) At(fraction float64) float64 {
	return w.Start + w.Span*min(max(fraction, 0), 1)
}

// Request describes one pipeline run.
type Request struct {
	Images    []string
	Mode      Mode
	Prompt    string
	Generator ai.Generator // required in analyze mode
	Window    Window
}

// Result is the outcome for one image.
type Result struct {
	Image        string                        `json:"image"`
	Text         string                        `json:"text"`
	Failed       bool                          `json:"failed,omitempty"`
	Recognitions []facematch.RecognitionResult `json:"recognitions,omitempty"`
	CreatedAt    time.Time                     `json:"created_at"`
}

// Pipeline processes image batches strictly sequentially.
type Pipeline struct {
	images     imagesource.Loader
	recognizer *facematch.Recognizer
	pause      time.Duration
	maxChars   int
	imageSize  int
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecognizer enables recognize mode.
func WithRecognizer(r *facematch.Recognizer) Option {
	return func(p *Pipeline) { p.recognizer = r }
}

// WithPause sets the pause between images. Zero disables it.
func WithPause(d time.Duration) Option {
	return func(p *Pipeline) { p.pause = d }
}

// WithMaxChars caps the length of a single analysis.
func WithMaxChars(n int) Option {
	return func(p *Pipeline) { p.maxChars = n }
}

// New creates a pipeline reading images through loader.
func New(loader imagesource.Loader, opts ...Option) *Pipeline {
	p := &Pipeline{
		images:    loader,
		pause:     constants.InterImagePause,
		maxChars:  constants.MaxAnalysisChars,
		imageSize: constants.AnalysisImageSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CanRecognize reports whether recognize mode is available.
func (p *Pipeline) CanRecognize() bool {
	return p.recognizer != nil
}

// Validate checks the batch-level preconditions of req.
func (p *Pipeline) Validate(req Request) error {
	if len(req.Images) == 0 {
		return ErrNoImages
	}
	switch req.Mode {
	case ModeAnalyze:
		if strings.TrimSpace(req.Prompt) == "" {
			return ErrEmptyPrompt
		}
		if req.Generator == nil {
			return fmt.Errorf("%w: no text generation model", ErrEngineUnavailable)
		}
	case ModeRecognize:
		if p.recognizer == nil {
			return fmt.Errorf("%w: face recognition is not configured", ErrEngineUnavailable)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
	return nil
}

// Run processes every image in order and returns exactly one result per image.
// A failing image yields a placeholder result; only precondition violations
// fail the batch. onProgress is called after each image with the overall
// progress inside req.Window.
func (p *Pipeline) Run(ctx context.Context, req Request, onProgress func(float64)) ([]Result, error) {
	if err := p.Validate(req); err != nil {
		return nil, err
	}
	if req.Window == (Window{}) {
		req.Window = Full
	}
	log := logger.FromContext(ctx)

	results := make([]Result, 0, len(req.Images))
	for i, ref := range req.Images {
		if i > 0 {
			p.sleep(ctx)
		}

		res := Result{Image: ref}
		var err error
		switch req.Mode {
		case ModeAnalyze:
			res.Text, err = p.analyze(ctx, req, ref)
		case ModeRecognize:
			res.Text, res.Recognitions, err = p.recognize(ctx, ref)
		}
		if err != nil {
			log.Warn("image processing failed", zap.String("image", ref), zap.Int("index", i), zap.Error(err))
			res.Text = "Analysis failed: " + err.Error()
			res.Failed = true
			metrics.PipelineItemsTotal.WithLabelValues(string(req.Mode), "failed").Inc()
		} else {
			metrics.PipelineItemsTotal.WithLabelValues(string(req.Mode), "ok").Inc()
		}
		res.CreatedAt = p.now()
		results = append(results, res)

		if onProgress != nil {
			onProgress(req.Window.At(float64(i+1) / float64(len(req.Images))))
		}
	}
	return results, nil
}

func (p *Pipeline) sleep(ctx context.Context) {
	if p.pause <= 0 {
		return
	}
	t := time.NewTimer(p.pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
