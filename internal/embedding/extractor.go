// Package embedding turns detected face regions into identity embeddings.
//
// The underlying inference engine is stateful and not reentrant, so every
// call goes through a single lock owned by the Extractor.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kozaktomas/camflow/internal/constants"
	"github.com/kozaktomas/camflow/internal/imaging"
	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/kozaktomas/camflow/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrOutOfBounds is returned when the face region does not lie within the image.
	ErrOutOfBounds = errors.New("face region outside image bounds")
	// ErrClosed is returned by Embed after Close.
	ErrClosed = errors.New("embedding extractor closed")
	// ErrExtraction wraps every failure raised while cropping or running inference.
	ErrExtraction = errors.New("embedding extraction failed")
)

// Embedding is a fixed-length identity vector. Treat it as read-only.
type Embedding []float32

// Engine is a fixed-shape face embedding model. Implementations are not
// required to be safe for concurrent use.
type Engine interface {
	Infer(ctx context.Context, face image.Image) ([]float32, error)
	Close() error
}

// Embedder is anything that can embed a face region of an image.
type Embedder interface {
	Embed(ctx context.Context, img image.Image, region image.Rectangle) (Embedding, error)
}

// MemoryProbe reports current memory usage and the budget it is measured against.
// A zero limit disables the pressure check.
type MemoryProbe func() (used, limit uint64)

// Extractor serializes access to an Engine and normalizes its failures.
type Extractor struct {
	mu       sync.Mutex
	engine   Engine
	closed   bool
	dim      int
	cropSize int
	probe    MemoryProbe
	yield    time.Duration
	sleep    func(time.Duration)
}

var _ Embedder = (*Extractor)(nil)

// Option configures an Extractor.
type Option func(*Extractor)

// WithDim fixes the embedding length. Without it the first successful result decides.
func WithDim(dim int) Option {
	return func(e *Extractor) { e.dim = dim }
}

// WithCropSize sets the square size face crops are scaled to.
func WithCropSize(size int) Option {
	return func(e *Extractor) { e.cropSize = size }
}

// WithMemoryLimit measures heap usage against limit bytes.
func WithMemoryLimit(limit uint64) Option {
	return func(e *Extractor) {
		if limit > 0 {
			e.probe = func() (uint64, uint64) { return residentBytes(), limit }
		}
	}
}

// WithMemoryProbe replaces the memory probe.
func WithMemoryProbe(p MemoryProbe) Option {
	return func(e *Extractor) { e.probe = p }
}

// WithYield sets how long Embed pauses under memory pressure.
func WithYield(d time.Duration) Option {
	return func(e *Extractor) { e.yield = d }
}

// New wraps engine. The extractor owns the engine from now on and releases it on Close.
func New(engine Engine, opts ...Option) *Extractor {
	e := &Extractor{
		engine:   engine,
		cropSize: constants.FaceCropSize,
		probe:    defaultProbe,
		yield:    constants.MemoryYield,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dim returns the embedding length, or 0 before the first successful call
// when no dimension was configured.
func (e *Extractor) Dim() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

// Embed computes the embedding of region within img.
func (e *Extractor) Embed(ctx context.Context, img image.Image, region image.Rectangle) (emb Embedding, err error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrExtraction)
	}
	if region.Empty() || !region.In(img.Bounds()) {
		return nil, fmt.Errorf("%w: %v not in %v", ErrOutOfBounds, region, img.Bounds())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	e.relieveMemoryPressure(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("inference panicked", zap.Any("panic", r))
			emb = nil
			err = fmt.Errorf("%w: panic: %v", ErrExtraction, r)
		}
	}()

	crop := imaging.Crop(img, region, e.cropSize)

	start := time.Now()
	vec, err := e.engine.Infer(ctx, crop)
	metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrExtraction)
	}
	if e.dim == 0 {
		e.dim = len(vec)
	} else if len(vec) != e.dim {
		return nil, fmt.Errorf("%w: got %d values, expected %d", ErrExtraction, len(vec), e.dim)
	}

	out := make(Embedding, len(vec))
	copy(out, vec)
	return out, nil
}

// Close releases the engine. It is safe to call more than once.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.engine.Close(); err != nil {
		return fmt.Errorf("closing inference engine: %w", err)
	}
	return nil
}

// Closed reports whether Close has been called.
func (e *Extractor) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// relieveMemoryPressure pauses briefly when usage is above the pressure ratio
// so the collector can return memory before crop buffers are allocated.
func (e *Extractor) relieveMemoryPressure(ctx context.Context) {
	if e.probe == nil {
		return
	}
	used, limit := e.probe()
	if limit == 0 || float64(used) <= constants.MemoryPressureRatio*float64(limit) {
		return
	}
	logger.FromContext(ctx).Debug("memory pressure before inference, yielding",
		zap.Uint64("used", used), zap.Uint64("limit", limit))
	runtime.GC()
	e.sleep(e.yield)
}

// defaultProbe measures against GOMEMLIMIT; without one set the check is off.
func defaultProbe() (uint64, uint64) {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return 0, 0
	}
	return residentBytes(), uint64(limit)
}

func residentBytes() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys - ms.HeapReleased
}
