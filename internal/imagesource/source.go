// Package imagesource loads the bytes behind an image reference. A reference
// is a local path, a file:// URL, an s3://bucket/key URL or an http(s) URL.
// Local references only resolve inside the configured image root.
package imagesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/kozaktomas/camflow/internal/metrics"
	"go.uber.org/zap"
)

// MaxImageBytes bounds how much is read for a single image.
const MaxImageBytes = 50 << 20

var (
	// ErrUnsupportedScheme is returned for references no source can load.
	ErrUnsupportedScheme = errors.New("unsupported image reference")
	// ErrTooLarge is returned when an image exceeds MaxImageBytes.
	ErrTooLarge = errors.New("image exceeds size limit")
	// ErrOutsideRoot is returned for local references outside the image root,
	// and for every local reference when no root is configured.
	ErrOutsideRoot = errors.New("image reference is outside the image root")
)

// Loader loads image bytes for a reference.
type Loader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// Resolver dispatches references to the matching source and caches results.
type Resolver struct {
	http  *http.Client
	s3    *S3Source
	cache *expirable.LRU[string, []byte]
	root  string
}

var _ Loader = (*Resolver)(nil)

// Option configures a Resolver.
type Option func(*Resolver)

// WithS3 enables s3:// references.
func WithS3(s *S3Source) Option {
	return func(r *Resolver) { r.s3 = s }
}

// WithLocalRoot allows local references inside dir. Relative references are
// resolved against dir.
func WithLocalRoot(dir string) Option {
	return func(r *Resolver) {
		if dir == "" {
			return
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		r.root = filepath.Clean(dir)
	}
}

// WithHTTPClient replaces the client used for http(s) references.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.http = c }
}

// WithCache keeps up to size images for ttl. A non-positive size disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(r *Resolver) {
		if size > 0 && ttl > 0 {
			r.cache = expirable.NewLRU[string, []byte](size, nil, ttl)
		}
	}
}

// NewResolver creates a resolver. http(s) is always enabled, local files only
// with WithLocalRoot.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{http: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load returns the bytes behind ref. Returned slices must not be modified.
func (r *Resolver) Load(ctx context.Context, ref string) ([]byte, error) {
	if r.cache != nil {
		if data, ok := r.cache.Get(ref); ok {
			metrics.ImageCacheTotal.WithLabelValues("hit").Inc()
			logger.FromContext(ctx).Debug("image cache hit", zap.String("image", ref))
			return data, nil
		}
		metrics.ImageCacheTotal.WithLabelValues("miss").Inc()
	}

	data, err := r.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Add(ref, data)
	}
	return data, nil
}

func (r *Resolver) load(ctx context.Context, ref string) ([]byte, error) {
	scheme, rest, found := strings.Cut(ref, "://")
	if !found {
		return r.readFile(ref)
	}

	switch strings.ToLower(scheme) {
	case "file":
		return r.readFile(rest)
	case "s3":
		if r.s3 == nil {
			return nil, fmt.Errorf("%w: s3 is not configured", ErrUnsupportedScheme)
		}
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return nil, fmt.Errorf("invalid s3 reference %q: expected s3://bucket/key", ref)
		}
		return r.s3.Get(ctx, bucket, key)
	case "http", "https":
		return r.fetch(ctx, ref)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}

func (r *Resolver) readFile(ref string) ([]byte, error) {
	rel, err := r.rootRelative(ref)
	if err != nil {
		return nil, err
	}
	// OpenInRoot also refuses symlinks that leave the root
	f, err := os.OpenInRoot(r.root, rel)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	return readLimited(f)
}

// rootRelative maps ref to a path relative to the image root.
func (r *Resolver) rootRelative(ref string) (string, error) {
	if r.root == "" {
		return "", fmt.Errorf("%w: local files are disabled", ErrOutsideRoot)
	}
	p := filepath.Clean(ref)
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrOutsideRoot, ref)
		}
		p = rel
	}
	if p == "." {
		return "", fmt.Errorf("%w: %s is the root itself", ErrOutsideRoot, ref)
	}
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, ref)
	}
	return p, nil
}

func (r *Resolver) fetch(ctx context.Context, ref string) ([]byte, error) {
	if _, err := url.Parse(ref); err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image (status %d)", resp.StatusCode)
	}
	return readLimited(resp.Body)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
