package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kozaktomas/camflow/internal/constants"
	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/kozaktomas/camflow/internal/metrics"
	"go.uber.org/zap"
)

// StatusError is a non-2xx response from a delivery API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Body)
}

// Permanent reports whether retrying cannot help.
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Permanent()
	}
	return errors.Is(err, ErrInvalidDestination) || errors.Is(err, ErrNoDestination) || errors.Is(err, ErrNoMailSession)
}

// linearBackOff waits attempt × step between attempts.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// transport is the HTTP plumbing shared by the channels.
type transport struct {
	client      *http.Client
	maxAttempts int
	step        time.Duration
	pause       time.Duration
	maxBytes    int
}

func newTransport(opts []Option) transport {
	t := transport{
		client:      &http.Client{Timeout: 60 * time.Second},
		maxAttempts: constants.DeliveryMaxAttempts,
		step:        constants.DeliveryBackoffStep,
		pause:       constants.AttachmentPause,
		maxBytes:    constants.MaxAttachmentBytes,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// Option configures a channel.
type Option func(*transport)

func WithHTTPClient(c *http.Client) Option {
	return func(t *transport) { t.client = c }
}

// WithRetry sets the attempt cap and the linear backoff step.
func WithRetry(maxAttempts int, step time.Duration) Option {
	return func(t *transport) {
		t.maxAttempts = max(maxAttempts, 1)
		t.step = step
	}
}

// WithAttachmentPause sets the pause between consecutive attachment sends.
func WithAttachmentPause(d time.Duration) Option {
	return func(t *transport) { t.pause = d }
}

// WithMaxAttachmentBytes sets the compressed size ceiling per attachment.
func WithMaxAttachmentBytes(n int) Option {
	return func(t *transport) { t.maxBytes = n }
}

// do performs the request built by newReq with retries. 4xx responses fail
// immediately; transport errors and 5xx responses are retried.
func (t *transport) do(ctx context.Context, channel string, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	log := logger.FromContext(ctx)
	var body []byte

	op := func() error {
		req, err := newReq(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("could not create request: %w", err))
		}
		resp, err := t.client.Do(req)
		if err != nil {
			metrics.DeliveryAttemptsTotal.WithLabelValues(channel, "retry").Inc()
			return fmt.Errorf("could not send request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			metrics.DeliveryAttemptsTotal.WithLabelValues(channel, "retry").Inc()
			return fmt.Errorf("could not read response body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			se := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
			if se.Permanent() {
				metrics.DeliveryAttemptsTotal.WithLabelValues(channel, "permanent").Inc()
				return backoff.Permanent(se)
			}
			metrics.DeliveryAttemptsTotal.WithLabelValues(channel, "retry").Inc()
			return se
		}
		metrics.DeliveryAttemptsTotal.WithLabelValues(channel, "ok").Inc()
		body = data
		return nil
	}

	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		log.Warn("delivery attempt failed",
			zap.String("channel", channel), zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait), zap.Error(err))
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: t.step}, uint64(t.maxAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (t *transport) sleep(ctx context.Context) {
	if t.pause <= 0 {
		return
	}
	timer := time.NewTimer(t.pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
