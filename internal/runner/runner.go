// Package runner drives a registered task through model initialization,
// the analysis pipeline and delivery, persisting progress for pollers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/camflow/internal/ai"
	"github.com/kozaktomas/camflow/internal/constants"
	"github.com/kozaktomas/camflow/internal/database"
	"github.com/kozaktomas/camflow/internal/delivery"
	"github.com/kozaktomas/camflow/internal/handoff"
	"github.com/kozaktomas/camflow/internal/imagesource"
	"github.com/kozaktomas/camflow/internal/pipeline"
	"github.com/kozaktomas/camflow/internal/progress"
	"github.com/kozaktomas/camflow/internal/sessionlog"
)

var (
	ErrUnknownTask      = errors.New("unknown task")
	ErrAlreadyRunning   = errors.New("task is already running")
	ErrModelNotSelected = errors.New("no model selected")
	ErrModelNotReady    = errors.New("model did not become ready")
)

// LastModelKey is the settings key holding the last successfully resolved model name.
const LastModelKey = "settings/last_model"

// ModelSource resolves a model name to a generator.
type ModelSource interface {
	Get(ctx context.Context, name string) (ai.Generator, error)
}

// Readier reports whether an inference engine can serve requests yet.
type Readier interface {
	Ready(ctx context.Context) error
}

// Sender delivers a finished batch.
type Sender interface {
	Send(ctx context.Context, batch delivery.Batch, dest delivery.Destination) error
}

// Deps are the collaborators a Runner drives.
type Deps struct {
	Registry   *handoff.Registry
	Pipeline   *pipeline.Pipeline
	Sender     Sender
	Images     imagesource.Loader // attachments
	Sessions   *sessionlog.Log
	Statuses   *progress.Store
	Models     ModelSource    // optional
	Settings   database.Store // last used model
	FaceEngine Readier        // polled before recognize tasks, optional
}

// Runner executes tasks, one goroutine per started task.
type Runner struct {
	Deps

	readyTimeout time.Duration
	readyPoll    time.Duration
	staleAfter   time.Duration
	heartbeat    time.Duration
	now          func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithReadyPolling sets how long and how often model and face engine
// readiness is polled.
func WithReadyPolling(timeout, interval time.Duration) Option {
	return func(r *Runner) {
		r.readyTimeout = timeout
		r.readyPoll = interval
	}
}

// WithStaleAfter sets the age after which an orphaned status is swept.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Runner) { r.staleAfter = d }
}

// WithHeartbeat sets how often a running task re-stamps its status.
func WithHeartbeat(d time.Duration) Option {
	return func(r *Runner) { r.heartbeat = d }
}

func New(deps Deps, opts ...Option) *Runner {
	r := &Runner{
		Deps:         deps,
		readyTimeout: constants.ModelReadyTimeout,
		readyPoll:    constants.ModelReadyPollInterval,
		staleAfter:   constants.StaleTaskAge,
		heartbeat:    constants.TaskHeartbeatInterval,
		now:          time.Now,
		running:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit registers spec and starts it in the background.
func (r *Runner) Submit(ctx context.Context, spec handoff.TaskSpec) (string, error) {
	id := r.Registry.Register(spec)
	if err := r.Statuses.Set(ctx, progress.Status{ID: id, State: progress.StatePending}); err != nil {
		r.Registry.Claim(id)
		return "", err
	}
	if err := r.Start(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

// Start runs the registered task id in a new goroutine. The run is detached
// from ctx cancellation; once started a task always reaches a terminal state.
func (r *Runner) Start(ctx context.Context, id string) error {
	if !r.Registry.Has(id) {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if !r.acquire(id) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(id)
		// failures are persisted in the task status
		_, _ = r.run(runCtx, id)
	}()
	return nil
}

// Run executes task id synchronously.
func (r *Runner) Run(ctx context.Context, id string) (*Outcome, error) {
	if !r.acquire(id) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	defer r.release(id)
	return r.run(ctx, id)
}

// Wait blocks until every started task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) acquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[id]; ok {
		return false
	}
	r.running[id] = struct{}{}
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	delete(r.running, id)
	r.mu.Unlock()
}

func (r *Runner) isRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[id]
	return ok
}

// TaskStatus is what a poller sees.
type TaskStatus struct {
	progress.Status
	Registered bool `json:"registered"`
}

// Done reports whether the poller can stop.
func (s TaskStatus) Done() bool {
	return s.State.Terminal() || (!s.Registered && s.Progress >= 1)
}

// Status combines the persisted status of id with its registry presence.
func (r *Runner) Status(ctx context.Context, id string) (TaskStatus, error) {
	registered := r.Registry.Has(id)
	st, err := r.Statuses.Get(ctx, id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		if !registered {
			return TaskStatus{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
		}
		st = progress.Status{ID: id, State: progress.StatePending}
	case err != nil:
		return TaskStatus{}, err
	}
	return TaskStatus{Status: st, Registered: registered}, nil
}
