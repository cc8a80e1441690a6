package runner

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/kozaktomas/camflow/internal/ai"
	"github.com/kozaktomas/camflow/internal/constants"
	"github.com/kozaktomas/camflow/internal/database"
	"github.com/kozaktomas/camflow/internal/delivery"
	"github.com/kozaktomas/camflow/internal/handoff"
	"github.com/kozaktomas/camflow/internal/imaging"
	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/kozaktomas/camflow/internal/metrics"
	"github.com/kozaktomas/camflow/internal/pipeline"
	"github.com/kozaktomas/camflow/internal/progress"
	"github.com/kozaktomas/camflow/internal/sessionlog"
	"go.uber.org/zap"
)

// Outcome is the terminal result of a run.
type Outcome struct {
	TaskID  string
	State   progress.State
	Reason  string
	Results []pipeline.Result
	Session *sessionlog.Session
}

var analysisWindow = pipeline.Window{
	Start: constants.AnalysisProgressStart,
	Span:  constants.AnalysisProgressEnd - constants.AnalysisProgressStart,
}

// run walks Pending → Initializing → Analyzing → Delivering → Completed,
// or to Failed from any step. The spec is peeked, not claimed, until a
// terminal state is reached.
func (r *Runner) run(ctx context.Context, id string) (*Outcome, error) {
	spec, ok := r.Registry.Peek(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	metrics.TasksRunning.Inc()
	defer metrics.TasksRunning.Dec()

	ctx, log := logger.Scoped(ctx, zap.String(logger.TaskIDKey, id))
	tracker := progress.NewTracker(r.Statuses, id)
	defer r.keepAlive(ctx, tracker)()
	out := &Outcome{TaskID: id}

	fail := func(err error) (*Outcome, error) {
		out.State = progress.StateFailed
		out.Reason = err.Error()
		if werr := tracker.Fail(ctx, out.Reason); werr != nil {
			log.Error("could not persist task failure", zap.Error(werr))
		}
		r.Registry.Claim(id)
		metrics.TasksTotal.WithLabelValues(string(progress.StateFailed)).Inc()
		log.Warn("task failed", zap.String("reason", out.Reason))
		return out, err
	}

	// Initializing
	r.phase(ctx, tracker, progress.StateInitializing, 0)
	if err := r.checkPreconditions(spec); err != nil {
		return fail(err)
	}
	gen, modelName, err := r.resolveModel(ctx, spec)
	if err != nil {
		return fail(err)
	}
	if engine := r.readinessTarget(spec, gen); engine != nil {
		if err := r.waitReady(ctx, engine); err != nil {
			return fail(err)
		}
	}
	if gen != nil {
		r.rememberModel(ctx, modelName)
	}
	req := pipeline.Request{
		Images:    spec.Images,
		Mode:      spec.Mode,
		Prompt:    spec.Prompt,
		Generator: gen,
		Window:    analysisWindow,
	}
	if err := r.Pipeline.Validate(req); err != nil {
		return fail(err)
	}
	log.Info("task initialized", zap.String("model", modelName), zap.String("mode", string(spec.Mode)), zap.Int("images", len(spec.Images)))

	// Analyzing
	r.phase(ctx, tracker, progress.StateAnalyzing, analysisWindow.Start)
	results, err := r.Pipeline.Run(ctx, req, func(p float64) {
		if err := tracker.Report(ctx, p); err != nil {
			log.Warn("could not persist progress", zap.Error(err))
		}
	})
	if err != nil {
		return fail(err)
	}
	out.Results = results

	// Delivering
	r.phase(ctx, tracker, progress.StateDelivering, constants.AnalysisProgressEnd)
	batch := r.buildBatch(ctx, spec, modelName, results)
	if err := r.Sender.Send(ctx, batch, spec.Destination); err != nil {
		return fail(fmt.Errorf("delivery failed: %w", err))
	}

	session, err := r.Sessions.Append(ctx, newSession(spec, modelName, results))
	if err != nil {
		// delivered already; losing the history entry does not fail the task
		log.Error("could not record session", zap.Error(err))
	} else {
		out.Session = &session
	}

	if err := tracker.Complete(ctx, session.ID); err != nil {
		log.Error("could not persist task completion", zap.Error(err))
	}
	r.Registry.Claim(id)
	out.State = progress.StateCompleted
	metrics.TasksTotal.WithLabelValues(string(progress.StateCompleted)).Inc()
	log.Info("task completed", zap.String("session_id", session.ID))
	return out, nil
}

// keepAlive re-stamps the task status every heartbeat until the returned
// stop function is called.
func (r *Runner) keepAlive(ctx context.Context, tracker *progress.Tracker) (stop func()) {
	if r.heartbeat <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := tracker.Touch(ctx); err != nil && ctx.Err() == nil {
					logger.FromContext(ctx).Warn("could not refresh task status", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (r *Runner) phase(ctx context.Context, tracker *progress.Tracker, state progress.State, p float64) {
	if err := tracker.Phase(ctx, state, p); err != nil {
		logger.FromContext(ctx).Warn("could not persist task state", zap.String("state", string(state)), zap.Error(err))
	}
}

func (r *Runner) checkPreconditions(spec handoff.TaskSpec) error {
	if len(spec.Images) == 0 {
		return pipeline.ErrNoImages
	}
	if spec.Mode == pipeline.ModeAnalyze && strings.TrimSpace(spec.Prompt) == "" {
		return pipeline.ErrEmptyPrompt
	}
	return spec.Destination.Validate()
}

// resolveModel picks the generator for an analyze task: the handle in the
// spec, the named catalog model, then the last model used. Recognize tasks
// need no generator.
func (r *Runner) resolveModel(ctx context.Context, spec handoff.TaskSpec) (ai.Generator, string, error) {
	if spec.Mode == pipeline.ModeRecognize {
		return nil, "face-recognition", nil
	}
	if spec.Model != nil {
		name := spec.ModelName
		if name == "" {
			name = spec.Model.Name()
		}
		return spec.Model, name, nil
	}
	if r.Models == nil {
		return nil, "", ErrModelNotSelected
	}

	name := spec.ModelName
	if name == "" {
		name = r.lastModel(ctx)
	}
	if name == "" {
		return nil, "", ErrModelNotSelected
	}
	gen, err := r.Models.Get(ctx, name)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrModelNotSelected, err)
	}
	return gen, name, nil
}

func (r *Runner) lastModel(ctx context.Context) string {
	if r.Settings == nil {
		return ""
	}
	data, err := r.Settings.Get(ctx, LastModelKey)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logger.FromContext(ctx).Warn("could not read last used model", zap.Error(err))
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (r *Runner) rememberModel(ctx context.Context, name string) {
	if r.Settings == nil || name == "" {
		return
	}
	if err := r.Settings.Set(ctx, LastModelKey, []byte(name)); err != nil {
		logger.FromContext(ctx).Warn("could not store last used model", zap.Error(err))
	}
}

// readinessTarget is what must be ready before analysis starts: the
// generator, or the face engine for recognize tasks.
func (r *Runner) readinessTarget(spec handoff.TaskSpec, gen ai.Generator) Readier {
	if spec.Mode == pipeline.ModeRecognize {
		return r.FaceEngine
	}
	if gen == nil {
		return nil
	}
	return gen
}

// waitReady polls engine until it reports ready or the timeout passes.
func (r *Runner) waitReady(ctx context.Context, engine Readier) error {
	ctx, cancel := context.WithTimeout(ctx, r.readyTimeout)
	defer cancel()

	ticker := time.NewTicker(r.readyPoll)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = engine.Ready(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w within %s: %w", ErrModelNotReady, r.readyTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

// buildBatch turns pipeline results into a delivery batch, loading originals
// as attachments when requested. Anything that cannot be loaded or is not an
// image is left out.
func (r *Runner) buildBatch(ctx context.Context, spec handoff.TaskSpec, model string, results []pipeline.Result) delivery.Batch {
	batch := delivery.Batch{
		Title:  "CamFlow results",
		Prompt: spec.Prompt,
		Model:  model,
		Items:  make([]delivery.Item, len(results)),
	}
	for i, res := range results {
		batch.Items[i] = delivery.Item{Image: res.Image, Text: res.Text}
	}
	if !spec.AttachOriginals || r.Images == nil {
		return batch
	}
	for _, ref := range spec.Images {
		data, err := r.Images.Load(ctx, ref)
		if err != nil {
			logger.FromContext(ctx).Warn("skipping attachment", zap.String("image", ref), zap.Error(err))
			continue
		}
		if mime := imaging.DetectMIMEType(data); !strings.HasPrefix(mime, "image/") {
			logger.FromContext(ctx).Warn("skipping attachment that is not an image", zap.String("image", ref), zap.String("mime", mime))
			continue
		}
		batch.Attachments = append(batch.Attachments, delivery.Attachment{Name: path.Base(ref), Data: data})
	}
	return batch
}

func newSession(spec handoff.TaskSpec, model string, results []pipeline.Result) sessionlog.Session {
	s := sessionlog.Session{
		Model:           model,
		Mode:            string(spec.Mode),
		Prompt:          spec.Prompt,
		Destination:     spec.Destination,
		AttachOriginals: spec.AttachOriginals,
		Images:          make([]string, len(results)),
		Analyses:        make([]string, len(results)),
	}
	for i, res := range results {
		s.Images[i] = res.Image
		s.Analyses[i] = res.Text
	}
	return s
}
