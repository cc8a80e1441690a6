// Package schedule runs periodic maintenance jobs on cron specs.
package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// FuncJob adapts a function to Job.
type FuncJob struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f FuncJob) Name() string                  { return f.JobName }
func (f FuncJob) Run(ctx context.Context) error { return f.Fn(ctx) }

type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
}

func New() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
		ctx:     context.Background(),
	}
}

// AddJob schedules job on spec, e.g. "*/5 * * * *" or "@every 1m".
func (s *Scheduler) AddJob(job Job, spec string) error {
	entryID, err := s.cron.AddFunc(spec, s.wrap(job, spec))
	if err != nil {
		return fmt.Errorf("could not schedule job %s: %w", job.Name(), err)
	}
	s.entries[job.Name()] = entryID
	logger.FromContext(s.ctx).Info("job scheduled", zap.String("job", job.Name()), zap.String("spec", spec))
	return nil
}

// Start runs the scheduler in the background. Jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNow executes the named job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) bool {
	id, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Entry(id).Job.Run()
	return true
}

// wrap skips a run while the previous one is still going.
func (s *Scheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		log := logger.FromContext(s.ctx).With(zap.String("job", job.Name()), zap.String("spec", spec))
		if !running.CompareAndSwap(false, true) {
			log.Info("job skipped: still running")
			return
		}
		defer running.Store(false)

		start := time.Now()
		err := job.Run(s.ctx)
		elapsed := time.Since(start)
		if err != nil {
			log.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
			return
		}
		log.Debug("job finished", zap.Duration("duration", elapsed))
	}
}
