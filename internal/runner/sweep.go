package runner

import (
	"context"

	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/kozaktomas/camflow/internal/metrics"
	"github.com/kozaktomas/camflow/internal/progress"
	"go.uber.org/zap"
)

// InterruptedReason is recorded on tasks the sweeper gives up on.
const InterruptedReason = "interrupted"

// Sweep marks non-terminal tasks that are neither registered nor running in
// this process and have not been updated for the stale age as failed. Such
// tasks were cut off by a restart and are never resumed. Running tasks
// re-stamp their status every heartbeat, so tasks of other processes sharing
// the store stay fresh as long as the heartbeat is shorter than the stale age.
func (r *Runner) Sweep(ctx context.Context) (int, error) {
	statuses, err := r.Statuses.List(ctx)
	if err != nil {
		return 0, err
	}
	log := logger.FromContext(ctx)
	cutoff := r.now().Add(-r.staleAfter)

	swept := 0
	for _, st := range statuses {
		if st.State.Terminal() || st.UpdatedAt.After(cutoff) {
			continue
		}
		if r.Registry.Has(st.ID) || r.isRunning(st.ID) {
			continue
		}
		st.State = progress.StateFailed
		st.Reason = InterruptedReason
		if err := r.Statuses.Set(ctx, st); err != nil {
			log.Warn("could not mark task interrupted", zap.String(logger.TaskIDKey, st.ID), zap.Error(err))
			continue
		}
		metrics.TasksTotal.WithLabelValues(InterruptedReason).Inc()
		swept++
	}
	if swept > 0 {
		log.Info("swept abandoned tasks", zap.Int("count", swept))
	}
	return swept, nil
}
