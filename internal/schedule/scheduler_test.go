package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsJobs(t *testing.T) {
	var runs atomic.Int32
	s := New()
	require.NoError(t, s.AddJob(FuncJob{JobName: "tick", Fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, "@every 1s"))

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := New()
	err := s.AddJob(FuncJob{JobName: "bad", Fn: func(context.Context) error { return nil }}, "every tuesday")
	assert.Error(t, err)
}

func TestScheduler_RunNow(t *testing.T) {
	var got context.Context
	s := New()
	require.NoError(t, s.AddJob(FuncJob{JobName: "sweep", Fn: func(ctx context.Context) error {
		got = ctx
		return errors.New("boom")
	}}, "0 3 * * *"))

	type key struct{}
	s.ctx = context.WithValue(context.Background(), key{}, "v")

	assert.True(t, s.RunNow("sweep"))
	require.NotNil(t, got)
	assert.Equal(t, "v", got.Value(key{}))
	assert.False(t, s.RunNow("missing"))
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var runs atomic.Int32
	s := New()
	require.NoError(t, s.AddJob(FuncJob{JobName: "slow", Fn: func(context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}}, "0 3 * * *"))

	go s.RunNow("slow")
	<-started
	s.RunNow("slow")
	close(release)

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}
