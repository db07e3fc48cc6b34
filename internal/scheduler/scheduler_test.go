package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	var runs atomic.Int32
	s.Register(Job{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestScheduler_RunsImmediatelyOnStart(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	ran := make(chan struct{})
	var once sync.Once
	s.Register(Job{
		Name:     "eager",
		Interval: time.Hour,
		Run: func(context.Context) error {
			once.Do(func() { close(ran) })
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job did not run on start")
	}
}

func TestScheduler_OverlappingRunsAreSkipped(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	block := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once
	s.Register(Job{
		Name:     "slow",
		Interval: time.Hour,
		Run: func(context.Context) error {
			startedOnce.Do(func() { close(started) })
			<-block
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))

	<-started
	assert.True(t, s.IsJobInFlight("slow"))
	assert.ErrorIs(t, s.Trigger(context.Background(), "slow"), ErrJobInFlight)

	close(block)
	require.NoError(t, s.Stop())
	assert.False(t, s.IsJobInFlight("slow"))
}

func TestScheduler_Trigger(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	var runs atomic.Int32
	s.Register(Job{
		Name:     "on-demand",
		Interval: time.Hour,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	require.NoError(t, s.Trigger(context.Background(), "on-demand"))
	assert.Equal(t, int32(1), runs.Load())

	assert.ErrorIs(t, s.Trigger(context.Background(), "no-such-job"), ErrUnknownJob)
}

func TestScheduler_JobErrorSurfacesFromTrigger(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	s.Register(Job{
		Name:     "broken",
		Interval: time.Hour,
		Run: func(context.Context) error {
			return assert.AnError
		},
	})

	assert.ErrorIs(t, s.Trigger(context.Background(), "broken"), assert.AnError)
}
