package scheduler

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/recontrole/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		MinPeriod:      10 * time.Millisecond,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		LockTTL:        time.Minute,
	}
}

// countingJob counts runs and returns a fixed outcome.
type countingJob struct {
	calls   atomic.Int32
	outcome Outcome
}

func (j *countingJob) Run(ctx context.Context) Outcome {
	j.calls.Add(1)
	return j.outcome
}

func TestEnqueueRunsPeriodically(t *testing.T) {
	sch := New(testConfig())
	defer sch.Stop()

	job := &countingJob{}
	ok, err := sch.EnqueueUniquePeriodic(Work{Name: "w", Period: 20 * time.Millisecond, Job: job}, Keep)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		info, found := sch.Status("w")
		return found && info.Runs >= 3
	}, 2*time.Second, 5*time.Millisecond)

	info, _ := sch.Status("w")
	assert.Equal(t, "success", info.LastOutcome)
	assert.GreaterOrEqual(t, job.calls.Load(), int32(3))
}

func TestKeepPolicy(t *testing.T) {
	sch := New(testConfig())
	defer sch.Stop()

	first := &countingJob{}
	second := &countingJob{}
	work := Work{Name: "w", Period: time.Hour, InitialDelay: time.Hour, Job: first}

	ok, err := sch.EnqueueUniquePeriodic(work, Keep)
	require.NoError(t, err)
	assert.True(t, ok)

	work.Job = second
	ok, err = sch.EnqueueUniquePeriodic(work, Keep)
	require.NoError(t, err)
	assert.False(t, ok, "existing registration is kept")

	require.True(t, sch.RunNow("w"))
	require.Eventually(t, func() bool { return first.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), second.calls.Load())

	ok, err = sch.EnqueueUniquePeriodic(work, Replace)
	require.NoError(t, err)
	assert.True(t, ok)
	require.True(t, sch.RunNow("w"))
	require.Eventually(t, func() bool { return second.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestInitialDelayAndMinPeriod(t *testing.T) {
	cfg := testConfig()
	cfg.MinPeriod = time.Hour
	sch := New(cfg)
	defer sch.Stop()

	job := &countingJob{}
	_, err := sch.EnqueueUniquePeriodic(Work{Name: "w", Period: time.Millisecond, InitialDelay: time.Hour, Job: job}, Keep)
	require.NoError(t, err)

	info, ok := sch.Status("w")
	require.True(t, ok)
	assert.Equal(t, time.Hour, info.Period, "period is clamped to the minimum")
	assert.Equal(t, StateEnqueued, info.State)
	assert.True(t, info.NextRun.After(time.Now().Add(59*time.Minute)))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), job.calls.Load(), "nothing runs before the initial delay")
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	sch := New(testConfig())
	defer sch.Stop()

	job := &countingJob{outcome: Retry}
	_, err := sch.EnqueueUniquePeriodic(Work{Name: "w", Period: time.Hour, Job: job}, Keep)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return job.calls.Load() == 3 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), job.calls.Load())

	info, _ := sch.Status("w")
	assert.Equal(t, "retry", info.LastOutcome)
	assert.Equal(t, 3, info.Attempt)
}

func TestFailureIsNotRetried(t *testing.T) {
	sch := New(testConfig())
	defer sch.Stop()

	job := &countingJob{outcome: Failure}
	_, err := sch.EnqueueUniquePeriodic(Work{Name: "w", Period: time.Hour, Job: job}, Keep)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return job.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), job.calls.Load())
}

func TestPanicBecomesRetry(t *testing.T) {
	sch := New(testConfig())
	defer sch.Stop()

	var calls atomic.Int32
	job := JobFunc(func(ctx context.Context) Outcome {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return Success
	})
	_, err := sch.EnqueueUniquePeriodic(Work{Name: "w", Period: time.Hour, Job: job}, Keep)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		info, _ := sch.Status("w")
		return info.LastOutcome == "success"
	}, time.Second, time.Millisecond)
}

func TestNetworkRequired(t *testing.T) {
	var online atomic.Bool
	sch := New(testConfig(), WithNetworkProbe(func(context.Context) bool { return online.Load() }))
	defer sch.Stop()

	job := &countingJob{}
	_, err := sch.EnqueueUniquePeriodic(Work{Name: "w", Period: time.Hour, RequiresNetwork: true, Job: job}, Keep)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), job.calls.Load(), "offline runs are deferred")

	online.Store(true)
	sch.RunNow("w")
	require.Eventually(t, func() bool { return job.calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestLockHeldElsewhereSkipsRun(t *testing.T) {
	locker := lock.NewLocal()
	held, err := locker.Acquire(context.Background(), "w", time.Minute)
	require.NoError(t, err)

	sch := New(testConfig(), WithLocker(locker))
	defer sch.Stop()

	job := &countingJob{}
	_, err = sch.EnqueueUniquePeriodic(Work{Name: "w", Period: time.Hour, Job: job}, Keep)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), job.calls.Load())

	require.NoError(t, held.Release(context.Background()))
	sch.RunNow("w")
	require.Eventually(t, func() bool { return job.calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestCancelInterruptsRun(t *testing.T) {
	sch := New(testConfig())
	defer sch.Stop()

	started := make(chan struct{})
	var sawCancel atomic.Bool
	job := JobFunc(func(ctx context.Context) Outcome {
		close(started)
		<-ctx.Done()
		sawCancel.Store(errors.Is(ctx.Err(), context.Canceled))
		return Retry
	})
	_, err := sch.EnqueueUniquePeriodic(Work{Name: "w", Period: time.Hour, Job: job}, Keep)
	require.NoError(t, err)

	<-started
	assert.True(t, sch.IsActive("w"))
	assert.True(t, sch.Cancel("w"))
	assert.False(t, sch.IsActive("w"))
	assert.False(t, sch.Cancel("w"), "cancelling twice is a no-op")

	require.Eventually(t, sawCancel.Load, time.Second, time.Millisecond)
	_, ok := sch.Status("w")
	assert.False(t, ok)
}

func TestRunNowCoalesces(t *testing.T) {
	sch := New(testConfig())
	defer sch.Stop()

	release := make(chan struct{})
	var calls atomic.Int32
	job := JobFunc(func(ctx context.Context) Outcome {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return Success
	})
	_, err := sch.EnqueueUniquePeriodic(Work{Name: "w", Period: time.Hour, InitialDelay: time.Hour, Job: job}, Keep)
	require.NoError(t, err)

	require.True(t, sch.RunNow("w"))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		sch.RunNow("w")
	}
	close(release)

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load(), "pending triggers collapse into one run")

	assert.False(t, sch.RunNow("missing"))
}

func TestInvalidWorkAndStop(t *testing.T) {
	sch := New(testConfig())

	_, err := sch.EnqueueUniquePeriodic(Work{Name: "", Job: &countingJob{}}, Keep)
	assert.ErrorIs(t, err, ErrInvalidWork)
	_, err = sch.EnqueueUniquePeriodic(Work{Name: "w"}, Keep)
	assert.ErrorIs(t, err, ErrInvalidWork)

	sch.Stop()
	_, err = sch.EnqueueUniquePeriodic(Work{Name: "w", Job: &countingJob{}}, Keep)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	probe := TCPProbe(addr, time.Second)
	assert.True(t, probe(context.Background()))

	require.NoError(t, ln.Close())
	assert.False(t, probe(context.Background()))
}
