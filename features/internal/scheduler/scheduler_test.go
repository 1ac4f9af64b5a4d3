package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartpulse/cartpulse-stack/common/logging"
	"github.com/cartpulse/cartpulse-stack/features/internal/aggregator"
)

type countingRunner struct {
	mu       sync.Mutex
	cycles   int
	inFlight int
	overlap  bool
	block    time.Duration
}

func (r *countingRunner) RunCycle(_ context.Context) aggregator.CycleStats {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > 1 {
		r.overlap = true
	}
	r.cycles++
	n := r.cycles
	r.mu.Unlock()

	if r.block > 0 {
		time.Sleep(r.block)
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()

	return aggregator.CycleStats{Tenants: n}
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles
}

func testLogger() *logging.Logger {
	return logging.New(slog.LevelError, "text")
}

func TestRunsImmediatelyThenOnInterval(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, 20*time.Millisecond, testLogger())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return runner.count() >= 3 },
		2*time.Second, 5*time.Millisecond)

	stats, ok := s.LastCycle()
	assert.True(t, ok)
	assert.Greater(t, stats.Tenants, 0)
}

func TestCyclesNeverOverlap(t *testing.T) {
	runner := &countingRunner{block: 50 * time.Millisecond}
	s := New(runner, 10*time.Millisecond, testLogger())

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.False(t, runner.overlap, "cycles must not run concurrently")
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	runner := &countingRunner{block: 50 * time.Millisecond}
	s := New(runner, time.Hour, testLogger())

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(10 * time.Millisecond) // let the immediate cycle start
	require.NoError(t, s.Stop())

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 0, runner.inFlight)
	assert.Equal(t, 1, runner.cycles)
}

func TestDoubleStartAndStop(t *testing.T) {
	s := New(&countingRunner{}, time.Hour, testLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Stop())
	assert.Error(t, s.Stop())
	assert.False(t, s.IsRunning())
}
