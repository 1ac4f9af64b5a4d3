// Package scheduler drives the aggregation job at a fixed interval.
// Cycles never overlap: a slow cycle simply delays the next tick's work.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cartpulse/cartpulse-stack/common/logging"
	"github.com/cartpulse/cartpulse-stack/features/internal/aggregator"
)

// CycleRunner runs one aggregation cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) aggregator.CycleStats
}

// Scheduler manages periodic execution of the aggregation job.
type Scheduler struct {
	mu       sync.RWMutex
	runner   CycleRunner
	interval time.Duration
	logger   *logging.Logger
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	lastCycle aggregator.CycleStats
	hasCycled bool
}

// New creates a scheduler.
func New(runner CycleRunner, interval time.Duration, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the scheduling loop, running one cycle immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("aggregation scheduler starting", "interval", s.interval.String())

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop gracefully stops the scheduler, waiting for an in-flight cycle.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("aggregation scheduler stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastCycle returns the most recent cycle's stats, if any cycle ran.
func (s *Scheduler) LastCycle() (aggregator.CycleStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCycle, s.hasCycled
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.cycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle runs synchronously on the loop goroutine, which is what makes
// overlap impossible.
func (s *Scheduler) cycle(ctx context.Context) {
	stats := s.runner.RunCycle(ctx)

	s.mu.Lock()
	s.lastCycle = stats
	s.hasCycled = true
	s.mu.Unlock()
}
