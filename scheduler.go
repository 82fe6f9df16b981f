package utrunner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// PlanScheduler runs the plan once, or once and then on every interval.
type PlanScheduler struct {
	interval time.Duration
	runOnce  bool
	logger   log.Logger
	callback func(ctx context.Context) error

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewPlanScheduler(interval time.Duration, runOnce bool, logger log.Logger) *PlanScheduler {
	return &PlanScheduler{
		interval: interval,
		runOnce:  runOnce,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// RegisterCallback sets the function executed on every tick
func (s *PlanScheduler) RegisterCallback(callback func(ctx context.Context) error) {
	s.callback = callback
}

// Start runs the callback immediately and returns its error. In continuous
// mode later ticks run in the background and their errors are only logged.
func (s *PlanScheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}
	if !s.runOnce && s.interval <= 0 {
		return errors.New("continuous mode requires a positive interval")
	}

	s.done = make(chan struct{})
	s.running.Store(true)

	if s.runOnce {
		s.logger.Info("Starting scheduler in run-once mode")
		return s.callback(ctx)
	}

	s.logger.Info("Starting scheduler in continuous mode", "interval", s.interval)
	if err := s.callback(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !s.running.Load() {
					return
				}
				s.logger.Info("Running scheduled plan")
				if err := s.callback(ctx); err != nil {
					s.logger.Error("Error running scheduled plan", "error", err)
				}
			case <-s.done:
				s.logger.Debug("Done signal received, stopping scheduler")
				return
			case <-ctx.Done():
				s.logger.Debug("Context canceled, stopping scheduler")
				s.running.Store(false)
				return
			}
		}
	}()
	return nil
}

// Stop prevents further ticks. A plan run in progress is not interrupted.
func (s *PlanScheduler) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		s.logger.Debug("Scheduler already stopped, nothing to do")
		return nil
	}
	close(s.done)
	return nil
}

func (s *PlanScheduler) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until the background goroutine has exited or ctx is done
func (s *PlanScheduler) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for scheduler to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
