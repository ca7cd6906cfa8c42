package evolution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs periodic decay sweeps over a set of workspaces in the
// background. Lifecycle is Start/Stop; a sweep that fails or panics is
// logged and the schedule continues.
type Scheduler struct {
	engine       *Engine
	interval     time.Duration
	workspaceIDs []string
	logger       *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the time between sweeps. Default: 24 hours.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = interval }
}

// WithWorkspaces sets the workspaces swept on each run.
func WithWorkspaces(workspaceIDs []string) SchedulerOption {
	return func(s *Scheduler) { s.workspaceIDs = workspaceIDs }
}

// NewScheduler creates a stopped scheduler; call Start to begin sweeps.
func NewScheduler(engine *Engine, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		engine:   engine,
		interval: 24 * time.Hour,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the background sweep loop. Starting a running
// scheduler is an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("decay scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("workspace_count", len(s.workspaceIDs)))
	go s.run()
	return nil
}

// Stop signals the loop to exit. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.logger.Info("decay scheduler stopped")
	return nil
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep runs one decay pass per workspace. A panic in the engine must
// not take the scheduler down with it.
func (s *Scheduler) sweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("decay sweep panicked, continuing schedule",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	for _, workspaceID := range s.workspaceIDs {
		result, err := s.engine.Evolve(ctx, EvolveRequest{
			WorkspaceID:        workspaceID,
			ApplyTemporalDecay: true,
		})
		if err != nil {
			s.logger.Error("scheduled decay sweep failed",
				zap.String("workspace_id", workspaceID),
				zap.Error(err))
			continue
		}
		s.logger.Info("scheduled decay sweep completed",
			zap.String("workspace_id", workspaceID),
			zap.Int("updated", result.Updated),
			zap.Int("flagged", len(result.Flagged)))
	}
}
