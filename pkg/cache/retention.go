package cache

import (
	"context"
	"log/slog"
	"time"
)

// RetentionService periodically sweeps cache entries past their retention
// age and removes their directories. Sweeps are idempotent.
type RetentionService struct {
	manager   *Manager
	retention time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetentionService creates a sweeper over the given manager.
func NewRetentionService(manager *Manager, retention, interval time.Duration) *RetentionService {
	return &RetentionService{
		manager:   manager,
		retention: retention,
		interval:  interval,
	}
}

// Start launches the background sweep loop.
func (s *RetentionService) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cache retention service started",
		"retention", s.retention,
		"interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *RetentionService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cache retention service stopped")
}

func (s *RetentionService) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *RetentionService) sweep(ctx context.Context) {
	count, err := s.manager.Sweep(ctx, s.retention)
	if err != nil {
		// A sweep cut short by shutdown finishes on the next start.
		if ctx.Err() == nil {
			slog.Error("Cache retention sweep failed", "error", err)
		}
		return
	}
	if count > 0 {
		slog.Info("Cache retention swept entries", "count", count)
	}
}
