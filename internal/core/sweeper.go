package core

// sweeper.go evicts idle workspaces so memory does not grow with every
// browser that ever connected. Workspaces with an upload in flight are
// never evicted.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when StartSweeper gets a non-positive interval.
const DefaultSweepInterval = time.Minute

// StartSweeper evicts idle workspaces every interval until ctx is cancelled.
// It does nothing if the service has no idle timeout.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	if s.opts.IdleTimeout <= 0 {
		slog.Info("session sweeper disabled")
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	slog.Info("session sweeper started",
		"interval", interval,
		"idle_timeout", s.opts.IdleTimeout,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.SweepIdle()
		}
	}
}

// SweepIdle removes workspaces idle for longer than the idle timeout and
// returns how many were removed.
func (s *Service) SweepIdle() int {
	if s.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.opts.IdleTimeout)

	s.mu.Lock()
	removed := 0
	for id, ws := range s.workspaces {
		if ws.Uploading() || ws.idleSince().After(cutoff) {
			continue
		}
		delete(s.workspaces, id)
		removed++
	}
	remaining := len(s.workspaces)
	s.mu.Unlock()

	if removed > 0 {
		slog.Info("idle sessions evicted", "removed", removed, "remaining", remaining)
	}
	return removed
}
