package service

import (
	"context"
	"time"

	"github.com/okian/keyprint/pkg/logger"
	"github.com/okian/keyprint/pkg/metrics"
)

const (
	minSweepInterval = time.Second
	maxSweepInterval = time.Minute
)

func (s *Service) sweepInterval() time.Duration {
	return min(max(s.sessionTTL/4, minSweepInterval), maxSweepInterval)
}

// supervise expires abandoned sessions until the service stops.
func (s *Service) supervise(ctx context.Context) {
	defer s.sweepWG.Done()

	ticker := time.NewTicker(s.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n := s.ExpireSessions(ctx); n > 0 {
				s.logger.Info(ctx, "expired idle sessions", logger.Int("count", n))
			}
		}
	}
}

// ExpireSessions discards every session open for longer than the session
// TTL and returns how many were removed. Their events are never scored.
func (s *Service) ExpireSessions(ctx context.Context) int {
	cutoff := s.now().Add(-s.sessionTTL)

	s.mu.Lock()
	var expired []string
	for id, t := range s.sessions {
		if t.opened.Before(cutoff) {
			expired = append(expired, id)
			delete(s.sessions, id)
			t.mu.Lock()
			t.buf.Stop()
			t.mu.Unlock()
		}
	}
	open := len(s.sessions)
	s.mu.Unlock()

	for _, id := range expired {
		s.deduper.Forget(ctx, id+"/")
		metrics.RecordSessionExpired()
	}
	s.counters.expired.Add(int64(len(expired)))
	metrics.UpdateOpenSessions(open)
	return len(expired)
}
