package service

import (
	"time"

	"github.com/okian/keyprint/internal/domain/baseline"
	"github.com/okian/keyprint/internal/domain/scoring"
	"github.com/okian/keyprint/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the baseline store. The default is an in-memory store.
func WithStore(store baseline.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithScorer sets the scorer, typically one shared with a rule watcher.
func WithScorer(scorer *scoring.Scorer) Option {
	return func(s *Service) {
		if scorer != nil {
			s.scorer = scorer
		}
	}
}

// WithWorkerCount sets the number of training workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the training queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the batch deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxEventsPerSession bounds each capture buffer.
func WithMaxEventsPerSession(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxEvents = n
		}
	}
}

// WithMaxOpenSessions bounds the number of concurrently tracked sessions.
func WithMaxOpenSessions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxOpen = n
		}
	}
}

// WithSessionTTL sets how long a session may stay open.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// WithBaselineTimeout bounds baseline lookups on the scoring path.
func WithBaselineTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.baselineTimeout = d
		}
	}
}

// WithBaselineUpdateWeight sets the weight of a new session in the moving
// average. Values outside (0, 1] are ignored.
func WithBaselineUpdateWeight(w float64) Option {
	return func(s *Service) {
		if w > 0 && w <= 1 {
			s.updateWeight = w
		}
	}
}

// WithLearnOnAllow toggles folding allowed live sessions into baselines.
func WithLearnOnAllow(on bool) Option {
	return func(s *Service) {
		s.learnOnAllow = on
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
