// Package service wires capture, feature extraction, baselines and scoring
// into the operations exposed by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/keyprint/internal/adapters/mq/queue"
	workerpool "github.com/okian/keyprint/internal/adapters/mq/worker"
	"github.com/okian/keyprint/internal/adapters/repository"
	"github.com/okian/keyprint/internal/domain/baseline"
	"github.com/okian/keyprint/internal/domain/capture"
	"github.com/okian/keyprint/internal/domain/dedupe"
	"github.com/okian/keyprint/internal/domain/features"
	"github.com/okian/keyprint/internal/domain/model"
	"github.com/okian/keyprint/internal/domain/scoring"
	"github.com/okian/keyprint/internal/domain/types"
	"github.com/okian/keyprint/pkg/logger"
	"github.com/okian/keyprint/pkg/metrics"
)

const identityLockStripes = 64

// Service implements the API dependencies for the risk engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	store   baseline.Store
	scorer  *scoring.Scorer
	deduper dedupe.Deduper
	queue   eventqueue.Queue
	pool    *workerpool.Pool

	sessions      map[string]*tracked
	identityLocks [identityLockStripes]sync.Mutex

	// Configuration
	workerCount     int
	queueSize       int
	dedupeSize      int
	maxEvents       int
	maxOpen         int
	sessionTTL      time.Duration
	baselineTimeout time.Duration
	updateWeight    float64
	learnOnAllow    bool
	now             func() time.Time

	// State
	started bool
	stopCh  chan struct{}
	sweepWG sync.WaitGroup

	counters struct {
		started   atomic.Int64
		assessed  atomic.Int64
		enrolled  atomic.Int64
		learned   atomic.Int64
		expired   atomic.Int64
		degraded  atomic.Int64
		learnSkip atomic.Int64
	}

	logger logger.Logger
}

// tracked is one open session. The buffer is guarded by mu because batches
// for the same session may arrive concurrently.
type tracked struct {
	mu       sync.Mutex
	identity string
	purpose  types.Purpose
	buf      *capture.Buffer
	opened   time.Time
}

// New constructs a Service. Background work starts with Start.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:     runtime.NumCPU(),
		queueSize:       10_000,
		dedupeSize:      100_000,
		maxEvents:       10_000,
		maxOpen:         50_000,
		sessionTTL:      30 * time.Minute,
		baselineTimeout: 250 * time.Millisecond,
		updateWeight:    baseline.DefaultUpdateWeight,
		learnOnAllow:    true,
		now:             time.Now,
		sessions:        make(map[string]*tracked),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.scorer == nil {
		s.scorer = scoring.New()
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s)
	return s
}

// Start launches the training workers and the session supervisor.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.pool.Start(ctx)

	s.sweepWG.Add(1)
	go s.supervise(ctx)

	s.started = true
	s.logger.Info(ctx, "risk service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("maxOpenSessions", s.maxOpen),
		logger.Duration("sessionTTL", s.sessionTTL),
		logger.Bool("learnOnAllow", s.learnOnAllow),
	)
	return nil
}

// Stop drains pending training jobs and stops background work.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.sweepWG.Wait()
	err := s.pool.Shutdown(ctx)
	s.logger.Info(ctx, "risk service stopped")
	return err
}

// StartSession opens a capture buffer for identity.
func (s *Service) StartSession(ctx context.Context, identity string, purpose types.Purpose) (string, error) {
	if identity == "" {
		return "", ErrInvalidIdentity
	}
	if purpose == "" {
		purpose = types.PurposeLive
	}
	if !purpose.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPurpose, purpose)
	}

	buf := capture.New(capture.WithMaxEvents(s.maxEvents), capture.WithClock(s.now))
	buf.Start()
	t := &tracked{identity: identity, purpose: purpose, buf: buf, opened: s.now()}

	s.mu.Lock()
	if len(s.sessions) >= s.maxOpen {
		s.mu.Unlock()
		return "", ErrTooManySessions
	}
	id := buf.ID()
	s.sessions[id] = t
	open := len(s.sessions)
	s.mu.Unlock()

	s.counters.started.Add(1)
	metrics.RecordSessionStarted(string(purpose))
	metrics.UpdateOpenSessions(open)
	s.logger.Debug(ctx, "session started",
		logger.String("session_id", id),
		logger.String("identity", identity),
		logger.String("purpose", string(purpose)),
	)
	return id, nil
}

// RecordSummary reports what happened to one event batch.
type RecordSummary struct {
	Accepted  int  `json:"accepted"`
	Dropped   int  `json:"dropped"`
	Duplicate bool `json:"duplicate"`
}

// RecordEvents appends a batch to an open session. A non-empty batchID makes
// the call idempotent: a repeated batch is reported as a duplicate and not
// recorded again.
func (s *Service) RecordEvents(ctx context.Context, sessionID, batchID string, events []model.Event) (RecordSummary, error) {
	t, err := s.lookup(sessionID)
	if err != nil {
		return RecordSummary{}, err
	}

	key := ""
	if batchID != "" {
		key = sessionID + "/" + batchID
		if s.deduper.SeenAndRecord(ctx, key) {
			metrics.RecordBatchDuplicate()
			return RecordSummary{Duplicate: true}, nil
		}
	}

	var sum RecordSummary
	t.mu.Lock()
	if !t.buf.Active() {
		t.mu.Unlock()
		if key != "" {
			s.deduper.Unrecord(ctx, key)
		}
		return RecordSummary{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	for _, e := range events {
		switch r := t.buf.Record(e); r {
		case capture.Recorded:
			sum.Accepted++
		default:
			sum.Dropped++
			metrics.RecordEventDropped(r.String())
		}
	}
	t.mu.Unlock()

	metrics.RecordEventsRecorded(sum.Accepted)
	if sum.Dropped > 0 {
		s.logger.Debug(ctx, "events dropped",
			logger.String("session_id", sessionID),
			logger.Int("dropped", sum.Dropped),
		)
	}
	return sum, nil
}

// AssessResult is a finished live session's risk assessment.
type AssessResult struct {
	SessionID  string `json:"session_id"`
	Identity   string `json:"identity"`
	EventCount int    `json:"event_count"`
	scoring.Assessment
}

// Assess ends a live session and scores it. Baseline problems never fail the
// call: the assessment is computed without the baseline and says so.
func (s *Service) Assess(ctx context.Context, sessionID string, device model.DeviceSignal) (AssessResult, error) {
	t, sess, err := s.finish(ctx, sessionID, types.PurposeLive)
	if err != nil {
		return AssessResult{}, err
	}

	extractStart := time.Now()
	vec := features.Extract(sess)
	metrics.RecordExtractionLatency(float64(time.Since(extractStart).Microseconds()) / 1000)

	b, status, lerr := baseline.Lookup(ctx, s.store, t.identity, s.baselineTimeout)
	metrics.RecordBaselineLookup(string(status))
	if status == baseline.StatusAdapterFailure {
		metrics.RecordBaselineFailure()
		s.logger.Warn(ctx, "baseline lookup failed, scoring without baseline",
			logger.String("identity", t.identity),
			logger.Error(lerr),
		)
	}

	scoreStart := time.Now()
	a := s.scorer.Score(vec, b, device)
	metrics.RecordScoringLatency(float64(time.Since(scoreStart).Microseconds()) / 1000)

	if status == baseline.StatusAdapterFailure {
		a.Warnings = append(a.Warnings, types.WarningAdapterFailure)
	}
	a.Warnings = append(a.Warnings, sessionWarnings(sess)...)
	if !a.BaselineUsed {
		s.counters.degraded.Add(1)
	}

	s.counters.assessed.Add(1)
	metrics.RecordAssessment(string(a.Action), a.BaselineUsed, a.Score)
	s.logger.Info(ctx, "session assessed",
		logger.String("session_id", sessionID),
		logger.String("identity", t.identity),
		logger.Float64("score", a.Score),
		logger.String("action", string(a.Action)),
		logger.Bool("baseline_used", a.BaselineUsed),
	)

	if a.Action == types.ActionAllow && a.BaselineUsed && s.learnOnAllow {
		s.enqueueLearning(ctx, t.identity, sess, vec, device)
	}

	return AssessResult{
		SessionID:  sessionID,
		Identity:   t.identity,
		EventCount: sess.Len(),
		Assessment: a,
	}, nil
}

func (s *Service) enqueueLearning(ctx context.Context, identity string, sess model.Session, vec features.Vector, device model.DeviceSignal) {
	job := eventqueue.TrainingJob{
		ID:        uuid.NewString(),
		Identity:  identity,
		SessionID: sess.ID,
		Vector:    vec,
		Device:    device,
		Pattern:   features.Intervals(sess),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.counters.learnSkip.Add(1)
		s.logger.Warn(ctx, "training job not queued",
			logger.String("identity", identity),
			logger.Error(err),
		)
	}
}

// EnrollResult summarizes the baseline after an enrollment.
type EnrollResult struct {
	Identity     string   `json:"identity"`
	SessionID    string   `json:"session_id"`
	Created      bool     `json:"created"`
	SessionCount int      `json:"session_count"`
	Reliable     bool     `json:"reliable"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Enroll ends a training session and folds it into the identity's baseline.
// With reset, any existing baseline is replaced. Unlike Assess, store
// failures are returned to the caller.
func (s *Service) Enroll(ctx context.Context, sessionID string, device model.DeviceSignal, reset bool) (EnrollResult, error) {
	t, sess, err := s.finish(ctx, sessionID, types.PurposeTraining)
	if err != nil {
		return EnrollResult{}, err
	}
	if sess.Empty() {
		return EnrollResult{}, ErrEmptySession
	}

	sample := baseline.Sample{
		Vector:  features.Extract(sess),
		Device:  device,
		Pattern: features.Intervals(sess),
	}
	b, created, err := s.apply(ctx, t.identity, sample, reset)
	if err != nil {
		return EnrollResult{}, err
	}

	s.counters.enrolled.Add(1)
	s.logger.Info(ctx, "session enrolled",
		logger.String("session_id", sessionID),
		logger.String("identity", t.identity),
		logger.Bool("created", created),
		logger.Int("session_count", b.SessionCount),
	)
	return EnrollResult{
		Identity:     t.identity,
		SessionID:    sessionID,
		Created:      created,
		SessionCount: b.SessionCount,
		Reliable:     b.Reliable(),
		Warnings:     sessionWarnings(sess),
	}, nil
}

// Learn implements worker.Learner: it folds a verified live session into an
// existing baseline. Jobs for identities without a baseline are skipped.
func (s *Service) Learn(ctx context.Context, job eventqueue.TrainingJob) error {
	sample := baseline.Sample{Vector: job.Vector, Device: job.Device, Pattern: job.Pattern}

	mu := s.identityLock(job.Identity)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Load(ctx, job.Identity)
	if errors.Is(err, baseline.ErrNotFound) {
		s.counters.learnSkip.Add(1)
		return nil
	}
	if err != nil {
		metrics.RecordBaselineFailure()
		return fmt.Errorf("%w: %w", ErrBaselineStore, err)
	}
	b = baseline.Update(b, sample, s.now(), s.updateWeight)
	if err := s.store.Save(ctx, b); err != nil {
		metrics.RecordBaselineFailure()
		return fmt.Errorf("%w: %w", ErrBaselineStore, err)
	}
	s.counters.learned.Add(1)
	metrics.RecordBaselineUpdate("learned")
	return nil
}

// apply establishes or updates the baseline of identity under its lock.
func (s *Service) apply(ctx context.Context, identity string, sample baseline.Sample, reset bool) (baseline.Baseline, bool, error) {
	mu := s.identityLock(identity)
	mu.Lock()
	defer mu.Unlock()

	var (
		b       baseline.Baseline
		created bool
		err     error
	)
	if !reset {
		b, err = s.store.Load(ctx, identity)
		switch {
		case errors.Is(err, baseline.ErrNotFound):
			reset = true
		case err != nil:
			metrics.RecordBaselineFailure()
			return baseline.Baseline{}, false, fmt.Errorf("%w: %w", ErrBaselineStore, err)
		}
	}

	kind := "updated"
	if reset {
		b, err = baseline.Establish(identity, s.now(), sample)
		if err != nil {
			return baseline.Baseline{}, false, err
		}
		created = true
		kind = "established"
	} else {
		b = baseline.Update(b, sample, s.now(), s.updateWeight)
	}

	if err := s.store.Save(ctx, b); err != nil {
		metrics.RecordBaselineFailure()
		return baseline.Baseline{}, false, fmt.Errorf("%w: %w", ErrBaselineStore, err)
	}
	metrics.RecordBaselineUpdate(kind)
	return b, created, nil
}

// Baseline returns the stored baseline of identity.
func (s *Service) Baseline(ctx context.Context, identity string) (baseline.Baseline, error) {
	b, err := s.store.Load(ctx, identity)
	if err != nil && !errors.Is(err, baseline.ErrNotFound) {
		return baseline.Baseline{}, fmt.Errorf("%w: %w", ErrBaselineStore, err)
	}
	return b, err
}

// DeleteBaseline forgets identity's baseline.
func (s *Service) DeleteBaseline(ctx context.Context, identity string) error {
	mu := s.identityLock(identity)
	mu.Lock()
	defer mu.Unlock()

	err := s.store.Delete(ctx, identity)
	if err != nil && !errors.Is(err, baseline.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrBaselineStore, err)
	}
	if err == nil {
		s.logger.Info(ctx, "baseline deleted", logger.String("identity", identity))
	}
	return err
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	open := len(s.sessions)
	started := s.started
	s.mu.RUnlock()

	queueLen := s.queue.Len()
	metrics.UpdateOpenSessions(open)
	metrics.UpdateQueueSize(queueLen)

	return map[string]interface{}{
		"started":             started,
		"openSessions":        open,
		"maxOpenSessions":     s.maxOpen,
		"sessionsStarted":     s.counters.started.Load(),
		"sessionsExpired":     s.counters.expired.Load(),
		"assessments":         s.counters.assessed.Load(),
		"degradedAssessments": s.counters.degraded.Load(),
		"enrollments":         s.counters.enrolled.Load(),
		"learnedSessions":     s.counters.learned.Load(),
		"learningSkipped":     s.counters.learnSkip.Load(),
		"queueLength":         queueLen,
		"queueSize":           s.queueSize,
		"workerCount":         s.pool.Size(),
		"dedupeSize":          s.deduper.Size(),
		"rules":               len(s.scorer.Rules().Rules),
	}
}

// lookup returns an open session.
func (s *Service) lookup(sessionID string) (*tracked, error) {
	s.mu.RLock()
	t, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return t, nil
}

// finish removes a session from tracking and stops its buffer. The purpose
// is checked before anything is removed.
func (s *Service) finish(ctx context.Context, sessionID string, purpose types.Purpose) (*tracked, model.Session, error) {
	s.mu.Lock()
	t, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, model.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if t.purpose != purpose {
		s.mu.Unlock()
		return nil, model.Session{}, fmt.Errorf("%w: session is %s", ErrPurposeMismatch, t.purpose)
	}
	delete(s.sessions, sessionID)
	open := len(s.sessions)
	s.mu.Unlock()

	t.mu.Lock()
	sess := t.buf.Stop()
	t.mu.Unlock()

	s.deduper.Forget(ctx, sessionID+"/")
	metrics.UpdateOpenSessions(open)
	return t, sess, nil
}

func (s *Service) identityLock(identity string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &s.identityLocks[h.Sum32()%identityLockStripes]
}

func sessionWarnings(sess model.Session) []string {
	var w []string
	if sess.Dropped > 0 {
		w = append(w, types.WarningEventsDropped)
	}
	if sess.Truncated {
		w = append(w, types.WarningSessionTruncated)
	}
	if sess.Empty() {
		w = append(w, types.WarningEmptySession)
	}
	return w
}
