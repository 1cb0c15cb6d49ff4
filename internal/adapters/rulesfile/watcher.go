// Package rulesfile hot-reloads the risk rule table from a YAML file.
package rulesfile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/keyprint/internal/domain/scoring"
	"github.com/okian/keyprint/pkg/logger"
	"github.com/okian/keyprint/pkg/metrics"
)

const defaultDebounce = 500 * time.Millisecond

// Reload outcomes reported to metrics.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// ErrNoPath is returned when the watcher has no file to watch.
var ErrNoPath = errors.New("rulesfile: empty path")

// Target receives reloaded rule tables.
type Target interface {
	SetRules(rs scoring.RuleSet) error
}

// Watcher reloads the rule file into a Target whenever it changes on disk.
type Watcher struct {
	path     string
	target   Target
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   logger.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long to wait after the last write before reloading.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher on the directory holding path. Editors often replace
// files instead of writing them in place, so the directory is watched and
// events are filtered by name.
func New(path string, target Target, opts ...Option) (*Watcher, error) {
	if path == "" {
		return nil, ErrNoPath
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("resolve %q: %w", path, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}

	w := &Watcher{
		path:     abs,
		target:   target,
		debounce: defaultDebounce,
		watcher:  fw,
		logger:   logger.Get().Named("rulesfile"),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Load reads the file once and applies it to the target.
func (w *Watcher) Load(ctx context.Context) error {
	rs, err := scoring.LoadRules(w.path)
	if err == nil {
		err = w.target.SetRules(rs)
	}
	if err != nil {
		metrics.RecordRuleReload(ResultFailed)
		w.logger.Error(ctx, "rule reload failed, keeping previous table",
			logger.String("path", w.path), logger.Error(err))
		return err
	}
	metrics.RecordRuleReload(ResultOK)
	metrics.UpdateRulesActive(len(rs.Rules))
	w.logger.Info(ctx, "rules reloaded",
		logger.String("path", w.path), logger.Int("rules", len(rs.Rules)))
	return nil
}

// Run watches for changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule(ctx)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "file watcher error", logger.Error(err))
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		_ = w.Load(ctx)
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
