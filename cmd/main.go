package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/keyprint/internal/adapters/http/api"
	"github.com/okian/keyprint/internal/adapters/http/swagger"
	"github.com/okian/keyprint/internal/adapters/repository"
	"github.com/okian/keyprint/internal/adapters/rulesfile"
	app "github.com/okian/keyprint/internal/app"
	"github.com/okian/keyprint/internal/config"
	"github.com/okian/keyprint/internal/domain/baseline"
	"github.com/okian/keyprint/internal/domain/scoring"
	"github.com/okian/keyprint/pkg/logger"
	"github.com/okian/keyprint/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
	storeConnectTimeout    = 10 * time.Second
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Logger isn't configured yet
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

// run wires every component from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	metrics.RegisterRuntimeCollectors()

	scorer, err := newScorer(ctx, cfg, log)
	if err != nil {
		return err
	}

	store, closeStore, err := newStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := newService(cfg, store, scorer, log)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Warn(stopCtx, "service stop incomplete", logger.Error(err))
		}
	}()

	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// newScorer builds the scorer and, when a rule file is configured, loads it
// and optionally keeps watching it.
func newScorer(ctx context.Context, cfg *config.Config, log logger.Logger) (*scoring.Scorer, error) {
	scorer := scoring.New()
	metrics.UpdateRulesActive(len(scorer.Rules().Rules))
	if cfg.RulesFile == "" {
		log.Info(ctx, "using built-in rule table", logger.Int("rules", len(scorer.Rules().Rules)))
		return scorer, nil
	}

	w, err := rulesfile.New(cfg.RulesFile, scorer, rulesfile.WithLogger(log.Named("rulesfile")))
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	if err := w.Load(ctx); err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if cfg.WatchRules {
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error(ctx, "rules watcher stopped", logger.Error(err))
			}
		}()
	}
	return scorer, nil
}

// newStore selects the baseline store. The returned func releases it.
func newStore(ctx context.Context, cfg *config.Config, log logger.Logger) (baseline.Store, func(), error) {
	if cfg.PostgresURL == "" {
		log.Info(ctx, "using in-memory baseline store")
		return repository.NewMemoryStore(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()

	db, err := repository.OpenPostgres(connectCtx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	store, err := repository.NewPostgresStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if err := store.Migrate(connectCtx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	log.Info(ctx, "using postgres baseline store")
	return store, func() { _ = store.Close() }, nil
}

func newService(cfg *config.Config, store baseline.Store, scorer *scoring.Scorer, log logger.Logger) *app.Service {
	return app.New(
		app.WithLogger(log.Named("service")),
		app.WithStore(store),
		app.WithScorer(scorer),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithMaxEventsPerSession(cfg.MaxEventsPerSession),
		app.WithMaxOpenSessions(cfg.MaxOpenSessions),
		app.WithSessionTTL(cfg.SessionTTL()),
		app.WithBaselineTimeout(cfg.BaselineTimeout()),
		app.WithBaselineUpdateWeight(cfg.BaselineUpdateWeight),
		app.WithLearnOnAllow(cfg.LearnOnAllow),
	)
}

func newHandler(ctx context.Context, svc *app.Service) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc).Register(ctx, mux)
	return mux
}

// startServiceMetricsUpdater refreshes gauges derived from service state.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = svc.GetStats()
		}
	}
}
