package sessiongen

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/keyprint/pkg/logger"
)

// Default flag values.
const (
	defaultURL         = "http://localhost:9080"
	defaultIdentities  = 20
	defaultEnrollments = 5
	defaultSessions    = 5
	defaultBatchSize   = 50
	defaultTimeout     = 10 * time.Second
	defaultRunTimeout  = 10 * time.Minute
)

// NewRootCommand builds the sessiongen command.
func NewRootCommand() *cobra.Command {
	cfg := Config{}
	var (
		logFormat  string
		verbose    bool
		runTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sessiongen",
		Short: "Replay synthetic human and bot sessions against a keyprint server",
		Long: "Enrolls a set of identities with human-like training sessions, then\n" +
			"assesses genuine and bot sessions for each and prints how the server\n" +
			"decided on them.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(logger.WithFormat(logFormat), logger.WithWriter(cmd.ErrOrStderr())); err != nil {
				return err
			}
			if verbose {
				return logger.SetLevelString("debug")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
			defer cancel()

			report, err := Run(ctx, cfg, logger.Get().Named("sessiongen"))
			if err != nil {
				return err
			}
			return report.Print(cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", defaultURL, "Base URL of the keyprint server")
	f.IntVar(&cfg.Identities, "identities", defaultIdentities, "Number of identities to enroll")
	f.IntVar(&cfg.Enrollments, "enrollments", defaultEnrollments, "Training sessions per identity")
	f.IntVar(&cfg.Sessions, "sessions", defaultSessions, "Live sessions per identity for each of human and bot")
	f.IntVar(&cfg.BatchSize, "batch", defaultBatchSize, "Events per batch")
	f.IntVar(&cfg.Workers, "workers", runtime.NumCPU(), "Identities processed concurrently")
	f.Uint64Var(&cfg.Seed, "seed", uint64(time.Now().UnixNano()), "Random seed")
	f.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.DurationVar(&runTimeout, "run-timeout", defaultRunTimeout, "Upper bound for the whole run")
	f.StringVar(&logFormat, "log-format", "text", "Log format (text|json)")
	f.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
