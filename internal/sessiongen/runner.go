package sessiongen

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/okian/keyprint/internal/domain/types"
	"github.com/okian/keyprint/pkg/logger"
)

// Config holds one generator run.
type Config struct {
	BaseURL     string
	Identities  int
	Enrollments int // training sessions per identity
	Sessions    int // live sessions per identity and actor
	BatchSize   int
	Workers     int
	Seed        uint64
	Timeout     time.Duration
}

// Validate reports the first unusable field.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("base url must not be empty")
	case c.Identities <= 0:
		return fmt.Errorf("identities must be positive")
	case c.Enrollments < 0 || c.Sessions < 0:
		return fmt.Errorf("enrollments and sessions must not be negative")
	}
	return nil
}

// Report tallies decisions per actor.
type Report struct {
	Enrolled int
	Actions  map[Actor]map[types.Action]int
	Scores   map[Actor][]float64
	Failed   int
	Duration time.Duration
}

func newReport() *Report {
	return &Report{
		Actions: map[Actor]map[types.Action]int{ActorHuman: {}, ActorBot: {}},
		Scores:  map[Actor][]float64{},
	}
}

// Total returns the number of assessed sessions of a.
func (r *Report) Total(a Actor) int {
	n := 0
	for _, c := range r.Actions[a] {
		n += c
	}
	return n
}

// MeanScore returns the mean assessed score of a, or 0.
func (r *Report) MeanScore(a Actor) float64 {
	s := r.Scores[a]
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

// Print writes a per-actor decision table to w.
func (r *Report) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "actor\tsessions\tmean score\tALLOW\tSOFT_CHALLENGE\tHARD_CHALLENGE\tBLOCK\n")
	for _, a := range []Actor{ActorHuman, ActorBot} {
		c := r.Actions[a]
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%d\t%d\t%d\t%d\n", a, r.Total(a), r.MeanScore(a),
			c[types.ActionAllow], c[types.ActionSoftChallenge], c[types.ActionHardChallenge], c[types.ActionBlock])
	}
	fmt.Fprintf(tw, "\nenrolled %d identities, %d failed calls, took %s\n", r.Enrolled, r.Failed, r.Duration.Round(time.Millisecond))
	return tw.Flush()
}

type outcome struct {
	actor    Actor
	decision Decision
	err      error
}

// Run enrolls every identity and then assesses genuine and bot sessions
// against it.
func Run(ctx context.Context, cfg Config, log logger.Logger) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	workers := max(cfg.Workers, 1)
	client := NewClient(cfg.BaseURL, cfg.Timeout, cfg.BatchSize)
	started := time.Now()

	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}
	log.Info(ctx, "starting session run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("identities", cfg.Identities),
		logger.Int("enrollments", cfg.Enrollments),
		logger.Int("sessions", cfg.Sessions),
		logger.Int("workers", workers))

	ids := make(chan int)
	results := make(chan outcome)
	enrolled := make(chan struct{}, cfg.Identities)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range ids {
				// Each identity owns its generator so a seed reproduces a run
				// regardless of scheduling.
				gen := NewGenerator(cfg.Seed + uint64(i))
				identity := fmt.Sprintf("user-%04d", i)
				if err := enroll(ctx, client, gen, identity, cfg.Enrollments); err != nil {
					log.Warn(ctx, "enrollment failed", logger.String("identity", identity), logger.Error(err))
					results <- outcome{err: err}
					continue
				}
				enrolled <- struct{}{}
				for s := 0; s < cfg.Sessions; s++ {
					for _, p := range []Profile{HumanProfile(), BotProfile()} {
						d, err := live(ctx, client, gen, identity, p)
						results <- outcome{actor: p.Actor, decision: d, err: err}
					}
				}
			}
		}()
	}

	go func() {
		defer close(ids)
		for i := 0; i < cfg.Identities; i++ {
			select {
			case ids <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	report := newReport()
	for o := range results {
		if o.err != nil {
			report.Failed++
			continue
		}
		report.Actions[o.actor][o.decision.Action]++
		report.Scores[o.actor] = append(report.Scores[o.actor], o.decision.Score)
	}
	report.Enrolled = len(enrolled)
	for _, s := range report.Scores {
		slices.Sort(s)
	}
	report.Duration = time.Since(started)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	log.Info(ctx, "session run finished",
		logger.Int("enrolled", report.Enrolled),
		logger.Int("failed", report.Failed),
		logger.Float64("humanMeanScore", report.MeanScore(ActorHuman)),
		logger.Float64("botMeanScore", report.MeanScore(ActorBot)))
	return report, nil
}

func enroll(ctx context.Context, c *Client, gen *Generator, identity string, n int) error {
	device := gen.HomeDevice(identity)
	for i := 0; i < n; i++ {
		id, err := c.Start(ctx, identity, types.PurposeTraining)
		if err != nil {
			return err
		}
		if err := c.Send(ctx, id, gen.Events(HumanProfile())); err != nil {
			return err
		}
		if _, err := c.Enroll(ctx, id, device); err != nil {
			return err
		}
	}
	return nil
}

func live(ctx context.Context, c *Client, gen *Generator, identity string, p Profile) (Decision, error) {
	id, err := c.Start(ctx, identity, types.PurposeLive)
	if err != nil {
		return Decision{}, err
	}
	if err := c.Send(ctx, id, gen.Events(p)); err != nil {
		return Decision{}, err
	}
	return c.Assess(ctx, id, gen.Device(p, identity))
}
