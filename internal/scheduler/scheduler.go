// Package scheduler runs the periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"chart-trade-analyzer/internal/events"
	"chart-trade-analyzer/internal/patterns"
)

// Config holds the cron expressions, seconds field included
type Config struct {
	SweepCron  string        `json:"sweep_cron" yaml:"sweep_cron" default:"0 */15 * * * *"`
	ReportCron string        `json:"report_cron" yaml:"report_cron" default:"0 0 22 * * 1-5"`
	JobTimeout time.Duration `json:"job_timeout" yaml:"job_timeout" default:"2m"`
}

// DefaultConfig sweeps every 15 minutes and reports after the US close
func DefaultConfig() Config {
	return Config{
		SweepCron:  "0 */15 * * * *",
		ReportCron: "0 0 22 * * 1-5",
		JobTimeout: 2 * time.Minute,
	}
}

// Sweeper removes orphaned uploads
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Summarizer produces the learning summary
type Summarizer interface {
	Summarize(ctx context.Context) (*patterns.Summary, error)
}

// SweepObserver counts removed batches
type SweepObserver interface {
	ObserveSweep(removed int)
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron       *cron.Cron
	sweeper    Sweeper
	summarizer Summarizer
	bus        *events.EventBus
	observer   SweepObserver
	config     Config
	logger     zerolog.Logger
	ctx        context.Context
}

// NewScheduler creates a new Scheduler. Any of the collaborators may be
// nil; its job is then not registered.
func NewScheduler(ctx context.Context, cfg Config, sweeper Sweeper, summarizer Summarizer, bus *events.EventBus, observer SweepObserver, logger zerolog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.SweepCron == "" {
		cfg.SweepCron = def.SweepCron
	}
	if cfg.ReportCron == "" {
		cfg.ReportCron = def.ReportCron
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	logger = logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger), cron.Recover(cron.DiscardLogger)),
		),
		sweeper:    sweeper,
		summarizer: summarizer,
		bus:        bus,
		observer:   observer,
		config:     cfg,
		logger:     logger,
		ctx:        ctx,
	}
}

// RegisterAll registers the sweep and report jobs.
func (s *Scheduler) RegisterAll() error {
	if s.sweeper != nil {
		if _, err := s.Cron.AddFunc(s.config.SweepCron, s.RunSweep); err != nil {
			return fmt.Errorf("register sweep task: %w", err)
		}
	}
	if s.summarizer != nil {
		if _, err := s.Cron.AddFunc(s.config.ReportCron, s.RunReport); err != nil {
			return fmt.Errorf("register report task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info().Int("jobs", len(s.Cron.Entries())).Msg("Scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// RunSweep removes orphaned upload batches
func (s *Scheduler) RunSweep() {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.JobTimeout)
	defer cancel()

	removed, err := s.sweeper.Sweep(ctx)
	if s.observer != nil {
		s.observer.ObserveSweep(removed)
	}
	if err != nil {
		s.logger.Error().Err(err).Int("removed", removed).Msg("Upload sweep failed")
		if s.bus != nil {
			s.bus.PublishError("scheduler", "upload sweep failed", err)
		}
		return
	}
	if removed > 0 && s.bus != nil {
		s.bus.PublishUploadsSwept(removed)
	}
}

// RunReport publishes the pattern learning summary
func (s *Scheduler) RunReport() {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.JobTimeout)
	defer cancel()

	sum, err := s.summarizer.Summarize(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Pattern report failed")
		if s.bus != nil {
			s.bus.PublishError("scheduler", "pattern report failed", err)
		}
		return
	}

	s.logger.Info().
		Int("observed_setups", sum.ObservedSetups).
		Float64("success_rate", sum.OverallSuccessRate).
		Str("best_setup", sum.BestSetup).
		Str("most_frequent_behavior", sum.MostFrequentBehavior).
		Msg("Pattern report")

	if s.bus != nil {
		s.bus.PublishPatternReport(map[string]interface{}{
			"setup_patterns":         sum.SetupPatterns,
			"observed_setups":        sum.ObservedSetups,
			"overall_success_rate":   sum.OverallSuccessRate,
			"best_setup":             sum.BestSetup,
			"execution_patterns":     sum.ExecutionPatterns,
			"most_frequent_behavior": sum.MostFrequentBehavior,
			"worst_average_impact":   sum.WorstAverageImpact,
		})
	}
}
