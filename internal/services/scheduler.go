package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tally/internal/core"
	"tally/internal/store"
)

// RollupJob is the job-run ledger name of the monthly rollup.
const RollupJob = "monthly_rollup"

// RollupSchedulerConfig holds configuration for the rollup scheduler
type RollupSchedulerConfig struct {
	// CheckInterval is how often dueness is checked (default: 1h)
	CheckInterval time.Duration

	Schedule RollupSchedule

	// AppliedRetention is how long idempotency keys are kept. Each check
	// prunes older keys; 0 disables pruning.
	AppliedRetention time.Duration
}

// DefaultRollupSchedulerConfig returns sensible defaults
func DefaultRollupSchedulerConfig() RollupSchedulerConfig {
	return RollupSchedulerConfig{
		CheckInterval:    time.Hour,
		Schedule:         RollupSchedule{Day: 1, Location: time.UTC},
		AppliedRetention: 30 * 24 * time.Hour,
	}
}

// RollupScheduler periodically runs the compactor when the schedule says so
// and records successful runs in the store's job ledger.
type RollupScheduler struct {
	store     store.Store
	compactor *MonthlyCompactor
	config    RollupSchedulerConfig
	now       func() time.Time

	// pending holds the households that failed the last partial run of
	// pendingMonth; the next check retries only those.
	pendingMu    sync.Mutex
	pendingMonth core.MonthKey
	pending      []string

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRollupScheduler(st store.Store, compactor *MonthlyCompactor, config RollupSchedulerConfig) *RollupScheduler {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Hour
	}
	return &RollupScheduler{
		store:     st,
		compactor: compactor,
		config:    config,
		now:       time.Now,
	}
}

// WithClock replaces the scheduler's time source.
func (s *RollupScheduler) WithClock(now func() time.Time) *RollupScheduler {
	s.now = now
	return s
}

// Start begins the check loop. Returns an error if already running.
func (s *RollupScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("rollup scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	slog.InfoContext(ctx, "Rollup scheduler started",
		"component", "scheduler",
		"check_interval", s.config.CheckInterval,
		"day", s.config.Schedule.Day)
	return nil
}

// Stop gracefully stops the scheduler and waits for an in-flight run.
func (s *RollupScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	doneCh := s.doneCh
	close(s.stopCh)
	s.mu.Unlock()

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Rollup scheduler stopped gracefully", "component", "scheduler")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Rollup scheduler stop timed out", "component", "scheduler")
		return ctx.Err()
	}
	return nil
}

func (s *RollupScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *RollupScheduler) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	// Check immediately on startup
	s.check(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *RollupScheduler) check(ctx context.Context) {
	if _, err := s.CheckOnce(ctx); err != nil {
		slog.ErrorContext(ctx, "Scheduled rollup failed", "component", "scheduler", "error", err)
	}
	if _, err := s.PruneApplied(ctx); err != nil {
		slog.ErrorContext(ctx, "Idempotency key pruning failed", "component", "scheduler", "error", err)
	}
}

// PruneApplied removes idempotency keys older than the configured retention.
func (s *RollupScheduler) PruneApplied(ctx context.Context) (int64, error) {
	if s.config.AppliedRetention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.config.AppliedRetention)
	n, err := s.store.PruneApplied(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "Pruned idempotency keys",
			"component", "scheduler",
			"removed", n,
			"cutoff", cutoff)
	}
	return n, nil
}

// CheckOnce runs the compactor if the rollup is due and reports whether it
// ran. The run is recorded only when every household succeeded. After a
// partial run the next check rolls up only the households that failed, so
// households that already got their report are not notified twice.
func (s *RollupScheduler) CheckOnce(ctx context.Context) (bool, error) {
	now := s.now()
	lastRun, err := s.store.LastJobRun(ctx, RollupJob)
	if err != nil {
		return false, fmt.Errorf("read last run: %w", err)
	}
	if !s.config.Schedule.IsDue(lastRun, now) {
		slog.DebugContext(ctx, "Rollup not due", "component", "scheduler", "last_run", lastRun)
		return false, nil
	}

	month := s.compactor.MonthBefore(now)
	var result RollupResult
	if retry := s.pendingFor(month); len(retry) > 0 {
		slog.InfoContext(ctx, "Retrying failed households",
			"component", "scheduler",
			"month", string(month),
			"households", len(retry))
		result, err = s.compactor.RunHouseholds(ctx, month, retry, now)
	} else {
		result, err = s.compactor.RunMonth(ctx, month, now)
	}
	if err != nil {
		var partial *core.PartialScanError
		if errors.As(err, &partial) {
			s.setPending(month, partial.Failures)
			slog.WarnContext(ctx, "Rollup incomplete, will retry at next check",
				"component", "scheduler",
				"month", string(result.Month),
				"failed", len(result.Failures))
		}
		return true, err
	}
	s.setPending("", nil)

	if err := s.store.RecordJobRun(ctx, RollupJob, now); err != nil {
		return true, fmt.Errorf("record run: %w", err)
	}
	slog.InfoContext(ctx, "Rollup recorded",
		"component", "scheduler",
		"month", string(result.Month),
		"reports", len(result.Reports))
	return true, nil
}

func (s *RollupScheduler) pendingFor(month core.MonthKey) []string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pendingMonth != month {
		return nil
	}
	return append([]string(nil), s.pending...)
}

func (s *RollupScheduler) setPending(month core.MonthKey, failures []core.ScanFailure) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pendingMonth = month
	s.pending = s.pending[:0]
	for _, f := range failures {
		s.pending = append(s.pending, f.HouseholdID)
	}
}
