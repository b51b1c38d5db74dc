package rotation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/keypanel/keypanel/internal/db/models"
	"github.com/keypanel/keypanel/internal/services"
	"github.com/keypanel/keypanel/internal/telemetry"
)

// ErrRunInProgress is returned by TriggerNow when a rotation run is already
// executing. Ticks that collide with a running tick are skipped, never queued.
var ErrRunInProgress = errors.New("a rotation run is already in progress")

// QueueRunner abstracts the transfer queue for the scheduler.
type QueueRunner interface {
	Run(ctx context.Context, jobs []TransferJob, notExpiringBefore time.Time) *RunSummary
}

// Status is a point-in-time snapshot of the scheduler, served by the status
// endpoint.
type Status struct {
	Enabled     bool                    `json:"enabled"`
	Running     bool                    `json:"running"`
	LastTickAt  *time.Time              `json:"lastTickAt,omitempty"`
	NextTickAt  *time.Time              `json:"nextTickAt,omitempty"`
	LastError   string                  `json:"lastError,omitempty"`
	LastSummary *RunSummary             `json:"lastSummary,omitempty"`
	LastCleanup *CleanupSummary         `json:"lastCleanup,omitempty"`
	Settings    models.RotationSettings `json:"settings"`
}

// Scheduler owns the periodic rotation loop. It re-reads its settings from
// the settings store at every tick, so interval and window changes apply
// without a restart. Exactly one Scheduler instance is expected per
// deployment; it is created and injected by main, never a package singleton.
type Scheduler struct {
	settings    SettingsStore
	accounts    AccountStore
	keys        KeyStore
	assignments AssignmentStore
	queue       QueueRunner
	lifecycle   *Lifecycle

	stopChan chan struct{}
	runMu    sync.Mutex // held for the duration of one run; TryLock implements skip-if-running

	mu          sync.Mutex // guards the status fields below
	running     bool
	lastTickAt  *time.Time
	nextTickAt  *time.Time
	lastError   string
	lastSummary *RunSummary
	lastCleanup *CleanupSummary

	now func() time.Time // replaced in tests
}

// NewScheduler wires a Scheduler from its collaborators
func NewScheduler(settings SettingsStore, accounts AccountStore, keys KeyStore, assignments AssignmentStore, queue QueueRunner, lifecycle *Lifecycle) *Scheduler {
	return &Scheduler{
		settings:    settings,
		accounts:    accounts,
		keys:        keys,
		assignments: assignments,
		queue:       queue,
		lifecycle:   lifecycle,
		stopChan:    make(chan struct{}),
		now:         time.Now,
	}
}

// Start begins the rotation loop: an immediate tick, then one per configured
// interval. The loop exits when ctx is cancelled or Stop is called; an
// in-flight run finishes its current job before the loop halts.
func (s *Scheduler) Start(ctx context.Context) {
	log.Println("rotation scheduler started")
	s.tick(ctx)

	for {
		interval := s.currentInterval(ctx)
		s.setNextTick(s.now().Add(interval))

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
			s.tick(ctx)
		case <-s.stopChan:
			timer.Stop()
			log.Println("rotation scheduler stopped")
			return
		case <-ctx.Done():
			timer.Stop()
			log.Println("rotation scheduler context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// TriggerNow executes one full rotation run immediately, regardless of the
// enabled flag. Returns ErrRunInProgress when a run is already executing.
func (s *Scheduler) TriggerNow(ctx context.Context) (*RunSummary, error) {
	settings, err := s.settings.LoadRotationSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rotation settings: %w", err)
	}
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()
	return s.runOnce(ctx, settings)
}

// GetStatus returns the current scheduler snapshot
func (s *Scheduler) GetStatus(ctx context.Context) (Status, error) {
	settings, err := s.settings.LoadRotationSettings(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load rotation settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:     settings.Enabled,
		Running:     s.running,
		LastTickAt:  s.lastTickAt,
		NextTickAt:  s.nextTickAt,
		LastError:   s.lastError,
		LastSummary: s.lastSummary,
		LastCleanup: s.lastCleanup,
		Settings:    settings,
	}, nil
}

// UpdateSettings validates and persists new scheduler settings. They take
// effect at the next tick.
func (s *Scheduler) UpdateSettings(ctx context.Context, settings models.RotationSettings) error {
	if settings.BeforeExpiryMinutes <= 0 {
		return fmt.Errorf("%w: beforeExpiryMinutes must be positive", services.ErrValidation)
	}
	if settings.CheckIntervalMinutes <= 0 {
		return fmt.Errorf("%w: checkIntervalMinutes must be positive", services.ErrValidation)
	}
	if err := s.settings.SaveRotationSettings(ctx, settings); err != nil {
		return fmt.Errorf("save rotation settings: %w", err)
	}
	log.Printf("rotation settings updated: enabled=%v beforeExpiry=%dm interval=%dm deleteExpired=%v",
		settings.Enabled, settings.BeforeExpiryMinutes, settings.CheckIntervalMinutes, settings.DeleteExpiredAccounts)
	return nil
}

// ForceCleanup runs the expired-account sweep on demand, outside the tick
// cycle.
func (s *Scheduler) ForceCleanup(ctx context.Context) (CleanupSummary, error) {
	summary, err := s.lifecycle.SweepExpired(ctx)
	if err == nil {
		s.mu.Lock()
		s.lastCleanup = &summary
		s.mu.Unlock()
	}
	return summary, err
}

// tick is one scheduled iteration: load settings, run if enabled and no run
// is already in flight.
func (s *Scheduler) tick(ctx context.Context) {
	settings, err := s.settings.LoadRotationSettings(ctx)
	if err != nil {
		log.Printf("rotation scheduler: failed to load settings: %v", err)
		s.recordError(err)
		telemetry.RotationRunsTotal.WithLabelValues("error").Inc()
		return
	}
	if !settings.Enabled {
		telemetry.RotationRunsTotal.WithLabelValues("disabled").Inc()
		return
	}

	if !s.runMu.TryLock() {
		log.Println("rotation scheduler: previous run still in progress, skipping tick")
		telemetry.RotationRunsTotal.WithLabelValues("skipped").Inc()
		return
	}
	defer s.runMu.Unlock()

	if _, err := s.runOnce(ctx, settings); err != nil {
		log.Printf("rotation scheduler: run failed: %v", err)
	}
}

// runOnce performs a complete rotation run: scan, queue, retire, sweep.
// Callers must hold runMu.
func (s *Scheduler) runOnce(ctx context.Context, settings models.RotationSettings) (*RunSummary, error) {
	started := s.now()
	s.setRunning(true)
	defer func() {
		s.setRunning(false)
		telemetry.RotationRunDuration.Observe(time.Since(started).Seconds())
	}()

	cutoff := started.Add(settings.BeforeExpiry())
	jobs, err := s.buildJobs(ctx, cutoff)
	if err != nil {
		s.recordError(err)
		telemetry.RotationRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	summary := s.queue.Run(ctx, jobs, cutoff)

	deleted, deactivated, err := s.lifecycle.RetireDrained(ctx, summary.AccountsFullyDrained)
	if err != nil {
		log.Printf("rotation scheduler: retiring drained accounts failed: %v", err)
	} else if deleted+deactivated > 0 {
		log.Printf("rotation scheduler: retired %d drained account(s) (%d deleted, %d deactivated)",
			deleted+deactivated, deleted, deactivated)
	}

	var cleanup *CleanupSummary
	if settings.DeleteExpiredAccounts {
		c, err := s.lifecycle.SweepExpired(ctx)
		if err != nil {
			log.Printf("rotation scheduler: expired-account sweep failed: %v", err)
		} else {
			cleanup = &c
		}
	}

	s.recordRun(started, summary, cleanup)
	telemetry.RotationRunsTotal.WithLabelValues("completed").Inc()
	log.Printf("rotation run complete: %d processed, %d transferred, %d failed, %d account(s) drained",
		summary.Processed, summary.Transferred, len(summary.Failed), len(summary.AccountsFullyDrained))
	return summary, nil
}

// buildJobs assembles the ordered job list for one run: keys on expiring
// accounts first (most urgent expiry first), then orphaned keys.
func (s *Scheduler) buildJobs(ctx context.Context, cutoff time.Time) ([]TransferJob, error) {
	var jobs []TransferJob

	expiring, err := s.accounts.FindExpiring(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("scan expiring accounts: %w", err)
	}
	for _, account := range expiring {
		assignments, err := s.assignments.ListActiveByAccount(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("list assignments of expiring account %s: %w", account.ID, err)
		}
		for _, a := range assignments {
			source := account.ID
			jobs = append(jobs, TransferJob{
				KeyID:           a.KeyID,
				KeyType:         a.KeyType,
				SourceAccountID: &source,
			})
		}
	}

	orphaned, err := s.keys.FindOrphaned(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan orphaned keys: %w", err)
	}
	for _, key := range orphaned {
		jobs = append(jobs, TransferJob{KeyID: key.ID, KeyType: key.Type})
	}

	if len(jobs) > 0 {
		log.Printf("rotation scheduler: queued %d job(s) (%d from expiring accounts, %d orphaned)",
			len(jobs), len(jobs)-len(orphaned), len(orphaned))
	}
	return jobs, nil
}

func (s *Scheduler) currentInterval(ctx context.Context) time.Duration {
	settings, err := s.settings.LoadRotationSettings(ctx)
	if err != nil {
		return models.DefaultRotationSettings().CheckInterval()
	}
	return settings.CheckInterval()
}

func (s *Scheduler) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *Scheduler) setNextTick(t time.Time) {
	s.mu.Lock()
	s.nextTickAt = &t
	s.mu.Unlock()
}

func (s *Scheduler) recordError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *Scheduler) recordRun(started time.Time, summary *RunSummary, cleanup *CleanupSummary) {
	s.mu.Lock()
	s.lastTickAt = &started
	s.lastSummary = summary
	if cleanup != nil {
		s.lastCleanup = cleanup
	}
	s.lastError = ""
	s.mu.Unlock()
}
