package rotation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/keypanel/keypanel/internal/telemetry"
)

const (
	sweepBatchSize  = 10
	sweepBatchPause = time.Second
)

// CleanupSummary is the outcome of one expired-account sweep.
type CleanupSummary struct {
	Examined          int   `json:"examined"`
	Deleted           int   `json:"deleted"`
	Deactivated       int   `json:"deactivated"`
	PurgedAssignments int64 `json:"purgedAssignments"`
}

// Lifecycle retires accounts that no longer hold keys. Retirement is
// two-tier: an account never referenced by audit history is hard-deleted,
// anything with history is soft-deactivated so history rows stay resolvable.
type Lifecycle struct {
	accounts    AccountStore
	assignments AssignmentStore
	audit       AuditLog
	sleep       func(time.Duration) // replaced in tests
}

// NewLifecycle creates a Lifecycle manager
func NewLifecycle(accounts AccountStore, assignments AssignmentStore, audit AuditLog) *Lifecycle {
	return &Lifecycle{
		accounts:    accounts,
		assignments: assignments,
		audit:       audit,
		sleep:       time.Sleep,
	}
}

// RetireDrained retires the source accounts whose entire queued key set
// transferred in the last run. An account that picked up a new assignment
// since the run is left alone.
func (m *Lifecycle) RetireDrained(ctx context.Context, accountIDs []string) (deleted, deactivated int, err error) {
	for _, id := range accountIDs {
		active, err := m.assignments.ListActiveByAccount(ctx, id)
		if err != nil {
			return deleted, deactivated, fmt.Errorf("list assignments for account %s: %w", id, err)
		}
		if len(active) > 0 {
			continue
		}

		hard, err := m.retire(ctx, id)
		if err != nil {
			return deleted, deactivated, err
		}
		if hard {
			deleted++
		} else {
			deactivated++
		}
	}
	return deleted, deactivated, nil
}

// SweepExpired processes already-expired accounts holding zero active keys in
// small batches, pausing between batches, then purges inactive assignment rows
// left behind by earlier unassignments.
func (m *Lifecycle) SweepExpired(ctx context.Context) (CleanupSummary, error) {
	var summary CleanupSummary

	for {
		batch, err := m.accounts.FindExpiredKeyless(ctx, time.Now(), sweepBatchSize)
		if err != nil {
			return summary, fmt.Errorf("find expired accounts: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, account := range batch {
			summary.Examined++
			hard, err := m.retire(ctx, account.ID)
			if err != nil {
				return summary, err
			}
			if hard {
				summary.Deleted++
			} else {
				summary.Deactivated++
			}
		}

		if len(batch) < sweepBatchSize {
			break
		}
		m.sleep(sweepBatchPause)
	}

	purged, err := m.assignments.PurgeInactive(ctx)
	if err != nil {
		return summary, fmt.Errorf("purge inactive assignments: %w", err)
	}
	summary.PurgedAssignments = purged

	if summary.Examined > 0 || purged > 0 {
		log.Printf("account lifecycle: retired %d account(s) (%d deleted, %d deactivated), purged %d assignment row(s)",
			summary.Deleted+summary.Deactivated, summary.Deleted, summary.Deactivated, purged)
	}
	return summary, nil
}

// retire applies the hard-delete/soft-deactivate decision to one account and
// reports whether it was hard-deleted.
func (m *Lifecycle) retire(ctx context.Context, accountID string) (bool, error) {
	referenced, err := m.audit.HasEventsForAccount(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("check audit history for account %s: %w", accountID, err)
	}
	if referenced {
		if err := m.accounts.Deactivate(ctx, accountID); err != nil {
			return false, fmt.Errorf("deactivate account %s: %w", accountID, err)
		}
		telemetry.AccountsRetiredTotal.WithLabelValues("deactivated").Inc()
		return false, nil
	}
	if err := m.accounts.Delete(ctx, accountID); err != nil {
		return false, fmt.Errorf("delete account %s: %w", accountID, err)
	}
	telemetry.AccountsRetiredTotal.WithLabelValues("deleted").Inc()
	return true, nil
}
