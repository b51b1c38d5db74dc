package rotation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/keypanel/keypanel/internal/compat"
	"github.com/keypanel/keypanel/internal/db/models"
	"github.com/keypanel/keypanel/internal/db/repositories"
	"github.com/keypanel/keypanel/internal/services"
)

const (
	executorMaxAttempts = 3
	executorBackoff     = 500 * time.Millisecond
)

// Executor performs one key relocation as a single all-or-nothing operation:
// one database transaction under the ledger's per-key mutex. Any step failure
// rolls the whole transfer back, leaving the key where it was.
type Executor struct {
	db     *sql.DB
	ledger *services.Ledger
	sleep  func(time.Duration) // replaced in tests
}

// NewExecutor creates an Executor sharing the ledger's key locks
func NewExecutor(db *sql.DB, ledger *services.Ledger) *Executor {
	return &Executor{db: db, ledger: ledger, sleep: time.Sleep}
}

// Transfer moves the job's key onto the destination account. Transient store
// failures are retried with a short backoff; rule violations surface
// immediately.
func (e *Executor) Transfer(ctx context.Context, job TransferJob, destAccountID string) error {
	var err error
	for attempt := 1; attempt <= executorMaxAttempts; attempt++ {
		err = e.transferOnce(ctx, job, destAccountID)
		if err == nil || !services.IsTransient(err) {
			return err
		}
		if attempt < executorMaxAttempts {
			e.sleep(executorBackoff)
		}
	}
	return err
}

func (e *Executor) transferOnce(ctx context.Context, job TransferJob, destAccountID string) error {
	unlock := e.ledger.LockKey(job.KeyID)
	defer unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return services.Transient(err)
	}
	defer tx.Rollback()

	keys := repositories.NewKeyRepository(tx)
	accounts := repositories.NewAccountRepository(tx)
	assignments := repositories.NewAssignmentRepository(tx)
	audit := repositories.NewAuditRepository(tx)

	key, err := keys.GetByIDForUpdate(ctx, job.KeyID)
	if err != nil {
		return services.Transient(err)
	}
	if key == nil {
		return fmt.Errorf("%w: key %s", services.ErrNotFound, job.KeyID)
	}
	if key.Status == models.KeyStatusExpired {
		return fmt.Errorf("%w: key %s", services.ErrKeyNotTransferable, job.KeyID)
	}

	dest, err := accounts.GetByIDForUpdate(ctx, destAccountID)
	if err != nil {
		return services.Transient(err)
	}
	if dest == nil {
		return fmt.Errorf("%w: account %s", services.ErrNotFound, destAccountID)
	}
	if !dest.Active || dest.Expired(time.Now()) {
		return fmt.Errorf("%w: destination account %s is no longer assignable", services.ErrValidation, destAccountID)
	}

	// The selector vetted the destination outside the transaction; re-check
	// under the row lock in case an interleaved assignment claimed the slot.
	occ, err := assignments.AccountOccupancy(ctx, destAccountID)
	if err != nil {
		return services.Transient(err)
	}
	if !compat.CanAttach(occ, key.Type) {
		if !occ.Empty() && occ.DominantType != key.Type {
			return fmt.Errorf("%w: destination holds %s keys", services.ErrTypeMismatch, occ.DominantType)
		}
		return fmt.Errorf("%w: destination account %s", services.ErrSlotFull, destAccountID)
	}

	// A transfer clears all prior state for the key, then establishes exactly
	// one new attachment.
	if err := assignments.DeleteAllForKey(ctx, job.KeyID); err != nil {
		return services.Transient(err)
	}
	if _, err := assignments.Insert(ctx, destAccountID, job.KeyID); err != nil {
		return services.Transient(err)
	}
	if key.Status == models.KeyStatusWaiting {
		if err := keys.UpdateStatus(ctx, job.KeyID, models.KeyStatusActive); err != nil {
			return services.Transient(err)
		}
	}

	event := &models.AuditEvent{
		KeyID:         job.KeyID,
		FromAccountID: job.SourceAccountID,
		ToAccountID:   &destAccountID,
		Action:        models.AuditActionTransfer,
		Actor:         "rotation",
	}
	if err := audit.Append(ctx, event); err != nil {
		return services.Transient(err)
	}

	// Re-verify before committing: exactly one active assignment, pointing at
	// the destination.
	count, err := assignments.CountActiveForKey(ctx, job.KeyID)
	if err != nil {
		return services.Transient(err)
	}
	attached, err := assignments.HasActivePair(ctx, destAccountID, job.KeyID)
	if err != nil {
		return services.Transient(err)
	}
	if count != 1 || !attached {
		return fmt.Errorf("transfer verification failed for key %s: count=%d attached=%v", job.KeyID, count, attached)
	}

	if err := tx.Commit(); err != nil {
		return services.Transient(err)
	}
	e.ledger.Ship(event)
	return nil
}
