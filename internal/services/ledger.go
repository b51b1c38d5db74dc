package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/keypanel/keypanel/internal/audit"
	"github.com/keypanel/keypanel/internal/compat"
	"github.com/keypanel/keypanel/internal/db/models"
	"github.com/keypanel/keypanel/internal/db/repositories"
	"github.com/keypanel/keypanel/internal/safego"
)

// Ledger is the authoritative writer for (account, key) assignments. Every
// mutation runs as a single transactional check-then-write under row locks
// plus in-process keyed mutexes, so capacity and type rules are enforced
// without a time-of-check/time-of-use window.
//
// Lock ordering is fixed everywhere: key mutex first, then account mutex.
type Ledger struct {
	db           *sql.DB
	keyLocks     *KeyedMutex
	accountLocks *KeyedMutex
	shipper      audit.Shipper // optional; nil means no external shipping
}

// NewLedger creates a Ledger on top of the database handle
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{
		db:           db,
		keyLocks:     NewKeyedMutex(),
		accountLocks: NewKeyedMutex(),
	}
}

// LockKey serializes external callers (the transfer executor) on a key id
// using the same mutex the ledger itself takes.
func (l *Ledger) LockKey(keyID string) func() {
	l.keyLocks.Lock(keyID)
	return func() { l.keyLocks.Unlock(keyID) }
}

// SetShipper installs an external audit destination. Must be called before the
// ledger handles traffic; shipping is asynchronous and best-effort.
func (l *Ledger) SetShipper(s audit.Shipper) {
	l.shipper = s
}

// Ship mirrors a committed audit event to the external destination, if one is
// configured. The database row is already durable at this point; a failed
// ship is logged and dropped.
func (l *Ledger) Ship(event *models.AuditEvent) {
	if l.shipper == nil {
		return
	}
	rec := audit.FromEvent(event)
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.shipper.Ship(ctx, rec); err != nil {
			slog.Warn("audit record not shipped", "action", rec.Action, "key_id", rec.KeyID, "error", err)
		}
	})
}

func validateID(field, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s is not a valid id", ErrValidation, field)
	}
	return nil
}

// CreateAssignment attaches a key to an account after checking, inside one
// transaction, the pair-uniqueness, dominant-type, account-slot, and
// key-capacity rules. On success a Waiting key becomes Active and an audit
// entry is appended.
func (l *Ledger) CreateAssignment(ctx context.Context, accountID, keyID, actor string) (*models.Assignment, error) {
	if err := validateID("accountId", accountID); err != nil {
		return nil, err
	}
	if err := validateID("keyId", keyID); err != nil {
		return nil, err
	}

	l.keyLocks.Lock(keyID)
	defer l.keyLocks.Unlock(keyID)
	l.accountLocks.Lock(accountID)
	defer l.accountLocks.Unlock(accountID)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Transient(err)
	}
	defer tx.Rollback()

	keys := repositories.NewKeyRepository(tx)
	accounts := repositories.NewAccountRepository(tx)
	assignments := repositories.NewAssignmentRepository(tx)
	auditLog := repositories.NewAuditRepository(tx)

	key, err := keys.GetByIDForUpdate(ctx, keyID)
	if err != nil {
		return nil, Transient(err)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: key %s", ErrNotFound, keyID)
	}
	if key.Status == models.KeyStatusExpired {
		return nil, fmt.Errorf("%w: key %s", ErrKeyNotTransferable, keyID)
	}

	account, err := accounts.GetByIDForUpdate(ctx, accountID)
	if err != nil {
		return nil, Transient(err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}
	if !account.Active {
		return nil, fmt.Errorf("%w: account %s is deactivated", ErrValidation, accountID)
	}

	already, err := assignments.HasActivePair(ctx, accountID, keyID)
	if err != nil {
		return nil, Transient(err)
	}
	if already {
		return nil, fmt.Errorf("%w: key %s on account %s", ErrAlreadyAssigned, keyID, accountID)
	}

	occ, err := assignments.AccountOccupancy(ctx, accountID)
	if err != nil {
		return nil, Transient(err)
	}
	if !compat.CanAttach(occ, key.Type) {
		if !occ.Empty() && occ.DominantType != key.Type {
			return nil, fmt.Errorf("%w: account holds %s keys, key is %s", ErrTypeMismatch, occ.DominantType, key.Type)
		}
		return nil, fmt.Errorf("%w: account %s has %d of %d slots used", ErrSlotFull, accountID, occ.ActiveCount, compat.SlotCapacity(key.Type))
	}

	keyCount, err := assignments.CountActiveForKey(ctx, keyID)
	if err != nil {
		return nil, Transient(err)
	}
	if keyCount >= key.AccountCapacity {
		return nil, fmt.Errorf("%w: key %s is on %d accounts", ErrKeyCapacityExceeded, keyID, keyCount)
	}

	assignment, err := assignments.Insert(ctx, accountID, keyID)
	if err != nil {
		return nil, Transient(err)
	}

	if key.Status == models.KeyStatusWaiting {
		if err := keys.UpdateStatus(ctx, keyID, models.KeyStatusActive); err != nil {
			return nil, Transient(err)
		}
	}

	event := &models.AuditEvent{
		KeyID:       keyID,
		ToAccountID: &accountID,
		Action:      models.AuditActionAssign,
		Actor:       actor,
	}
	if err := auditLog.Append(ctx, event); err != nil {
		return nil, Transient(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, Transient(err)
	}
	l.Ship(event)
	return assignment, nil
}

// RemoveAssignment detaches a key from an account. Idempotent: removing an
// absent pair reports false without error. When the key's last assignment is
// removed its status returns to Waiting.
func (l *Ledger) RemoveAssignment(ctx context.Context, accountID, keyID, actor string) (bool, error) {
	if err := validateID("accountId", accountID); err != nil {
		return false, err
	}
	if err := validateID("keyId", keyID); err != nil {
		return false, err
	}

	l.keyLocks.Lock(keyID)
	defer l.keyLocks.Unlock(keyID)
	l.accountLocks.Lock(accountID)
	defer l.accountLocks.Unlock(accountID)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, Transient(err)
	}
	defer tx.Rollback()

	keys := repositories.NewKeyRepository(tx)
	assignments := repositories.NewAssignmentRepository(tx)
	auditLog := repositories.NewAuditRepository(tx)

	removed, err := assignments.DeactivatePair(ctx, accountID, keyID)
	if err != nil {
		return false, Transient(err)
	}
	if !removed {
		return false, tx.Commit()
	}

	remaining, err := assignments.CountActiveForKey(ctx, keyID)
	if err != nil {
		return false, Transient(err)
	}
	if remaining == 0 {
		// Guarded: only an Active key drops back to Waiting. An externally
		// Expired key keeps its terminal status.
		if err := keys.DemoteToWaiting(ctx, keyID); err != nil {
			return false, Transient(err)
		}
	}

	event := &models.AuditEvent{
		KeyID:         keyID,
		FromAccountID: &accountID,
		Action:        models.AuditActionUnassign,
		Actor:         actor,
	}
	if err := auditLog.Append(ctx, event); err != nil {
		return false, Transient(err)
	}

	if err := tx.Commit(); err != nil {
		return false, Transient(err)
	}
	l.Ship(event)
	return true, nil
}

// ListActiveByAccount returns the active assignments of one account
func (l *Ledger) ListActiveByAccount(ctx context.Context, accountID string) ([]*models.Assignment, error) {
	if err := validateID("accountId", accountID); err != nil {
		return nil, err
	}
	return repositories.NewAssignmentRepository(l.db).ListActiveByAccount(ctx, accountID)
}

// ListActiveByKey returns the active assignments of one key
func (l *Ledger) ListActiveByKey(ctx context.Context, keyID string) ([]*models.Assignment, error) {
	if err := validateID("keyId", keyID); err != nil {
		return nil, err
	}
	return repositories.NewAssignmentRepository(l.db).ListActiveByKey(ctx, keyID)
}
