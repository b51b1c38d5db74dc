// key_repository.go implements KeyRepository, providing database queries for
// access key lookup, status transitions, and the orphaned-key scan used by the
// rotation scheduler.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/keypanel/keypanel/internal/compat"
	"github.com/keypanel/keypanel/internal/db/models"
)

// KeyRepository handles access key database operations
type KeyRepository struct {
	db Querier
}

// NewKeyRepository creates a new KeyRepository
func NewKeyRepository(db Querier) *KeyRepository {
	return &KeyRepository{db: db}
}

const keyColumns = `id, code, key_type, account_capacity, status, created_at`

func scanKey(row interface {
	Scan(dest ...interface{}) error
}) (*models.AccessKey, error) {
	k := &models.AccessKey{}
	err := row.Scan(&k.ID, &k.Code, &k.Type, &k.AccountCapacity, &k.Status, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

// Create creates a new access key in Waiting status. The account capacity is
// derived from the key type, never supplied by the caller.
func (r *KeyRepository) Create(ctx context.Context, key *models.AccessKey) error {
	if !key.Type.Valid() {
		return fmt.Errorf("invalid key type: %q", key.Type)
	}
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	if key.Status == "" {
		key.Status = models.KeyStatusWaiting
	}
	key.AccountCapacity = compat.SlotCapacity(key.Type)
	key.CreatedAt = time.Now()

	query := `
		INSERT INTO access_keys (id, code, key_type, account_capacity, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		key.ID, key.Code, key.Type, key.AccountCapacity, key.Status, key.CreatedAt)
	return err
}

// GetByID retrieves an access key by ID
func (r *KeyRepository) GetByID(ctx context.Context, keyID string) (*models.AccessKey, error) {
	query := `SELECT ` + keyColumns + ` FROM access_keys WHERE id = $1`
	return scanKey(r.db.QueryRowContext(ctx, query, keyID))
}

// GetByIDForUpdate retrieves a key and takes a row lock. Must run inside a
// transaction; the lock serializes concurrent assignment writers on the key.
func (r *KeyRepository) GetByIDForUpdate(ctx context.Context, keyID string) (*models.AccessKey, error) {
	query := `SELECT ` + keyColumns + ` FROM access_keys WHERE id = $1 FOR UPDATE`
	return scanKey(r.db.QueryRowContext(ctx, query, keyID))
}

// List retrieves all access keys, newest first
func (r *KeyRepository) List(ctx context.Context) ([]*models.AccessKey, error) {
	query := `SELECT ` + keyColumns + ` FROM access_keys ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.AccessKey, 0)
	for rows.Next() {
		k := &models.AccessKey{}
		if err := rows.Scan(&k.ID, &k.Code, &k.Type, &k.AccountCapacity, &k.Status, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateStatus sets the status of a key
func (r *KeyRepository) UpdateStatus(ctx context.Context, keyID string, status models.KeyStatus) error {
	query := `UPDATE access_keys SET status = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, keyID, status)
	return err
}

// DemoteToWaiting returns an Active key to Waiting once its last assignment is
// gone. The status guard makes it a no-op for any other status: Expired is
// terminal and must never be resurrected by an unassign.
func (r *KeyRepository) DemoteToWaiting(ctx context.Context, keyID string) error {
	query := `UPDATE access_keys SET status = $2 WHERE id = $1 AND status = $3`
	_, err := r.db.ExecContext(ctx, query, keyID, models.KeyStatusWaiting, models.KeyStatusActive)
	return err
}

// Delete removes a key; assignments cascade
func (r *KeyRepository) Delete(ctx context.Context, keyID string) error {
	query := `DELETE FROM access_keys WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, keyID)
	return err
}

// FindOrphaned returns Waiting keys with zero active assignments that have at
// least one audit history entry. Keys that were never redeemed (no history)
// are pure inventory and must not be picked up by the rotation scan.
func (r *KeyRepository) FindOrphaned(ctx context.Context) ([]*models.AccessKey, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM access_keys k
		WHERE k.status = 'waiting'
		  AND NOT EXISTS (SELECT 1 FROM assignments s WHERE s.key_id = k.id AND s.active)
		  AND EXISTS (SELECT 1 FROM audit_events e WHERE e.key_id = k.id)
		ORDER BY k.created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.AccessKey, 0)
	for rows.Next() {
		k := &models.AccessKey{}
		if err := rows.Scan(&k.ID, &k.Code, &k.Type, &k.AccountCapacity, &k.Status, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
