// account_repository.go implements AccountRepository, providing database
// queries for access account CRUD, the expiring-account scan, the
// expired-keyless sweep, and destination candidate discovery for transfers.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/keypanel/keypanel/internal/db/models"
)

// AccountRepository handles access account database operations
type AccountRepository struct {
	db Querier
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db Querier) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, username, credential_encrypted, expires_at, active, created_at`

func scanAccount(row interface {
	Scan(dest ...interface{}) error
}) (*models.AccessAccount, error) {
	a := &models.AccessAccount{}
	err := row.Scan(&a.ID, &a.Username, &a.CredentialEncrypted, &a.ExpiresAt, &a.Active, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func collectAccounts(rows *sql.Rows) ([]*models.AccessAccount, error) {
	defer rows.Close()
	accounts := make([]*models.AccessAccount, 0)
	for rows.Next() {
		a := &models.AccessAccount{}
		if err := rows.Scan(&a.ID, &a.Username, &a.CredentialEncrypted, &a.ExpiresAt, &a.Active, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Create creates a new access account
func (r *AccountRepository) Create(ctx context.Context, account *models.AccessAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.Active = true
	account.CreatedAt = time.Now()

	query := `
		INSERT INTO access_accounts (id, username, credential_encrypted, expires_at, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		account.ID, account.Username, account.CredentialEncrypted,
		account.ExpiresAt, account.Active, account.CreatedAt)
	return err
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (*models.AccessAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM access_accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, accountID))
}

// GetByIDForUpdate retrieves an account and takes a row lock. Must run inside
// a transaction; the lock serializes concurrent slot claims on the account.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, accountID string) (*models.AccessAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM access_accounts WHERE id = $1 FOR UPDATE`
	return scanAccount(r.db.QueryRowContext(ctx, query, accountID))
}

// List retrieves all accounts, newest first
func (r *AccountRepository) List(ctx context.Context) ([]*models.AccessAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM access_accounts ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

// Delete hard-deletes an account; assignment rows cascade
func (r *AccountRepository) Delete(ctx context.Context, accountID string) error {
	query := `DELETE FROM access_accounts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, accountID)
	return err
}

// Deactivate soft-deactivates an account, preserving the row for audit
// history referential integrity
func (r *AccountRepository) Deactivate(ctx context.Context, accountID string) error {
	query := `UPDATE access_accounts SET active = FALSE WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, accountID)
	return err
}

// FindExpiring returns active accounts holding at least one active assignment
// whose expiry falls at or before the cutoff, most urgent first. These are the
// rotation sources for a scheduler tick.
func (r *AccountRepository) FindExpiring(ctx context.Context, cutoff time.Time) ([]*models.AccessAccount, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM access_accounts a
		WHERE a.active
		  AND a.expires_at <= $1
		  AND EXISTS (SELECT 1 FROM assignments s WHERE s.account_id = a.id AND s.active)
		ORDER BY a.expires_at ASC, a.id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

// FindExpiredKeyless returns up to limit active accounts that are already past
// expiry and hold no active assignments. Used by the cleanup sweep.
func (r *AccountRepository) FindExpiredKeyless(ctx context.Context, now time.Time, limit int) ([]*models.AccessAccount, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM access_accounts a
		WHERE a.active
		  AND a.expires_at < $1
		  AND NOT EXISTS (SELECT 1 FROM assignments s WHERE s.account_id = a.id AND s.active)
		ORDER BY a.expires_at ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

// FindCandidates returns every account that could conceivably host the given
// key, together with its current occupancy. Ranking and the CanAttach filter
// are applied in memory by the target selector; this query only performs the
// hard exclusions: inactive accounts, accounts expiring before the cutoff,
// the excluded source account, and accounts that ever held this exact key
// (active or not — a stale inactive row would violate pair uniqueness).
func (r *AccountRepository) FindCandidates(ctx context.Context, keyID string, excludeAccountID *string, notExpiringBefore time.Time) ([]*models.CandidateAccount, error) {
	query := `
		SELECT a.id, a.username, a.credential_encrypted, a.expires_at, a.active, a.created_at,
		       COUNT(s.id) FILTER (WHERE s.active) AS active_count,
		       MAX(k.key_type) FILTER (WHERE s.active) AS dominant_type
		FROM access_accounts a
		LEFT JOIN assignments s ON s.account_id = a.id
		LEFT JOIN access_keys k ON k.id = s.key_id
		WHERE a.active
		  AND a.expires_at > $1
		  AND ($2::uuid IS NULL OR a.id <> $2)
		  AND NOT EXISTS (SELECT 1 FROM assignments x WHERE x.account_id = a.id AND x.key_id = $3)
		GROUP BY a.id
		ORDER BY a.created_at DESC, a.id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, notExpiringBefore, excludeAccountID, keyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := make([]*models.CandidateAccount, 0)
	for rows.Next() {
		c := &models.CandidateAccount{}
		var dominant sql.NullString
		err := rows.Scan(&c.ID, &c.Username, &c.CredentialEncrypted, &c.ExpiresAt,
			&c.Active, &c.CreatedAt, &c.ActiveCount, &dominant)
		if err != nil {
			return nil, err
		}
		if dominant.Valid {
			t := models.KeyType(dominant.String)
			c.DominantType = &t
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
