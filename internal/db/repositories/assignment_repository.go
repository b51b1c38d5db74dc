// assignment_repository.go implements AssignmentRepository, the storage for
// the (account, key) attachment ledger. The partial unique index on active
// pairs is the database-level backstop for the single-active-pair invariant;
// the service layer enforces the capacity and type rules transactionally.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/keypanel/keypanel/internal/compat"
	"github.com/keypanel/keypanel/internal/db/models"
)

// AssignmentRepository handles assignment database operations
type AssignmentRepository struct {
	db Querier
}

// NewAssignmentRepository creates a new AssignmentRepository
func NewAssignmentRepository(db Querier) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Insert creates one active assignment row
func (r *AssignmentRepository) Insert(ctx context.Context, accountID, keyID string) (*models.Assignment, error) {
	a := &models.Assignment{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		KeyID:      keyID,
		AssignedAt: time.Now(),
		Active:     true,
	}

	query := `
		INSERT INTO assignments (id, account_id, key_id, assigned_at, active)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, a.ID, a.AccountID, a.KeyID, a.AssignedAt, a.Active)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// DeactivatePair soft-deactivates the active assignment for the pair and
// reports whether a row was actually deactivated. Calling it for an absent
// pair is not an error.
func (r *AssignmentRepository) DeactivatePair(ctx context.Context, accountID, keyID string) (bool, error) {
	query := `
		UPDATE assignments SET active = FALSE
		WHERE account_id = $1 AND key_id = $2 AND active
	`
	res, err := r.db.ExecContext(ctx, query, accountID, keyID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteAllForKey removes every assignment row for the key, active or not.
// A transfer clears all prior state for the key before establishing the new
// attachment, so stale inactive rows can never trip the pair-uniqueness index.
func (r *AssignmentRepository) DeleteAllForKey(ctx context.Context, keyID string) error {
	query := `DELETE FROM assignments WHERE key_id = $1`
	_, err := r.db.ExecContext(ctx, query, keyID)
	return err
}

// HasActivePair reports whether an active assignment exists for the pair
func (r *AssignmentRepository) HasActivePair(ctx context.Context, accountID, keyID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM assignments WHERE account_id = $1 AND key_id = $2 AND active)`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, accountID, keyID).Scan(&exists)
	return exists, err
}

// CountActiveForKey returns the number of distinct accounts the key is
// actively attached to
func (r *AssignmentRepository) CountActiveForKey(ctx context.Context, keyID string) (int, error) {
	query := `SELECT COUNT(*) FROM assignments WHERE key_id = $1 AND active`
	var n int
	err := r.db.QueryRowContext(ctx, query, keyID).Scan(&n)
	return n, err
}

// AccountOccupancy returns the active-assignment count and dominant key type
// for one account
func (r *AssignmentRepository) AccountOccupancy(ctx context.Context, accountID string) (compat.Occupancy, error) {
	query := `
		SELECT COUNT(s.id), COALESCE(MAX(k.key_type), '')
		FROM assignments s
		JOIN access_keys k ON k.id = s.key_id
		WHERE s.account_id = $1 AND s.active
	`
	var occ compat.Occupancy
	var dominant string
	if err := r.db.QueryRowContext(ctx, query, accountID).Scan(&occ.ActiveCount, &dominant); err != nil {
		return compat.Occupancy{}, err
	}
	occ.DominantType = models.KeyType(dominant)
	return occ, nil
}

const assignmentJoinColumns = `
	s.id, s.account_id, s.key_id, s.assigned_at, s.active,
	k.key_type, k.code, a.username
`

func collectAssignments(rows *sql.Rows) ([]*models.Assignment, error) {
	defer rows.Close()
	assignments := make([]*models.Assignment, 0)
	for rows.Next() {
		s := &models.Assignment{}
		err := rows.Scan(&s.ID, &s.AccountID, &s.KeyID, &s.AssignedAt, &s.Active,
			&s.KeyType, &s.KeyCode, &s.Username)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, s)
	}
	return assignments, rows.Err()
}

// ListActiveByAccount returns the active assignments of one account with key
// details joined
func (r *AssignmentRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]*models.Assignment, error) {
	query := `
		SELECT ` + assignmentJoinColumns + `
		FROM assignments s
		JOIN access_keys k ON k.id = s.key_id
		JOIN access_accounts a ON a.id = s.account_id
		WHERE s.account_id = $1 AND s.active
		ORDER BY s.assigned_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

// ListActiveByKey returns the active assignments of one key with account
// details joined
func (r *AssignmentRepository) ListActiveByKey(ctx context.Context, keyID string) ([]*models.Assignment, error) {
	query := `
		SELECT ` + assignmentJoinColumns + `
		FROM assignments s
		JOIN access_keys k ON k.id = s.key_id
		JOIN access_accounts a ON a.id = s.account_id
		WHERE s.key_id = $1 AND s.active
		ORDER BY s.assigned_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, keyID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

// PurgeInactive deletes inactive assignment rows left behind by unassignments
// and returns how many were removed
func (r *AssignmentRepository) PurgeInactive(ctx context.Context) (int64, error) {
	query := `DELETE FROM assignments WHERE NOT active`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
