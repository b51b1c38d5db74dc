// audit_repository.go implements AuditRepository, providing database queries
// for writing and retrieving key activation/transfer audit events. Audit
// presence drives two engine decisions: whether a Waiting key is orphaned
// (versus never redeemed), and whether a drained account may be hard-deleted.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/keypanel/keypanel/internal/db/models"
)

// AuditRepository handles audit event database operations
type AuditRepository struct {
	db Querier
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db Querier) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit events
type AuditFilters struct {
	KeyID     *string
	AccountID *string // matches either side of a transfer
	Action    *string
	StartDate *time.Time
	EndDate   *time.Time
}

// Append writes a new audit event
func (r *AuditRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	event.ID = uuid.New().String()
	event.CreatedAt = time.Now()

	var metadataJSON []byte
	var err error
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO audit_events (id, key_id, from_account_id, to_account_id, action, actor, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.KeyID, event.FromAccountID, event.ToAccountID,
		event.Action, event.Actor, metadataJSON, event.CreatedAt)
	return err
}

// HasEventsForKey reports whether any audit event references the key
func (r *AuditRepository) HasEventsForKey(ctx context.Context, keyID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM audit_events WHERE key_id = $1)`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, keyID).Scan(&exists)
	return exists, err
}

// HasEventsForAccount reports whether any audit event references the account
// as source or destination
func (r *AuditRepository) HasEventsForAccount(ctx context.Context, accountID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM audit_events WHERE from_account_id = $1 OR to_account_id = $1)`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(&exists)
	return exists, err
}

// List retrieves audit events with optional filters and pagination
func (r *AuditRepository) List(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditEvent, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_events WHERE 1=1`
	query := `
		SELECT id, key_id, from_account_id, to_account_id, action, actor, metadata, created_at
		FROM audit_events
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.KeyID != nil {
		clause := fmt.Sprintf(` AND key_id = $%d`, paramIndex)
		countQuery += clause
		query += clause
		args = append(args, *filters.KeyID)
		paramIndex++
	}

	if filters.AccountID != nil {
		clause := fmt.Sprintf(` AND (from_account_id = $%d OR to_account_id = $%d)`, paramIndex, paramIndex)
		countQuery += clause
		query += clause
		args = append(args, *filters.AccountID)
		paramIndex++
	}

	if filters.Action != nil {
		clause := fmt.Sprintf(` AND action = $%d`, paramIndex)
		countQuery += clause
		query += clause
		args = append(args, *filters.Action)
		paramIndex++
	}

	if filters.StartDate != nil {
		clause := fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		countQuery += clause
		query += clause
		args = append(args, *filters.StartDate)
		paramIndex++
	}

	if filters.EndDate != nil {
		clause := fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		countQuery += clause
		query += clause
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		e := &models.AuditEvent{}
		var metadataJSON []byte
		err := rows.Scan(&e.ID, &e.KeyID, &e.FromAccountID, &e.ToAccountID,
			&e.Action, &e.Actor, &metadataJSON, &e.CreatedAt)
		if err != nil {
			return nil, 0, err
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, 0, err
			}
		}
		events = append(events, e)
	}

	return events, total, rows.Err()
}
