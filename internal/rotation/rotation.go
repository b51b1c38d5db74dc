// Package rotation implements the key allocation and rotation engine: the
// scheduler that discovers keys sitting on expiring accounts or orphaned
// Waiting keys, the sequential queue that relocates them one at a time, the
// selector that ranks destination accounts, the executor that performs one
// atomic transfer, and the lifecycle manager that retires drained accounts.
//
// The engine talks to storage exclusively through the narrow interfaces below,
// implemented by the Postgres repositories. Only the transfer executor opens
// its own transactions; everything else is read-mostly.
package rotation

import (
	"context"
	"time"

	"github.com/keypanel/keypanel/internal/db/models"
)

// AccountStore is the engine's view of access account storage.
type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (*models.AccessAccount, error)
	FindExpiring(ctx context.Context, cutoff time.Time) ([]*models.AccessAccount, error)
	FindExpiredKeyless(ctx context.Context, now time.Time, limit int) ([]*models.AccessAccount, error)
	FindCandidates(ctx context.Context, keyID string, excludeAccountID *string, notExpiringBefore time.Time) ([]*models.CandidateAccount, error)
	Delete(ctx context.Context, accountID string) error
	Deactivate(ctx context.Context, accountID string) error
}

// KeyStore is the engine's view of access key storage.
type KeyStore interface {
	GetByID(ctx context.Context, keyID string) (*models.AccessKey, error)
	FindOrphaned(ctx context.Context) ([]*models.AccessKey, error)
}

// AssignmentStore is the engine's read/cleanup view of the assignment table.
// All assignment writes go through the ledger or the transfer executor.
type AssignmentStore interface {
	ListActiveByAccount(ctx context.Context, accountID string) ([]*models.Assignment, error)
	PurgeInactive(ctx context.Context) (int64, error)
}

// AuditLog is the engine's view of the append-only audit trail. History
// presence decides whether a drained account may be hard-deleted.
type AuditLog interface {
	HasEventsForAccount(ctx context.Context, accountID string) (bool, error)
}

// SettingsStore persists the scheduler's runtime settings.
type SettingsStore interface {
	LoadRotationSettings(ctx context.Context) (models.RotationSettings, error)
	SaveRotationSettings(ctx context.Context, settings models.RotationSettings) error
}

// TransferJob is one queued unit of work: a single key awaiting relocation.
// SourceAccountID is nil for orphaned keys that currently sit nowhere. A key
// attached to several accounts produces one job per (account, key) edge.
type TransferJob struct {
	KeyID           string         `json:"keyId"`
	KeyType         models.KeyType `json:"keyType"`
	SourceAccountID *string        `json:"sourceAccountId,omitempty"`
}

// FailedJob records one job that could not be completed in a run.
type FailedJob struct {
	KeyID           string  `json:"keyId"`
	SourceAccountID *string `json:"sourceAccountId,omitempty"`
	Reason          string  `json:"reason"`
}

// RunSummary is the outcome of one queue run.
type RunSummary struct {
	StartedAt            time.Time   `json:"startedAt"`
	FinishedAt           time.Time   `json:"finishedAt"`
	Processed            int         `json:"processed"`
	Transferred          int         `json:"transferred"`
	Failed               []FailedJob `json:"failed"`
	AccountsFullyDrained []string    `json:"accountsFullyDrained"`
}
