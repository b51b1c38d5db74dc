package rotation

import (
	"context"
	"sync"
	"time"

	"github.com/keypanel/keypanel/internal/db/models"
)

// In-memory fakes for the engine's outbound interfaces. Each test configures
// only the fields it needs.

type fakeAccountStore struct {
	accounts       map[string]*models.AccessAccount
	expiring       []*models.AccessAccount
	expiredBatches [][]*models.AccessAccount
	candidates     []*models.CandidateAccount
	candidatesErr  error
	deleted        []string
	deactivated    []string
}

func (f *fakeAccountStore) GetByID(_ context.Context, id string) (*models.AccessAccount, error) {
	return f.accounts[id], nil
}

func (f *fakeAccountStore) FindExpiring(_ context.Context, _ time.Time) ([]*models.AccessAccount, error) {
	return f.expiring, nil
}

func (f *fakeAccountStore) FindExpiredKeyless(_ context.Context, _ time.Time, _ int) ([]*models.AccessAccount, error) {
	if len(f.expiredBatches) == 0 {
		return nil, nil
	}
	batch := f.expiredBatches[0]
	f.expiredBatches = f.expiredBatches[1:]
	return batch, nil
}

func (f *fakeAccountStore) FindCandidates(_ context.Context, _ string, _ *string, _ time.Time) ([]*models.CandidateAccount, error) {
	return f.candidates, f.candidatesErr
}

func (f *fakeAccountStore) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAccountStore) Deactivate(_ context.Context, id string) error {
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeKeyStore struct {
	keys     map[string]*models.AccessKey
	orphaned []*models.AccessKey
}

func (f *fakeKeyStore) GetByID(_ context.Context, id string) (*models.AccessKey, error) {
	return f.keys[id], nil
}

func (f *fakeKeyStore) FindOrphaned(_ context.Context) ([]*models.AccessKey, error) {
	return f.orphaned, nil
}

type fakeAssignmentStore struct {
	byAccount map[string][]*models.Assignment
	purged    int64
}

func (f *fakeAssignmentStore) ListActiveByAccount(_ context.Context, accountID string) ([]*models.Assignment, error) {
	return f.byAccount[accountID], nil
}

func (f *fakeAssignmentStore) PurgeInactive(_ context.Context) (int64, error) {
	return f.purged, nil
}

type fakeAuditLog struct {
	referenced map[string]bool
}

func (f *fakeAuditLog) HasEventsForAccount(_ context.Context, accountID string) (bool, error) {
	return f.referenced[accountID], nil
}

type fakeSettingsStore struct {
	settings models.RotationSettings
	loadErr  error
	saved    *models.RotationSettings
}

func (f *fakeSettingsStore) LoadRotationSettings(_ context.Context) (models.RotationSettings, error) {
	return f.settings, f.loadErr
}

func (f *fakeSettingsStore) SaveRotationSettings(_ context.Context, s models.RotationSettings) error {
	f.saved = &s
	return nil
}

type fakeSelector struct {
	fn func(job TransferJob) ([]*models.CandidateAccount, error)
}

func (f *fakeSelector) Candidates(_ context.Context, job TransferJob, _ time.Time) ([]*models.CandidateAccount, error) {
	return f.fn(job)
}

type fakeExecutor struct {
	fn    func(job TransferJob, dest string) error
	calls []string // "keyID->destID" in call order
}

func (f *fakeExecutor) Transfer(_ context.Context, job TransferJob, dest string) error {
	f.calls = append(f.calls, job.KeyID+"->"+dest)
	if f.fn != nil {
		return f.fn(job, dest)
	}
	return nil
}

type fakeQueue struct {
	mu      sync.Mutex
	summary *RunSummary
	jobs    []TransferJob
	cutoff  time.Time
	runs    int
}

func (f *fakeQueue) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func (f *fakeQueue) Run(_ context.Context, jobs []TransferJob, cutoff time.Time) *RunSummary {
	f.mu.Lock()
	f.runs++
	f.jobs = jobs
	f.cutoff = cutoff
	f.mu.Unlock()
	if f.summary != nil {
		return f.summary
	}
	return &RunSummary{
		Processed:            len(jobs),
		Transferred:          len(jobs),
		Failed:               []FailedJob{},
		AccountsFullyDrained: []string{},
	}
}

// candidate builds a CandidateAccount for selector/queue tests.
func candidate(id string, createdAt time.Time, activeCount int, dominant models.KeyType) *models.CandidateAccount {
	c := &models.CandidateAccount{ActiveCount: activeCount}
	c.ID = id
	c.CreatedAt = createdAt
	c.Active = true
	c.ExpiresAt = createdAt.Add(720 * time.Hour)
	if activeCount > 0 {
		d := dominant
		c.DominantType = &d
	}
	return c
}

func strptr(s string) *string { return &s }
