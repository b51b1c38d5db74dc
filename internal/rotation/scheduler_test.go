package rotation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keypanel/keypanel/internal/db/models"
	"github.com/keypanel/keypanel/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(settings *fakeSettingsStore, accounts *fakeAccountStore, keys *fakeKeyStore, assignments *fakeAssignmentStore, queue QueueRunner) *Scheduler {
	lifecycle := newTestLifecycle(accounts, assignments, &fakeAuditLog{referenced: map[string]bool{}})
	return NewScheduler(settings, accounts, keys, assignments, queue, lifecycle)
}

func enabledSettings() *fakeSettingsStore {
	return &fakeSettingsStore{settings: models.DefaultRotationSettings()}
}

// ---------------------------------------------------------------------------
// Job building
// ---------------------------------------------------------------------------

func TestScheduler_BuildsJobsFromExpiringAccountsAndOrphans(t *testing.T) {
	accounts := &fakeAccountStore{expiring: []*models.AccessAccount{
		{ID: "src-1", ExpiresAt: time.Now().Add(time.Hour), Active: true},
	}}
	assignments := &fakeAssignmentStore{byAccount: map[string][]*models.Assignment{
		"src-1": {
			{ID: "asg-1", AccountID: "src-1", KeyID: "key-1", KeyType: models.KeyTypeOneSlot, Active: true},
			{ID: "asg-2", AccountID: "src-1", KeyID: "key-2", KeyType: models.KeyTypeOneSlot, Active: true},
		},
	}}
	keys := &fakeKeyStore{orphaned: []*models.AccessKey{
		{ID: "key-orphan", Type: models.KeyTypeTwoSlot, Status: models.KeyStatusWaiting},
	}}
	queue := &fakeQueue{}
	s := newTestScheduler(enabledSettings(), accounts, keys, assignments, queue)

	summary, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)

	require.Len(t, queue.jobs, 3)
	// Expiring-account jobs come before orphan jobs.
	assert.Equal(t, "key-1", queue.jobs[0].KeyID)
	require.NotNil(t, queue.jobs[0].SourceAccountID)
	assert.Equal(t, "src-1", *queue.jobs[0].SourceAccountID)
	assert.Equal(t, "key-orphan", queue.jobs[2].KeyID)
	assert.Nil(t, queue.jobs[2].SourceAccountID)
}

func TestScheduler_CutoffIsNowPlusBeforeExpiry(t *testing.T) {
	queue := &fakeQueue{}
	s := newTestScheduler(enabledSettings(), &fakeAccountStore{}, &fakeKeyStore{}, &fakeAssignmentStore{}, queue)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(300*time.Minute), queue.cutoff)
}

// ---------------------------------------------------------------------------
// Skip-if-running and status
// ---------------------------------------------------------------------------

func TestScheduler_TriggerNowWhileRunning(t *testing.T) {
	s := newTestScheduler(enabledSettings(), &fakeAccountStore{}, &fakeKeyStore{}, &fakeAssignmentStore{}, &fakeQueue{})

	s.runMu.Lock()
	defer s.runMu.Unlock()

	_, err := s.TriggerNow(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestScheduler_StatusReflectsLastRun(t *testing.T) {
	s := newTestScheduler(enabledSettings(), &fakeAccountStore{}, &fakeKeyStore{}, &fakeAssignmentStore{}, &fakeQueue{})

	_, err := s.TriggerNow(context.Background())
	require.NoError(t, err)

	status, err := s.GetStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.False(t, status.Running)
	require.NotNil(t, status.LastTickAt)
	require.NotNil(t, status.LastSummary)
	assert.Empty(t, status.LastError)
	assert.Equal(t, 300, status.Settings.BeforeExpiryMinutes)
}

func TestScheduler_StatusErrorWhenSettingsUnavailable(t *testing.T) {
	settings := &fakeSettingsStore{loadErr: errors.New("db down")}
	s := newTestScheduler(settings, &fakeAccountStore{}, &fakeKeyStore{}, &fakeAssignmentStore{}, &fakeQueue{})

	_, err := s.GetStatus(context.Background())
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// UpdateSettings
// ---------------------------------------------------------------------------

func TestScheduler_UpdateSettingsPersists(t *testing.T) {
	settings := enabledSettings()
	s := newTestScheduler(settings, &fakeAccountStore{}, &fakeKeyStore{}, &fakeAssignmentStore{}, &fakeQueue{})

	next := models.RotationSettings{
		Enabled:              false,
		BeforeExpiryMinutes:  120,
		CheckIntervalMinutes: 15,
	}
	require.NoError(t, s.UpdateSettings(context.Background(), next))
	require.NotNil(t, settings.saved)
	assert.Equal(t, 120, settings.saved.BeforeExpiryMinutes)
	assert.False(t, settings.saved.Enabled)
}

func TestScheduler_UpdateSettingsRejectsNonPositiveValues(t *testing.T) {
	s := newTestScheduler(enabledSettings(), &fakeAccountStore{}, &fakeKeyStore{}, &fakeAssignmentStore{}, &fakeQueue{})

	err := s.UpdateSettings(context.Background(), models.RotationSettings{BeforeExpiryMinutes: 0, CheckIntervalMinutes: 30})
	assert.ErrorIs(t, err, services.ErrValidation)

	err = s.UpdateSettings(context.Background(), models.RotationSettings{BeforeExpiryMinutes: 300, CheckIntervalMinutes: -1})
	assert.ErrorIs(t, err, services.ErrValidation)
}

// ---------------------------------------------------------------------------
// Drained-account retirement after a run
// ---------------------------------------------------------------------------

func TestScheduler_RetiresDrainedSourceAfterRun(t *testing.T) {
	// The queue reports src-1 fully drained; the account has no audit history
	// so the lifecycle manager hard-deletes it.
	accounts := &fakeAccountStore{}
	assignments := &fakeAssignmentStore{byAccount: map[string][]*models.Assignment{}}
	queue := &fakeQueue{summary: &RunSummary{
		Processed:            1,
		Transferred:          1,
		Failed:               []FailedJob{},
		AccountsFullyDrained: []string{"src-1"},
	}}
	s := newTestScheduler(enabledSettings(), accounts, &fakeKeyStore{}, assignments, queue)

	_, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"src-1"}, accounts.deleted)
}

// ---------------------------------------------------------------------------
// ForceCleanup
// ---------------------------------------------------------------------------

func TestScheduler_ForceCleanup(t *testing.T) {
	accounts := &fakeAccountStore{expiredBatches: [][]*models.AccessAccount{
		{expiredAccount("acct-old")},
	}}
	s := newTestScheduler(enabledSettings(), accounts, &fakeKeyStore{}, &fakeAssignmentStore{}, &fakeQueue{})

	summary, err := s.ForceCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Examined)
	assert.Equal(t, 1, summary.Deleted)

	status, err := s.GetStatus(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status.LastCleanup)
	assert.Equal(t, 1, status.LastCleanup.Examined)
}

// ---------------------------------------------------------------------------
// Start/Stop loop
// ---------------------------------------------------------------------------

func TestScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	queue := &fakeQueue{}
	s := newTestScheduler(enabledSettings(), &fakeAccountStore{}, &fakeKeyStore{}, &fakeAssignmentStore{}, queue)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return queue.Runs() >= 1 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_DisabledTickRunsNothing(t *testing.T) {
	settings := &fakeSettingsStore{settings: models.RotationSettings{
		Enabled:              false,
		BeforeExpiryMinutes:  300,
		CheckIntervalMinutes: 30,
	}}
	queue := &fakeQueue{}
	s := newTestScheduler(settings, &fakeAccountStore{}, &fakeKeyStore{}, &fakeAssignmentStore{}, queue)

	s.tick(context.Background())
	assert.Zero(t, queue.runs)
}
