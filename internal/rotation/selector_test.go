package rotation

import (
	"context"
	"testing"
	"time"

	"github.com/keypanel/keypanel/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector_SameTypeTierBeatsEmptyTier(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeAccountStore{candidates: []*models.CandidateAccount{
		candidate("empty-new", base.Add(48*time.Hour), 0, ""),
		candidate("same-type-old", base, 1, models.KeyTypeTwoSlot),
	}}

	job := TransferJob{KeyID: "key-1", KeyType: models.KeyTypeTwoSlot}
	got, err := NewSelector(store).Candidates(context.Background(), job, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 2)

	// The older same-type account outranks the newer empty one.
	assert.Equal(t, "same-type-old", got[0].ID)
	assert.Equal(t, "empty-new", got[1].ID)
}

func TestSelector_NewerAccountsFirstWithinTier(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeAccountStore{candidates: []*models.CandidateAccount{
		candidate("b-old", base, 0, ""),
		candidate("a-new", base.Add(time.Hour), 0, ""),
		candidate("c-new", base.Add(time.Hour), 0, ""),
	}}

	job := TransferJob{KeyID: "key-1", KeyType: models.KeyTypeOneSlot}
	got, err := NewSelector(store).Candidates(context.Background(), job, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "a-new", got[0].ID) // same timestamp as c-new, lower id wins
	assert.Equal(t, "c-new", got[1].ID)
	assert.Equal(t, "b-old", got[2].ID)
}

func TestSelector_FiltersIncompatibleAccounts(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeAccountStore{candidates: []*models.CandidateAccount{
		candidate("wrong-type", base, 1, models.KeyTypeThreeSlot),
		candidate("full", base, 2, models.KeyTypeTwoSlot),
		candidate("has-room", base, 1, models.KeyTypeTwoSlot),
	}}

	job := TransferJob{KeyID: "key-1", KeyType: models.KeyTypeTwoSlot}
	got, err := NewSelector(store).Candidates(context.Background(), job, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "has-room", got[0].ID)
}

func TestSelector_NoCandidates(t *testing.T) {
	store := &fakeAccountStore{}
	job := TransferJob{KeyID: "key-1", KeyType: models.KeyTypeOneSlot}

	got, err := NewSelector(store).Candidates(context.Background(), job, time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSelector_PropagatesStoreError(t *testing.T) {
	store := &fakeAccountStore{candidatesErr: assert.AnError}
	job := TransferJob{KeyID: "key-1", KeyType: models.KeyTypeOneSlot}

	_, err := NewSelector(store).Candidates(context.Background(), job, time.Now())
	assert.Error(t, err)
}
