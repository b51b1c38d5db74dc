package rotation

import (
	"context"
	"sort"
	"time"

	"github.com/keypanel/keypanel/internal/compat"
	"github.com/keypanel/keypanel/internal/db/models"
)

// Selector ranks candidate destination accounts for a key awaiting
// relocation. The store performs the hard exclusions (inactive accounts,
// accounts expiring before the cutoff, the source account, accounts that ever
// held this key); the selector applies the attachment rules and the two-tier
// ranking in memory.
type Selector struct {
	accounts AccountStore
}

// NewSelector creates a Selector over the account store
func NewSelector(accounts AccountStore) *Selector {
	return &Selector{accounts: accounts}
}

// Candidates returns destination accounts for the key, best first:
// tier 1 — accounts already holding the same key type with a free slot,
// tier 2 — empty accounts that would adopt the key's type.
// Within a tier, newer accounts come first; ties break on id.
func (s *Selector) Candidates(ctx context.Context, job TransferJob, notExpiringBefore time.Time) ([]*models.CandidateAccount, error) {
	raw, err := s.accounts.FindCandidates(ctx, job.KeyID, job.SourceAccountID, notExpiringBefore)
	if err != nil {
		return nil, err
	}

	var sameType, empty []*models.CandidateAccount
	for _, c := range raw {
		occ := occupancyOf(c)
		if !compat.CanAttach(occ, job.KeyType) {
			continue
		}
		if occ.Empty() {
			empty = append(empty, c)
		} else {
			sameType = append(sameType, c)
		}
	}

	sortCandidates(sameType)
	sortCandidates(empty)
	return append(sameType, empty...), nil
}

func occupancyOf(c *models.CandidateAccount) compat.Occupancy {
	occ := compat.Occupancy{ActiveCount: c.ActiveCount}
	if c.DominantType != nil {
		occ.DominantType = *c.DominantType
	}
	return occ
}

func sortCandidates(cs []*models.CandidateAccount) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.After(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}
