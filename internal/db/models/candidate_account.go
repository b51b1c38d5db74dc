package models

// CandidateAccount is an access account annotated with its current occupancy,
// produced by the destination-candidate query and consumed by the target
// selector's in-memory ranking.
type CandidateAccount struct {
	AccessAccount
	ActiveCount  int
	DominantType *KeyType // nil when the account holds no active assignments
}
