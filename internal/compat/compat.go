// Package compat implements the pure attachment-compatibility rules: the slot
// capacity of each key type and whether a key may attach to an account. It has
// no I/O; callers supply the account's current occupancy.
package compat

import "github.com/keypanel/keypanel/internal/db/models"

// SlotCapacity returns the number of simultaneous same-type keys an account
// may hold once its dominant type is t. Unknown types have zero capacity so a
// corrupt row can never be attached to.
func SlotCapacity(t models.KeyType) int {
	switch t {
	case models.KeyTypeOneSlot:
		return 1
	case models.KeyTypeTwoSlot:
		return 2
	case models.KeyTypeThreeSlot:
		return 3
	}
	return 0
}

// Occupancy describes the active-assignment state of one account. DominantType
// is meaningful only when ActiveCount > 0; an empty account has no dominant
// type and unconstrained future capacity.
type Occupancy struct {
	ActiveCount  int
	DominantType models.KeyType
}

// Empty reports whether the account holds no active assignments.
func (o Occupancy) Empty() bool { return o.ActiveCount == 0 }

// FreeSlots returns the remaining capacity of the account. An empty account
// reports the full capacity it would have if it adopted keyType.
func (o Occupancy) FreeSlots(keyType models.KeyType) int {
	if o.Empty() {
		return SlotCapacity(keyType)
	}
	if o.DominantType != keyType {
		return 0
	}
	return SlotCapacity(o.DominantType) - o.ActiveCount
}

// CanAttach reports whether a key of the given type may attach to an account
// with the given occupancy: the account is empty, or it already hosts the same
// type with a free slot.
func CanAttach(o Occupancy, keyType models.KeyType) bool {
	if !keyType.Valid() {
		return false
	}
	if o.Empty() {
		return true
	}
	return o.DominantType == keyType && o.ActiveCount < SlotCapacity(keyType)
}
