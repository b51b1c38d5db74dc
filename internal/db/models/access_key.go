// Package models defines the database model types for the key panel.
// Each type corresponds to a database table. Models are pure data types —
// business logic belongs in the service layer, query logic belongs in the
// repositories layer.
package models

import "time"

// KeyType determines the slot capacity of any account the key attaches to.
type KeyType string

const (
	KeyTypeOneSlot   KeyType = "one_slot"
	KeyTypeTwoSlot   KeyType = "two_slot"
	KeyTypeThreeSlot KeyType = "three_slot"
)

// Valid reports whether t is one of the known key types.
func (t KeyType) Valid() bool {
	switch t {
	case KeyTypeOneSlot, KeyTypeTwoSlot, KeyTypeThreeSlot:
		return true
	}
	return false
}

// KeyStatus is the lifecycle state of an access key.
//
// Waiting: no active assignments. Active: at least one active assignment.
// Expired: terminal; set externally when the purchased period ends.
type KeyStatus string

const (
	KeyStatusWaiting KeyStatus = "waiting"
	KeyStatusActive  KeyStatus = "active"
	KeyStatusExpired KeyStatus = "expired"
)

// AccessKey represents a purchasable, time-boxed credential redeemable
// against one or more access accounts.
type AccessKey struct {
	ID   string  `json:"id"`
	Code string  `json:"code"` // the redeemable code sold to the customer
	Type KeyType `json:"type"`
	// AccountCapacity is the maximum number of distinct accounts this key
	// may be attached to at once.
	AccountCapacity int       `json:"accountCapacity"`
	Status          KeyStatus `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}
