package models

import "time"

// Assignment links one access account to one access key. At most one active
// assignment exists per (account, key) pair; inactive rows are history kept
// until the cleanup sweep purges them.
type Assignment struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"accountId"`
	KeyID      string    `json:"keyId"`
	AssignedAt time.Time `json:"assignedAt"`
	Active     bool      `json:"active"`
	// Joined fields (not stored in the assignments table)
	KeyType  KeyType `json:"keyType,omitempty"`  // joined from access_keys when listing
	KeyCode  string  `json:"keyCode,omitempty"`  // joined from access_keys when listing
	Username string  `json:"username,omitempty"` // joined from access_accounts when listing
}
