// Package models - access_account.go defines the AccessAccount model for the
// shared upstream accounts that keys attach to.
package models

import "time"

// AccessAccount represents a shared-access account with an expiry and a slot
// capacity fixed by the type of the first key attached to it.
type AccessAccount struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	// CredentialEncrypted is the AES-GCM sealed account credential. The
	// plaintext never leaves the service layer except via an explicit reveal,
	// and the ciphertext is never serialized into API responses.
	CredentialEncrypted string    `json:"-"`
	ExpiresAt           time.Time `json:"expiresAt"`
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Expired reports whether the account is past its expiry at the given instant.
func (a *AccessAccount) Expired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}
