// Package models - audit_event.go defines the AuditEvent model recording key
// activations, transfers, and unassignments. The presence of audit history is
// what distinguishes an orphaned key from never-redeemed inventory, and what
// forces soft-deactivation instead of hard deletion of drained accounts.
package models

import "time"

// Audit actions recorded by the engine.
const (
	AuditActionAssign   = "key.assign"
	AuditActionUnassign = "key.unassign"
	AuditActionTransfer = "key.transfer"
)

// AuditEvent represents one append-only entry in the assignment audit log.
type AuditEvent struct {
	ID            string                 `json:"id"`
	KeyID         string                 `json:"keyId"`
	FromAccountID *string                `json:"fromAccountId,omitempty"` // nil for first assignment / orphan adoption
	ToAccountID   *string                `json:"toAccountId,omitempty"`   // nil for unassign
	Action        string                 `json:"action"`
	Actor         string                 `json:"actor"`    // admin username or "rotation"
	Metadata      map[string]interface{} `json:"metadata"` // JSONB: additional context
	CreatedAt     time.Time              `json:"createdAt"`
}
