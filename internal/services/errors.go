// Package services implements the assignment ledger: the transactional
// business logic that decides which keys may attach to which accounts, built
// on top of the repositories. The rotation engine and the HTTP layer both go
// through this package for every ledger mutation.
package services

import (
	"errors"
	"fmt"
)

// Sentinel errors for assignment rule violations. Handlers map these onto
// HTTP status codes; the rotation engine surfaces them without retry.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrKeyNotTransferable  = errors.New("key is expired and cannot be assigned")
	ErrTypeMismatch        = errors.New("key type does not match account dominant type")
	ErrSlotFull            = errors.New("account has no free slot")
	ErrKeyCapacityExceeded = errors.New("key is already attached to its maximum number of accounts")
	ErrAlreadyAssigned     = errors.New("key is already assigned to this account")
)

// TransientStoreError marks an infrastructure failure (connection drop,
// serialization conflict) as retryable. The transfer executor retries these
// with bounded backoff; rule violations are never wrapped in it.
type TransientStoreError struct {
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientStoreError. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientStoreError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientStoreError
func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}
