package services

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownWebsite means the script key is missing or matches no website.
	ErrUnknownWebsite = errors.New("unknown website key")

	// ErrInvalidRequest marks payloads the pipeline cannot act on.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrOriginRejected is only returned when strict origin checking is on.
	ErrOriginRejected = errors.New("origin does not match website domain")
)

// StoreError wraps a backing-store failure. Callers see a generic failure;
// the wrapped error is for logs only.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
