package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested charge does not exist.
	ErrNotFound = errors.New("charge not found")

	// ErrDuplicate is returned when inserting a txid that is already stored.
	ErrDuplicate = errors.New("charge already exists")
)

// StoreError reports a failed persistence operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("charge store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
