package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is wrapped by every caller-input error.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidAmount is returned when the amount is not positive, has more
	// than two decimal places, or exceeds the storable maximum.
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)

	// ErrDescriptionTooLong is returned when the payer note exceeds 140 characters.
	ErrDescriptionTooLong = fmt.Errorf("%w: description too long", ErrValidation)

	// ErrInvalidDescription is returned when the payer note holds a NUL byte.
	ErrInvalidDescription = fmt.Errorf("%w: invalid description", ErrValidation)

	// ErrInvalidContact is returned when the payer contact is longer than 64
	// characters or holds a NUL byte.
	ErrInvalidContact = fmt.Errorf("%w: invalid payer contact", ErrValidation)

	// ErrInvalidTxID is returned when a txid is not 26-35 alphanumeric characters.
	ErrInvalidTxID = fmt.Errorf("%w: invalid txid", ErrValidation)

	// ErrMalformedPayload is returned when a webhook body carries no usable txid.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrUnknownCharge is returned when a webhook refers to a txid we never issued.
	ErrUnknownCharge = errors.New("unknown charge")

	errUnexpectedUpstreamStatus = errors.New("unexpected upstream status")
)

// ReconciliationError reports that the gateway could not confirm a webhook's
// claim. The delivery should be rejected so the gateway retries it.
type ReconciliationError struct {
	TxID string
	Err  error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile charge %s: %v", e.TxID, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// InconsistencyError reports a charge that the gateway accepted but that
// could not be stored locally. It needs manual reconciliation.
type InconsistencyError struct {
	TxID string
	Err  error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("charge %s exists upstream but was not stored: %v", e.TxID, e.Err)
}

func (e *InconsistencyError) Unwrap() error {
	return e.Err
}
