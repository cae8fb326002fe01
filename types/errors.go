package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned when an enqueue request is malformed
	ErrInvalidRequest = errors.New("invalid transaction request")
	// ErrNotFound is returned when a tx or failure record doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotCancellable is returned when cancelling a tx that already reached the network or a terminal status
	ErrNotCancellable = errors.New("transaction can not be cancelled")

	// ErrSigningDenied is returned by a signer when the signature was refused
	ErrSigningDenied = errors.New("signing denied")
	// ErrSigningUnavailable is returned by a signer that can't be reached
	ErrSigningUnavailable = errors.New("signer unavailable")
	// ErrSubmissionRejected is returned when the network refuses the signed tx
	ErrSubmissionRejected = errors.New("submission rejected")
	// ErrReverted is returned when the tx was mined with a failed status
	ErrReverted = errors.New("transaction reverted")
	// ErrDropped is returned when the tx disappeared from the network
	ErrDropped = errors.New("transaction dropped")
	// ErrTimedOut is returned when the tx was not confirmed within the confirmation timeout
	ErrTimedOut = errors.New("confirmation timed out")

	// ErrRecoveryUnavailable is returned when the failure has no recovery strategy
	ErrRecoveryUnavailable = errors.New("recovery not available")
	// ErrRecoveryInProgress is returned when another recovery of the same failure is running
	ErrRecoveryInProgress = errors.New("recovery already in progress")
	// ErrRetryLimitReached is returned when the failure was already retried the max number of times
	ErrRetryLimitReached = errors.New("retry limit reached")
)

var pipelineErrors = []error{
	ErrSigningDenied, ErrSigningUnavailable, ErrSubmissionRejected, ErrReverted, ErrDropped, ErrTimedOut,
}

// ErrorKind returns the message of the pipeline sentinel wrapped by err, or an empty string
func ErrorKind(err error) string {
	for _, e := range pipelineErrors {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return ""
}

// ErrorFromKind returns the pipeline sentinel error for the kind returned by ErrorKind
func ErrorFromKind(kind string) error {
	for _, e := range pipelineErrors {
		if e.Error() == kind {
			return e
		}
	}
	return nil
}

// RevertError is returned for a tx mined with a failed receipt status
type RevertError struct {
	GasUsed  uint64
	GasLimit uint64
}

func (e *RevertError) Error() string {
	if e.GasLimit > 0 && e.GasUsed >= e.GasLimit {
		return fmt.Sprintf("%s: out of gas (used %d of %d)", ErrReverted.Error(), e.GasUsed, e.GasLimit)
	}
	return fmt.Sprintf("%s: execution reverted (gas used %d)", ErrReverted.Error(), e.GasUsed)
}

// Unwrap returns ErrReverted
func (e *RevertError) Unwrap() error {
	return ErrReverted
}

// OutOfGas reports whether the tx consumed all the gas it was given
func (e *RevertError) OutOfGas() bool {
	return e.GasLimit > 0 && e.GasUsed >= e.GasLimit
}
