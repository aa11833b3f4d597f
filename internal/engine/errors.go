package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeStorageFailure indicates the store failed while a scan was being
	// decided or recorded. The scan is not validated.
	CodeStorageFailure ErrorCode = "STORAGE_FAILURE"
)

// EngineError is returned by Validate when the scan could not be decided or
// recorded. Business rejections are Outcomes, never EngineErrors.
type EngineError struct {
	// Code identifies the error category.
	Code ErrorCode

	// TicketID is set when the failure happened after the ticket was found.
	TicketID string

	// Err is the underlying store error.
	Err error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.TicketID != "" {
		return fmt.Sprintf("engine: %s: ticket %s not validated: %v", e.Code, e.TicketID, e.Err)
	}
	return fmt.Sprintf("engine: %s: scan not validated: %v", e.Code, e.Err)
}

// Unwrap returns the underlying store error.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// IsStorageFailure returns true if the error is an EngineError caused by the
// store. Uses errors.As to handle wrapped errors.
func IsStorageFailure(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == CodeStorageFailure
	}
	return false
}

func storageFailure(ticketID string, err error) *EngineError {
	return &EngineError{Code: CodeStorageFailure, TicketID: ticketID, Err: err}
}
