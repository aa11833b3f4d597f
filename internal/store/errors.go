package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrorCode categorizes storage errors.
type ErrorCode string

const (
	// CodeNotInitialized indicates an operation on a store that was never
	// initialized or has been closed.
	CodeNotInitialized ErrorCode = "NOT_INITIALIZED"

	// CodeIOFailure indicates the database rejected or failed an operation.
	CodeIOFailure ErrorCode = "IO_FAILURE"
)

// StorageError is returned by every Store operation that fails for a reason
// other than a lookup miss.
type StorageError struct {
	Code ErrorCode
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("store: %s: %s", e.Op, e.Code)
}

// Unwrap returns the underlying driver error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotInitialized reports whether err is a NotInitialized StorageError.
// Uses errors.As to handle wrapped errors.
func IsNotInitialized(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code == CodeNotInitialized
	}
	return false
}

// IsIOFailure reports whether err is an IOFailure StorageError.
func IsIOFailure(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code == CodeIOFailure
	}
	return false
}

func notInitialized(op string) *StorageError {
	return &StorageError{Code: CodeNotInitialized, Op: op}
}

func ioFailure(op string, err error) *StorageError {
	return &StorageError{Code: CodeIOFailure, Op: op, Err: err}
}
