package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup matches no rows
var ErrNotFound = errors.New("not found")

// DBError represents a database operation error with context
type DBError struct {
	Operation string
	Err       error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("database error in %s: %v", e.Operation, e.Err)
}

func (e *DBError) Unwrap() error {
	return e.Err
}

// WrapDBError wraps err with the operation name. A nil err stays nil.
func WrapDBError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &DBError{Operation: operation, Err: err}
}
