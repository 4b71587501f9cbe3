package database

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by read operations when no row matches.
var ErrNotFound = errors.New("not found")

// RepositoryError wraps a storage failure (constraint violation, lost
// connection, lock contention). Callers keep whatever state they would need
// to retry the operation.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// Busy reports whether the failure was lock contention and likely to succeed
// on retry.
func (e *RepositoryError) Busy() bool {
	return IsBusyError(e.Err)
}

// IsRepositoryError reports whether err is (or wraps) a RepositoryError.
func IsRepositoryError(err error) bool {
	var re *RepositoryError
	return errors.As(err, &re)
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &RepositoryError{Op: op, Err: err}
}

// IsBusyError checks for SQLite's SQLITE_BUSY / "database is locked" errors.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		msg == "constraint failed"
}
