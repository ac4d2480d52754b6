package db

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors for lock contention reported by the backend
var (
	// ErrLockTimeout is matched when a lock request waited longer than the backend allows
	ErrLockTimeout = errors.New("lock wait timeout")

	// ErrDeadlock is matched when the backend chose this transaction as a deadlock victim
	ErrDeadlock = errors.New("deadlock detected")

	// ErrLockUnsupported is returned for FOR UPDATE and FOR SHARE reads on a
	// backend without row locks
	ErrLockUnsupported = errors.New("row locks are not supported by this backend")
)

// MySQL server error numbers
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrLockDeadlock    = 1213
)

// LockTimeoutError wraps the driver error of a timed-out lock request.
// Both ErrLockTimeout and the original driver error stay reachable.
type LockTimeoutError struct {
	Err error
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("%v: %v", ErrLockTimeout, e.Err)
}

func (e *LockTimeoutError) Unwrap() []error {
	return []error{ErrLockTimeout, e.Err}
}

// DeadlockError wraps the driver error of a deadlock victim
type DeadlockError struct {
	Err error
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDeadlock, e.Err)
}

func (e *DeadlockError) Unwrap() []error {
	return []error{ErrDeadlock, e.Err}
}

// IsLockTimeout checks if an error is a lock wait timeout
func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsDeadlock checks if an error is a deadlock
func IsDeadlock(err error) bool {
	return errors.Is(err, ErrDeadlock)
}

// IsLockUnsupported checks if an error is ErrLockUnsupported
func IsLockUnsupported(err error) bool {
	return errors.Is(err, ErrLockUnsupported)
}

// classify recognises lock contention in driver errors; everything else is
// returned unchanged
func classify(err error) error {
	if err == nil {
		return nil
	}
	var lockErr *LockTimeoutError
	var deadErr *DeadlockError
	if errors.As(err, &lockErr) || errors.As(err, &deadErr) {
		return err
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrLockWaitTimeout:
			return &LockTimeoutError{Err: err}
		case mysqlErrLockDeadlock:
			return &DeadlockError{Err: err}
		}
		return err
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// Extended result codes keep the primary code in the low byte
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return &LockTimeoutError{Err: err}
		}
	}
	return err
}
