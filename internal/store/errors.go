package store

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors returned by store repository methods.
var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("row already exists with identical payload")
	ErrConflict        = errors.New("row already exists with a different payload")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionUnknown  = errors.New("session unknown")
	ErrInvalidArgument = errors.New("invalid argument")
)

// IsUniqueViolation reports whether err represents a SQLite UNIQUE/PRIMARY KEY constraint violation.
func IsUniqueViolation(err error) bool {
	return sqliteErrCode(err) == sqlite3.SQLITE_CONSTRAINT_UNIQUE || sqliteErrCode(err) == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// IsBusy reports whether err represents a transient SQLITE_BUSY (writer contention) error, which callers
// may choose to retry.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	return sqliteErrCode(err) == sqlite3.SQLITE_BUSY || strings.Contains(err.Error(), "database is locked")
}

func sqliteErrCode(err error) int {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code()
	}
	return 0
}

// newID allocates a fresh opaque 128-bit identifier (§3).
func newID() uuid.UUID { return uuid.New() }
