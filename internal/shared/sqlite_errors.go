// Package shared provides small cross-cutting helpers.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

// IsSQLiteConflict reports whether err is a SQLite concurrency failure:
// SQLITE_BUSY or "database is locked". The modernc driver surfaces both
// only through error text. A write hitting one usually succeeds on retry
// once the competing connection releases its lock.
func IsSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
