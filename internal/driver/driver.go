// Package driver declares the connection contracts the session core depends on.
//
// A Conn is one physical connection lent by a Pool. Implementations serialize
// access to the wire with their own mutex, so a Conn may be used from several
// goroutines, and they return *dberr.Error for every failure: contention
// signals carry a dberr.Condition, anything else is KindDriver.
package driver

import (
	"context"
	"strings"
)

type Conn interface {
	// ID is stable for the lifetime of the physical connection.
	ID() string
	Exec(ctx context.Context, sql string, args ...any) (Result, error)
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	InTransaction() bool
	// Release rolls back an open transaction and returns the connection to its pool.
	// Calling it twice is a no-op.
	Release(ctx context.Context) error
}

type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Close(ctx context.Context) error
	Driver() string
}

// Result is the normalized outcome of one statement.
type Result struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowsAffected int64    `json:"rows_affected"`
	LastInsertID int64    `json:"last_insert_id,omitempty"`
	// Tag is the server's command tag when the backend reports one (e.g. "INSERT 0 1").
	Tag string `json:"tag,omitempty"`
}

// ReturnsRows guesses whether sql produces a result set. Backends that need to
// choose between a query and an exec call use it; pgx does not.
func ReturnsRows(sql string) bool {
	s := strings.TrimLeft(sql, " \t\r\n(")
	if i := strings.IndexAny(s, " \t\r\n("); i > 0 {
		s = s[:i]
	}
	switch strings.ToUpper(s) {
	case "SELECT", "WITH", "SHOW", "VALUES", "TABLE", "EXPLAIN", "DESCRIBE", "DESC", "PRAGMA":
		return true
	}
	return strings.Contains(strings.ToUpper(sql), " RETURNING ")
}
