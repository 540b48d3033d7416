package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"

	"sessiondb/internal/dberr"
)

// SQLite has no server-side connection id; handles are numbered per process.
var sqliteSeq atomic.Uint64

type SQLiteDialect struct{}

func (SQLiteDialect) DriverName() string { return "sqlite3" }

func (SQLiteDialect) ConnectionID(ctx context.Context, conn *sql.Conn) (string, error) {
	if err := conn.PingContext(ctx); err != nil {
		return "", err
	}
	return "sqlite-" + strconv.FormatUint(sqliteSeq.Add(1), 10), nil
}

// Condition treats SQLITE_LOCKED as a deadlock and SQLITE_BUSY as a lock wait timeout.
func (SQLiteDialect) Condition(err error) dberr.Condition {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return dberr.ConditionNone
	}
	switch sqlite3.ErrNo(int(sqliteErr.Code) & 0xff) {
	case sqlite3.ErrLocked:
		return dberr.ConditionDeadlock
	case sqlite3.ErrBusy:
		return dberr.ConditionLockWaitTimeout
	}
	return dberr.ConditionNone
}

// AbortsTransaction is false: SQLITE_BUSY and SQLITE_LOCKED fail the statement
// and leave the transaction open.
func (SQLiteDialect) AbortsTransaction(dberr.Condition) bool { return false }
