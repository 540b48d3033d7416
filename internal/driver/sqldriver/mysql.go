package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"sessiondb/internal/dberr"
)

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

type MySQLDialect struct{}

func (MySQLDialect) DriverName() string { return "mysql" }

func (MySQLDialect) ConnectionID(ctx context.Context, conn *sql.Conn) (string, error) {
	var id uint64
	if err := conn.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&id); err != nil {
		return "", err
	}
	return strconv.FormatUint(id, 10), nil
}

func (MySQLDialect) Condition(err error) dberr.Condition {
	var myErr *mysqldriver.MySQLError
	if !errors.As(err, &myErr) {
		return dberr.ConditionNone
	}
	switch myErr.Number {
	case mysqlErrDeadlock:
		return dberr.ConditionDeadlock
	case mysqlErrLockWaitTimeout:
		return dberr.ConditionLockWaitTimeout
	}
	return dberr.ConditionNone
}

// AbortsTransaction is true for deadlocks: InnoDB rolls back the whole
// transaction on 1213 but only the statement on a lock wait timeout.
func (MySQLDialect) AbortsTransaction(cond dberr.Condition) bool {
	return cond == dberr.ConditionDeadlock
}

// MySQLDSN builds a go-sql-driver DSN.
func MySQLDSN(host string, port int, database, user, password string, timeout time.Duration) string {
	if port <= 0 {
		port = 3306
	}
	cfg := mysqldriver.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.DBName = database
	cfg.AllowNativePasswords = true
	cfg.ParseTime = true
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return cfg.FormatDSN()
}
