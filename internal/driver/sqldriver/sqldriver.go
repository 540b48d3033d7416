// Package sqldriver implements driver.Pool over database/sql for MySQL and SQLite.
package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"sessiondb/internal/dberr"
	"sessiondb/internal/driver"
	"sessiondb/pkg/logger"
)

// Dialect encapsulates the engine-specific parts of a database/sql backend.
type Dialect interface {
	// DriverName is the database/sql driver name.
	DriverName() string
	// ConnectionID returns a server- or process-unique id for conn.
	ConnectionID(ctx context.Context, conn *sql.Conn) (string, error)
	// Condition maps a raw driver error to a contention condition.
	Condition(err error) dberr.Condition
	// AbortsTransaction reports whether the server rolls back the whole open
	// transaction when it reports cond, rather than only the failing statement.
	AbortsTransaction(cond dberr.Condition) bool
}

type Options struct {
	MaxConns       int
	ConnectTimeout time.Duration
}

type Pool struct {
	db      *sql.DB
	dialect Dialect
}

var _ driver.Pool = (*Pool)(nil)

// Open opens a database/sql pool for dialect and verifies connectivity.
func Open(ctx context.Context, dialect Dialect, dsn string, opts Options) (*Pool, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify %s connection (ping failed): %w", dialect.DriverName(), err)
	}
	return &Pool{db: db, dialect: dialect}, nil
}

func (p *Pool) Driver() string { return p.dialect.DriverName() }

func (p *Pool) Acquire(ctx context.Context) (driver.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, p.translate("acquire", err)
	}
	id, err := p.dialect.ConnectionID(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, p.translate("acquire", err)
	}
	logger.Debug("[SQL] acquired %s connection id=%s", p.dialect.DriverName(), id)
	return &Conn{id: id, conn: conn, dialect: p.dialect}, nil
}

func (p *Pool) Close(ctx context.Context) error {
	return p.translate("close", p.db.Close())
}

func (p *Pool) translate(op string, err error) error {
	return translate(p.dialect, op, err)
}

// Conn is one *sql.Conn pinned for a session. While a transaction is open every
// statement goes through the *sql.Tx.
//
// When the server rolls the transaction back on its own (a MySQL deadlock), the
// Conn stays aborted: statements and Commit fail with TX_ABORTED until Rollback,
// so nothing runs in autocommit while the caller still believes it is inside
// the transaction.
type Conn struct {
	id      string
	dialect Dialect

	mu       sync.Mutex
	conn     *sql.Conn
	tx       *sql.Tx
	aborted  bool
	released bool
}

var _ driver.Conn = (*Conn)(nil)

func (c *Conn) ID() string { return c.id }

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return driver.Result{}, dberr.ConnNotInit("exec", "connection already released")
	}
	if c.aborted {
		return driver.Result{}, errAborted("exec")
	}
	res, err := c.execLocked(ctx, query, args...)
	if err != nil {
		return driver.Result{}, c.execError(err)
	}
	return res, nil
}

func (c *Conn) execLocked(ctx context.Context, query string, args ...any) (driver.Result, error) {
	if driver.ReturnsRows(query) {
		var rows *sql.Rows
		var err error
		if c.tx != nil {
			rows, err = c.tx.QueryContext(ctx, query, args...)
		} else {
			rows, err = c.conn.QueryContext(ctx, query, args...)
		}
		if err != nil {
			return driver.Result{}, err
		}
		defer rows.Close()
		return scanRows(rows)
	}

	var out sql.Result
	var err error
	if c.tx != nil {
		out, err = c.tx.ExecContext(ctx, query, args...)
	} else {
		out, err = c.conn.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return driver.Result{}, err
	}
	var res driver.Result
	res.RowsAffected, _ = out.RowsAffected()
	res.LastInsertID, _ = out.LastInsertId()
	return res, nil
}

// execError translates a statement error. If the server discarded the open
// transaction the error is not retryable: re-running the statement would
// commit it on its own.
func (c *Conn) execError(err error) error {
	cond := c.dialect.Condition(err)
	if c.tx == nil || !c.dialect.AbortsTransaction(cond) {
		return translate(c.dialect, "exec", err)
	}
	// the server side is gone already; this only frees the *sql.Tx
	_ = c.tx.Rollback()
	c.tx = nil
	c.aborted = true
	logger.Warn("[SQL] %s connection id=%s: transaction rolled back by server (%s)", c.dialect.DriverName(), c.id, cond)
	return dberr.Transaction(dberr.CodeTxAborted, "exec", "transaction rolled back by the server after %s: %s", cond, err.Error())
}

func errAborted(op string) error {
	return dberr.Transaction(dberr.CodeTxAborted, op, "transaction was rolled back by the server; roll back before continuing")
}

func (c *Conn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return dberr.ConnNotInit("begin", "connection already released")
	}
	if c.aborted {
		return errAborted("begin")
	}
	if c.tx != nil {
		return dberr.Transaction(dberr.CodeTxAlreadyActive, "begin", "transaction already open on connection %s", c.id)
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return c.translate("begin", err)
	}
	c.tx = tx
	return nil
}

func (c *Conn) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return dberr.ConnNotInit("commit", "connection already released")
	}
	if c.aborted {
		return errAborted("commit")
	}
	if c.tx == nil {
		return dberr.Transaction(dberr.CodeNoActiveTx, "commit", "no active transaction")
	}
	err := c.tx.Commit()
	c.tx = nil
	return c.translate("commit", err)
}

func (c *Conn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = false
	if c.released || c.tx == nil {
		return nil
	}
	return c.rollbackLocked()
}

func (c *Conn) rollbackLocked() error {
	err := c.tx.Rollback()
	c.tx = nil
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return c.translate("rollback", err)
}

func (c *Conn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil || c.aborted
}

func (c *Conn) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	c.aborted = false
	var errs []error
	if c.tx != nil {
		errs = append(errs, c.rollbackLocked())
	}
	// Close on a *sql.Conn returns it to the pool.
	if err := c.conn.Close(); err != nil {
		errs = append(errs, c.translate("release", err))
	}
	logger.Debug("[SQL] released %s connection id=%s", c.dialect.DriverName(), c.id)
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) translate(op string, err error) error {
	return translate(c.dialect, op, err)
}

func translate(d Dialect, op string, err error) error {
	if err == nil {
		return nil
	}
	return dberr.Translate(op, err, d.Condition(err))
}
