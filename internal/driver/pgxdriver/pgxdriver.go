// Package pgxdriver is the PostgreSQL backend, a thin layer over pgxpool.
package pgxdriver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sessiondb/internal/dberr"
	"sessiondb/internal/driver"
	"sessiondb/pkg/logger"
)

const (
	sqlStateDeadlock         = "40P01"
	sqlStateLockNotAvailable = "55P03"
)

type Options struct {
	DSN             string
	MaxConns        int32
	ApplicationName string
	// IdleInTxTimeout is sent as idle_in_transaction_session_timeout; 0 disables it.
	IdleInTxTimeout  time.Duration
	StatementTimeout time.Duration
	ConnectTimeout   time.Duration
}

// DSN builds a key/value connection string.
func DSN(host string, port int, database, user, password string) string {
	return fmt.Sprintf("host=%s port=%d database=%s user=%s password=%s", host, port, database, user, password)
}

type Pool struct {
	pool *pgxpool.Pool
}

var _ driver.Pool = (*Pool)(nil)

// New opens the pool and pings the server once.
func New(ctx context.Context, opts Options) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.ApplicationName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = opts.ApplicationName
	}
	if opts.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}
	dialer := &net.Dialer{
		KeepAlive: 30 * time.Second,
		Timeout:   30 * time.Second,
	}
	cfg.ConnConfig.DialFunc = dialer.DialContext
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return prepareSession(ctx, conn, opts)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to verify PostgreSQL connection (ping failed): %w", err)
	}
	return &Pool{pool: pool}, nil
}

func prepareSession(ctx context.Context, conn *pgx.Conn, opts Options) error {
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET idle_in_transaction_session_timeout = %d", opts.IdleInTxTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set session timeout: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", opts.StatementTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set statement timeout: %w", err)
	}
	return nil
}

func (p *Pool) Driver() string { return "postgres" }

func (p *Pool) Acquire(ctx context.Context) (driver.Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, translate("acquire", err)
	}
	id := strconv.FormatUint(uint64(c.Conn().PgConn().PID()), 10)
	logger.Debug("[PGX] acquired backend pid=%s", id)
	return &Conn{id: id, conn: c}, nil
}

func (p *Pool) Close(ctx context.Context) error {
	p.pool.Close()
	return nil
}

// Conn owns one pooled connection and, between Begin and Commit/Rollback, its transaction.
// Statements run on the transaction when one is open.
type Conn struct {
	id string

	mu       sync.Mutex
	conn     *pgxpool.Conn
	tx       pgx.Tx
	released bool
}

var _ driver.Conn = (*Conn)(nil)

func (c *Conn) ID() string { return c.id }

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return driver.Result{}, errReleased("exec")
	}

	var rows pgx.Rows
	var err error
	if c.tx != nil {
		rows, err = c.tx.Query(ctx, sql, args...)
	} else {
		rows, err = c.conn.Query(ctx, sql, args...)
	}
	if err != nil {
		return driver.Result{}, translate("exec", err)
	}
	defer rows.Close()

	var res driver.Result
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return driver.Result{}, translate("exec", err)
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return driver.Result{}, translate("exec", err)
	}
	tag := rows.CommandTag()
	res.RowsAffected = tag.RowsAffected()
	res.Tag = tag.String()
	return res, nil
}

func (c *Conn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return errReleased("begin")
	}
	if c.tx != nil {
		return dberr.Transaction(dberr.CodeTxAlreadyActive, "begin", "transaction already open on connection %s", c.id)
	}
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return translate("begin", err)
	}
	c.tx = tx
	return nil
}

func (c *Conn) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return errReleased("commit")
	}
	if c.tx == nil {
		return dberr.Transaction(dberr.CodeNoActiveTx, "commit", "no active transaction")
	}
	err := c.tx.Commit(ctx)
	c.tx = nil
	return translate("commit", err)
}

func (c *Conn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released || c.tx == nil {
		return nil
	}
	err := c.tx.Rollback(ctx)
	c.tx = nil
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return translate("rollback", err)
}

func (c *Conn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

// Release rolls back any open transaction and hands the connection back to the pool.
// pgxpool destroys a connection that is not idle on release.
func (c *Conn) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	var err error
	if c.tx != nil {
		err = c.tx.Rollback(ctx)
		c.tx = nil
		if errors.Is(err, pgx.ErrTxClosed) {
			err = nil
		}
	}
	c.conn.Release()
	c.conn = nil
	logger.Debug("[PGX] released backend pid=%s", c.id)
	return translate("release", err)
}

func errReleased(op string) *dberr.Error {
	return dberr.ConnNotInit(op, "connection already released")
}

// Condition maps a PostgreSQL error to a contention condition.
func Condition(err error) dberr.Condition {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return dberr.ConditionNone
	}
	switch pgErr.Code {
	case sqlStateDeadlock:
		return dberr.ConditionDeadlock
	case sqlStateLockNotAvailable:
		return dberr.ConditionLockWaitTimeout
	}
	return dberr.ConditionNone
}

func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	return dberr.Translate(op, err, Condition(err))
}
