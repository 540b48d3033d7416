// Package database is the service boundary: it owns the pool, the connection
// registry and the query executor, and exposes the per-session operations.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sessiondb/internal/config"
	"sessiondb/internal/dberr"
	"sessiondb/internal/driver"
	"sessiondb/internal/driver/pgxdriver"
	"sessiondb/internal/driver/sqldriver"
	"sessiondb/internal/query"
	"sessiondb/internal/retry"
	"sessiondb/internal/session"
	"sessiondb/internal/txn"
	"sessiondb/pkg/logger"
)

type DB struct {
	pool     driver.Pool
	registry *session.Registry
	executor *query.Executor
	txnOpts  []txn.Option
}

type Option func(*DB)

func WithRegistry(r *session.Registry) Option {
	return func(db *DB) {
		if r != nil {
			db.registry = r
		}
	}
}

func WithExecutor(e *query.Executor) Option {
	return func(db *DB) {
		if e != nil {
			db.executor = e
		}
	}
}

// WithTransactionOptions is applied to every controller returned by BeginTransaction.
func WithTransactionOptions(opts ...txn.Option) Option {
	return func(db *DB) {
		db.txnOpts = append(db.txnOpts, opts...)
	}
}

// New wraps an already open pool.
func New(pool driver.Pool, opts ...Option) *DB {
	db := &DB{pool: pool}
	for _, opt := range opts {
		opt(db)
	}
	if db.registry == nil {
		db.registry = session.NewRegistry()
	}
	if db.executor == nil {
		db.executor = query.NewExecutor()
	}
	return db
}

// Open connects the pool selected by cfg.Database.Driver. Any setup failure is
// a DATABASE_INIT_ERROR.
func Open(ctx context.Context, cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open %s pool: %v", cfg.Database.Driver, err)
		return nil, dberr.DatabaseInit("open", err)
	}
	logger.Info("Connected to %s backend (max_conns=%d)", pool.Driver(), cfg.Database.MaxConns)

	registry := session.NewRegistry(session.WithEvictionWindow(cfg.Session.EvictionWindow.Duration))
	executor := query.NewExecutor(
		query.WithMaxRetries(cfg.Retry.MaxRetries),
		query.WithRetryOptions(
			retry.WithBaseDelay(cfg.Retry.BaseDelay.Duration),
			retry.WithMaxBackoff(cfg.Retry.MaxBackoff.Duration),
		),
	)
	return New(pool, WithRegistry(registry), WithExecutor(executor)), nil
}

// pgxOptions maps the database and session sections onto the pgx pool settings.
func pgxOptions(cfg *config.Config) pgxdriver.Options {
	c := cfg.Database
	dsn := c.DSN
	if dsn == "" {
		dsn = pgxdriver.DSN(c.Host, c.Port, c.Name, c.User, c.Password)
	}
	return pgxdriver.Options{
		DSN:              dsn,
		MaxConns:         int32(c.MaxConns),
		ApplicationName:  c.ApplicationName,
		IdleInTxTimeout:  cfg.IdleInTxTimeout(),
		StatementTimeout: c.StatementTimeout.Duration,
		ConnectTimeout:   c.ConnectTimeout.Duration,
	}
}

func openPool(ctx context.Context, cfg *config.Config) (driver.Pool, error) {
	c := cfg.Database
	switch strings.ToLower(c.Driver) {
	case "postgres", "postgresql", "pgx":
		return pgxdriver.New(ctx, pgxOptions(cfg))
	case "mysql":
		dsn := c.DSN
		if dsn == "" {
			dsn = sqldriver.MySQLDSN(c.Host, c.Port, c.Name, c.User, c.Password, c.ConnectTimeout.Duration)
		}
		return sqldriver.Open(ctx, sqldriver.MySQLDialect{}, dsn, sqldriver.Options{MaxConns: c.MaxConns, ConnectTimeout: c.ConnectTimeout.Duration})
	case "sqlite", "sqlite3":
		dsn := c.DSN
		if dsn == "" {
			dsn = c.Name
		}
		if dsn == "" {
			return nil, errors.New("sqlite3 requires database.dsn or database.name")
		}
		return sqldriver.Open(ctx, sqldriver.SQLiteDialect{}, dsn, sqldriver.Options{MaxConns: c.MaxConns, ConnectTimeout: c.ConnectTimeout.Duration})
	default:
		return nil, fmt.Errorf("database driver %q is not supported", c.Driver)
	}
}

func (db *DB) Driver() string { return db.pool.Driver() }

func (db *DB) Registry() *session.Registry { return db.registry }

// AcquireConnection takes a connection from the pool and registers it for sc,
// replacing any connection the session already holds.
func (db *DB) AcquireConnection(ctx context.Context, sc session.SessionContext) error {
	if sc.Store == nil {
		return dberr.Wrap(dberr.CodeDB, "acquire", dberr.ConnNotInit("acquire", "session store not initialized"))
	}
	handle, err := db.pool.Acquire(ctx)
	if err != nil {
		return dberr.Wrap(dberr.CodeDB, "acquire", err)
	}
	if _, err := db.registry.Register(ctx, sc, handle); err != nil {
		if relErr := handle.Release(ctx); relErr != nil {
			logger.Warn("[%s] failed to return connection after registration error: %v", handle.ID(), relErr)
		}
		return dberr.Wrap(dberr.CodeDB, "acquire", err)
	}
	logger.Debug("[%s] connection acquired for session %s", handle.ID(), sc.ID)
	return nil
}

// Query runs req on the session's connection outside transaction bookkeeping.
func (db *DB) Query(ctx context.Context, sc session.SessionContext, req query.Request, opts query.Options) (query.Outcome, error) {
	if err := query.Validate(req); err != nil {
		return query.Outcome{}, err
	}
	rec, err := db.registry.Lookup(sc)
	if err != nil {
		return query.Outcome{}, dberr.Wrap(dberr.CodeDB, "query", err)
	}
	opts.OnStatement = db.withHistory(sc, opts.OnStatement)
	return db.executor.Execute(ctx, db.registry.Bind(sc, rec), req, opts)
}

// BeginTransaction returns a controller bound to the session's connection. It
// does not begin anything; call Init.
func (db *DB) BeginTransaction(sc session.SessionContext) (*txn.Controller, error) {
	if _, err := db.registry.Lookup(sc); err != nil {
		return nil, dberr.Wrap(dberr.CodeDB, "begin_transaction", err)
	}
	opts := append([]txn.Option{txn.WithStatementHook(db.withHistory(sc, nil))}, db.txnOpts...)
	return txn.NewController(db.registry, db.executor, sc, opts...), nil
}

// ReleaseConnection returns the session's connection to the pool. A session
// with nothing registered is already released.
func (db *DB) ReleaseConnection(ctx context.Context, sc session.SessionContext) error {
	err := db.registry.Release(ctx, sc)
	if err == nil || dberr.IsConnNotInit(err) {
		return nil
	}
	return dberr.Wrap(dberr.CodeDB, "release", err)
}

// TerminatePool releases every registered connection and closes the pool.
func (db *DB) TerminatePool(ctx context.Context) error {
	logger.Info("Terminating %s pool (%d registered connections)", db.pool.Driver(), db.registry.Len())
	err := errors.Join(db.registry.Close(ctx), db.pool.Close(ctx))
	return dberr.Wrap(dberr.CodeDB, "terminate", err)
}

func (db *DB) Sessions() []session.Info {
	return db.registry.Sessions()
}

// CloseSession forcibly releases a registered connection by record id.
func (db *DB) CloseSession(ctx context.Context, recordID string) error {
	return dberr.Wrap(dberr.CodeDB, "close_session", db.registry.Evict(ctx, recordID))
}

func (db *DB) ClearHistory(recordID string) error {
	return dberr.Wrap(dberr.CodeDB, "clear_history", db.registry.ClearHistory(recordID))
}

// withHistory appends every executed statement to the session's record history.
func (db *DB) withHistory(sc session.SessionContext, next func(query.Statement)) func(query.Statement) {
	return func(s query.Statement) {
		if next != nil {
			next(s)
		}
		entry := session.NewHistoryEntry(s.SQL, s.Args, s.At, s.Elapsed, s.Err)
		if err := db.registry.Update(sc, session.RecordUpdate{History: &entry}); err != nil {
			logger.Debug("query history not recorded for session %s: %v", sc.ID, err)
		}
	}
}

// pingTimeout bounds Ping.
const pingTimeout = 5 * time.Second

// Ping borrows a connection and runs a trivial statement.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	handle, err := db.pool.Acquire(ctx)
	if err != nil {
		return dberr.Wrap(dberr.CodeDB, "ping", err)
	}
	defer handle.Release(context.Background())
	if _, err := handle.Exec(ctx, "SELECT 1"); err != nil {
		return dberr.Wrap(dberr.CodeDB, "ping", err)
	}
	return nil
}
