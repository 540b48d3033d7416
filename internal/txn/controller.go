// Package txn sequences begin, query, commit and rollback on the connection
// registered for a session.
//
// Init and Commit never roll back on failure; the caller is expected to call
// Rollback from its error path, which is always safe.
package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sessiondb/internal/dberr"
	"sessiondb/internal/query"
	"sessiondb/internal/session"
	"sessiondb/internal/telemetry"
	"sessiondb/pkg/logger"
)

// GenerateRefNo returns "<uuid>-<unix millis>".
func GenerateRefNo() string {
	return fmt.Sprintf("%s-%d", uuid.NewString(), time.Now().UnixMilli())
}

// Snapshot is the read-only view returned by Retrieve.
type Snapshot struct {
	ConnectionInitialized bool            `json:"connection_initialized"`
	ReferenceNo           string          `json:"reference_no,omitempty"`
	Timestamp             string          `json:"timestamp,omitempty"`
	TxState               session.TxState `json:"tx_state"`
}

// Controller is created per request and bound to one session.
type Controller struct {
	registry *session.Registry
	executor *query.Executor
	sc       session.SessionContext
	refNo    func() string
	now      func() time.Time
	hook     func(query.Statement)
}

type Option func(*Controller)

// WithRefNoGenerator replaces GenerateRefNo.
func WithRefNoGenerator(fn func() string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.refNo = fn
		}
	}
}

// WithStatementHook observes every statement the controller executes, after any
// OnStatement set by the caller.
func WithStatementHook(fn func(query.Statement)) Option {
	return func(c *Controller) {
		c.hook = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func NewController(registry *session.Registry, executor *query.Executor, sc session.SessionContext, opts ...Option) *Controller {
	c := &Controller{
		registry: registry,
		executor: executor,
		sc:       sc,
		refNo:    GenerateRefNo,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateRefNo uses the configured generator.
func (c *Controller) GenerateRefNo() string {
	return c.refNo()
}

// Init begins a transaction. It fails with TX_ALREADY_ACTIVE when one is open.
func (c *Controller) Init(ctx context.Context) (err error) {
	defer func() { telemetry.TransactionsTotal.With("begin", telemetry.Result(err)).Inc() }()

	rec, err := c.registry.Lookup(c.sc)
	if err != nil {
		return dberr.Wrap(dberr.CodeTransaction, "init", err)
	}
	if rec.TxState == session.TxActive {
		return dberr.Transaction(dberr.CodeTxAlreadyActive, "init", "transaction already active on connection %s", rec.ID)
	}
	if err := rec.Handle.Begin(ctx); err != nil {
		logger.Z().Warn().Err(err).Str("record", rec.ID).Msg("begin failed")
		return dberr.Wrap(dberr.CodeTransaction, "init", err)
	}
	return c.setState(session.TxActive, "init")
}

// Query runs req inside the active transaction and, on success, stamps the
// record with a reference number and timestamp.
func (c *Controller) Query(ctx context.Context, req query.Request, opts query.Options) (query.Outcome, error) {
	rec, err := c.registry.Lookup(c.sc)
	if err != nil {
		return query.Outcome{}, dberr.Wrap(dberr.CodeTransaction, "query", err)
	}
	if rec.TxState != session.TxActive {
		return query.Outcome{}, dberr.Transaction(dberr.CodeNoActiveTx, "query", "no active transaction")
	}
	if c.hook != nil {
		opts.OnStatement = chain(opts.OnStatement, c.hook)
	}
	out, err := c.executor.Execute(ctx, c.registry.Bind(c.sc, rec), req, opts)
	if err != nil {
		return query.Outcome{}, dberr.Wrap(dberr.CodeTransaction, "query", err)
	}

	refNo := opts.ReferenceNo
	if refNo == "" {
		refNo = c.refNo()
	}
	ts := c.now().UTC().Format(time.RFC3339Nano)
	if err := c.registry.Update(c.sc, session.RecordUpdate{ReferenceNo: &refNo, Timestamp: &ts}); err != nil {
		return query.Outcome{}, dberr.Wrap(dberr.CodeTransaction, "query", err)
	}
	return out, nil
}

// Commit commits the active transaction. ReferenceNo and Timestamp are kept.
func (c *Controller) Commit(ctx context.Context) (err error) {
	defer func() { telemetry.TransactionsTotal.With("commit", telemetry.Result(err)).Inc() }()

	rec, err := c.registry.Lookup(c.sc)
	if err != nil {
		return dberr.Wrap(dberr.CodeTransaction, "commit", err)
	}
	if rec.TxState != session.TxActive {
		return dberr.Transaction(dberr.CodeNoActiveTx, "commit", "no active transaction")
	}
	if err := rec.Handle.Commit(ctx); err != nil {
		logger.Z().Warn().Err(err).Str("record", rec.ID).Msg("commit failed")
		return dberr.Wrap(dberr.CodeTransaction, "commit", err)
	}
	return c.setState(session.TxCommitted, "commit")
}

// Rollback rolls back the active transaction. Without a registered connection
// or an active transaction it does nothing.
func (c *Controller) Rollback(ctx context.Context) error {
	rec, err := c.registry.Lookup(c.sc)
	if err != nil {
		if dberr.IsConnNotInit(err) {
			return nil
		}
		return dberr.Wrap(dberr.CodeTransaction, "rollback", err)
	}
	if rec.TxState != session.TxActive && !rec.Handle.InTransaction() {
		return nil
	}
	err = rec.Handle.Rollback(ctx)
	telemetry.TransactionsTotal.With("rollback", telemetry.Result(err)).Inc()
	if err != nil {
		return dberr.Wrap(dberr.CodeTransaction, "rollback", err)
	}
	return c.setState(session.TxRolledBack, "rollback")
}

// Retrieve reports the metadata of the last successful Query. It never changes the record.
func (c *Controller) Retrieve() Snapshot {
	rec, err := c.registry.Lookup(c.sc)
	if err != nil {
		return Snapshot{}
	}
	return Snapshot{
		ConnectionInitialized: true,
		ReferenceNo:           rec.ReferenceNo,
		Timestamp:             rec.Timestamp,
		TxState:               rec.TxState,
	}
}

func (c *Controller) setState(state session.TxState, op string) error {
	if err := c.registry.Update(c.sc, session.RecordUpdate{TxState: &state}); err != nil {
		return dberr.Wrap(dberr.CodeTransaction, op, err)
	}
	return nil
}

func chain(first, second func(query.Statement)) func(query.Statement) {
	if first == nil {
		return second
	}
	return func(s query.Statement) {
		first(s)
		second(s)
	}
}
