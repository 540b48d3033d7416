package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"sessiondb/internal/dberr"
	"sessiondb/internal/driver"
)

// Call is one recorded method call on a FakeConn.
type Call struct {
	Op   string
	SQL  string
	Args []any
}

// ExecFunc scripts the result of FakeConn.Exec. attempt counts calls for the same SQL, from 1.
type ExecFunc func(ctx context.Context, sql string, args []any, attempt int) (driver.Result, error)

// FakeConn is a scripted driver.Conn that records every call.
// Without an ExecFunc, Exec echoes the statement back as a one-row result.
type FakeConn struct {
	id string

	// wire serializes Exec like a real connection does
	wire sync.Mutex

	mu          sync.Mutex
	calls       []Call
	attempts    map[string]int
	inTx        bool
	released    bool
	execFn      ExecFunc
	beginErr    error
	commitErr   error
	rollbackErr error
}

var _ driver.Conn = (*FakeConn)(nil)

func NewFakeConn(id string) *FakeConn {
	return &FakeConn{id: id, attempts: make(map[string]int)}
}

func (c *FakeConn) OnExec(fn ExecFunc) *FakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execFn = fn
	return c
}

func (c *FakeConn) FailBegin(err error) *FakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginErr = err
	return c
}

func (c *FakeConn) FailCommit(err error) *FakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitErr = err
	return c
}

func (c *FakeConn) FailRollback(err error) *FakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbackErr = err
	return c
}

func (c *FakeConn) ID() string { return c.id }

func (c *FakeConn) record(call Call) {
	c.calls = append(c.calls, call)
}

func (c *FakeConn) Exec(ctx context.Context, sql string, args ...any) (driver.Result, error) {
	c.wire.Lock()
	defer c.wire.Unlock()

	c.mu.Lock()
	c.record(Call{Op: "exec", SQL: sql, Args: args})
	c.attempts[sql]++
	attempt := c.attempts[sql]
	fn := c.execFn
	released := c.released
	c.mu.Unlock()

	if released {
		return driver.Result{}, dberr.ConnNotInit("exec", "connection already released")
	}
	if fn != nil {
		return fn(ctx, sql, args, attempt)
	}
	return EchoResult(sql), nil
}

func (c *FakeConn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Call{Op: "begin"})
	if c.beginErr != nil {
		return translated("begin", c.beginErr)
	}
	if c.inTx {
		return dberr.Transaction(dberr.CodeTxAlreadyActive, "begin", "transaction already open")
	}
	c.inTx = true
	return nil
}

func (c *FakeConn) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Call{Op: "commit"})
	if !c.inTx {
		return dberr.Transaction(dberr.CodeNoActiveTx, "commit", "no active transaction")
	}
	if c.commitErr != nil {
		return translated("commit", c.commitErr)
	}
	c.inTx = false
	return nil
}

func (c *FakeConn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Call{Op: "rollback"})
	if c.rollbackErr != nil {
		return translated("rollback", c.rollbackErr)
	}
	c.inTx = false
	return nil
}

func (c *FakeConn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTx
}

func (c *FakeConn) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Call{Op: "release"})
	c.released = true
	c.inTx = false
	return nil
}

// Calls returns a copy of every recorded call, in order.
func (c *FakeConn) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// Ops returns the recorded operation names, e.g. ["begin", "exec", "commit"].
func (c *FakeConn) Ops() []string {
	calls := c.Calls()
	out := make([]string, len(calls))
	for i, call := range calls {
		out[i] = call.Op
	}
	return out
}

// ExecSQL returns the SQL of every recorded exec, in order.
func (c *FakeConn) ExecSQL() []string {
	var out []string
	for _, call := range c.Calls() {
		if call.Op == "exec" {
			out = append(out, call.SQL)
		}
	}
	return out
}

func (c *FakeConn) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// EchoResult is the default FakeConn result: one column "sql" holding the statement.
func EchoResult(sql string) driver.Result {
	return driver.Result{Columns: []string{"sql"}, Rows: [][]any{{sql}}, RowsAffected: 1}
}

// Deadlock returns a contention error as a driver would report it.
func Deadlock() error {
	return dberr.Translate("exec", errors.New("deadlock detected"), dberr.ConditionDeadlock)
}

// LockWaitTimeout returns a contention error as a driver would report it.
func LockWaitTimeout() error {
	return dberr.Translate("exec", errors.New("lock wait timeout exceeded"), dberr.ConditionLockWaitTimeout)
}

func translated(op string, err error) error {
	return dberr.Translate(op, err, dberr.ConditionOf(err))
}

// FakePool hands out FakeConns with ids fake-1, fake-2, ...
type FakePool struct {
	seq atomic.Int64

	mu         sync.Mutex
	conns      []*FakeConn
	acquireErr error
	closed     bool
	// Setup, when set, is applied to every new connection before it is returned.
	Setup func(*FakeConn)
}

var _ driver.Pool = (*FakePool)(nil)

func NewFakePool() *FakePool {
	return &FakePool{}
}

func (p *FakePool) FailAcquire(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquireErr = err
}

func (p *FakePool) Acquire(ctx context.Context) (driver.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, dberr.New(dberr.KindDriver, "acquire", "pool is closed")
	}
	if p.acquireErr != nil {
		return nil, dberr.Translate("acquire", p.acquireErr, dberr.ConditionNone)
	}
	c := NewFakeConn(fmt.Sprintf("fake-%d", p.seq.Add(1)))
	if p.Setup != nil {
		p.Setup(c)
	}
	p.conns = append(p.conns, c)
	return c, nil
}

func (p *FakePool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *FakePool) Driver() string { return "fake" }

func (p *FakePool) Conns() []*FakeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*FakeConn, len(p.conns))
	copy(out, p.conns)
	return out
}

func (p *FakePool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
