// Package dberr defines the error type every sessiondb component returns.
//
// Callers branch on the stable string Code/SubCode or on the Kind; the raw
// driver error is never exposed, only its message.
package dberr

import (
	"errors"
	"fmt"
	"strings"
)

// Code is the stable, machine-checkable error code surfaced to callers.
type Code string

const (
	CodeDB              Code = "DB_ERR"
	CodeTransaction     Code = "TRANSACTION_ERR"
	CodeConnNotInit     Code = "CONN_NOT_INIT"
	CodeDatabaseInit    Code = "DATABASE_INIT_ERROR"
	CodeNoActiveTx      Code = "NO_ACTIVE_TX"
	CodeTxAlreadyActive Code = "TX_ALREADY_ACTIVE"
	CodeTxAborted       Code = "TX_ABORTED"
)

// Kind classifies where an error came from and how it propagates.
type Kind int

const (
	KindDriver Kind = iota
	KindConfiguration
	KindContention
	KindConnectionState
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindContention:
		return "contention"
	case KindConnectionState:
		return "connection_state"
	default:
		return "driver"
	}
}

// Condition names the lock-contention signal reported by a driver.
type Condition string

const (
	ConditionNone            Condition = ""
	ConditionDeadlock        Condition = "deadlock"
	ConditionLockWaitTimeout Condition = "lock_wait_timeout"
)

// Error is the single error type crossing package boundaries.
type Error struct {
	Code      Code
	SubCode   Code
	Kind      Kind
	Condition Condition
	Op        string
	Msg       string
	Err       *Error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.SubCode != "" {
		b.WriteString("/")
		b.WriteString(string(e.SubCode))
	}
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap only walks sessiondb's own chain.
func (e *Error) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// Translate converts a raw driver error into an *Error carrying only its
// message. A contention condition turns the kind into KindContention.
func Translate(op string, err error, cond Condition) error {
	if err == nil {
		return nil
	}
	return translate(op, err, cond)
}

func translate(op string, err error, cond Condition) *Error {
	var own *Error
	if errors.As(err, &own) {
		return own
	}
	kind := KindDriver
	if cond != ConditionNone {
		kind = KindContention
	}
	return &Error{
		Code:      CodeDB,
		Kind:      kind,
		Condition: cond,
		Op:        op,
		Msg:       err.Error(),
	}
}

// Wrap re-labels err with code for the given call site, keeping kind,
// condition and sub-code of the inner error. A nil err yields nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	var inner *Error
	if !errors.As(err, &inner) {
		inner = translate(op, err, ConditionNone)
	}
	if inner.Code == code && inner.Op == op {
		return inner
	}
	return &Error{
		Code:      code,
		SubCode:   inner.SubCode,
		Kind:      inner.Kind,
		Condition: inner.Condition,
		Op:        op,
		Err:       inner,
	}
}

// New builds a DB_ERR of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Code: CodeDB, Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Configuration reports a caller mistake detected before touching the connection.
func Configuration(op, format string, args ...any) *Error {
	return New(KindConfiguration, op, format, args...)
}

// ConnNotInit reports that the session has no live registration.
func ConnNotInit(op, format string, args ...any) *Error {
	e := New(KindConnectionState, op, format, args...)
	e.SubCode = CodeConnNotInit
	return e
}

// Transaction builds a TRANSACTION_ERR with an optional sub-code.
func Transaction(sub Code, op, format string, args ...any) *Error {
	return &Error{Code: CodeTransaction, SubCode: sub, Kind: KindConnectionState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// DatabaseInit wraps a setup failure.
func DatabaseInit(op string, err error) error {
	return Wrap(CodeDatabaseInit, op, err)
}

// As returns err as *Error when it is one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether code appears as Code or SubCode anywhere in the chain.
func HasCode(err error, code Code) bool {
	e, ok := As(err)
	for ok && e != nil {
		if e.Code == code || e.SubCode == code {
			return true
		}
		e = e.Err
	}
	return false
}

// IsConnNotInit reports the "no live registration for this session" condition.
func IsConnNotInit(err error) bool {
	return HasCode(err, CodeConnNotInit)
}

// IsNoActiveTransaction reports a commit/query issued outside an active transaction.
func IsNoActiveTransaction(err error) bool {
	return HasCode(err, CodeNoActiveTx)
}

// IsTransactionAborted reports a transaction the server already rolled back.
func IsTransactionAborted(err error) bool {
	return HasCode(err, CodeTxAborted)
}

// IsContention reports whether err is a deadlock or lock wait timeout.
func IsContention(err error) bool {
	return ConditionOf(err) != ConditionNone
}

// ConditionOf returns the contention condition carried by err.
func ConditionOf(err error) Condition {
	e, ok := As(err)
	if !ok {
		return ConditionNone
	}
	return e.Condition
}

// KindOf returns the kind of err; unknown errors are KindDriver.
func KindOf(err error) Kind {
	e, ok := As(err)
	if !ok {
		return KindDriver
	}
	return e.Kind
}
