// Package query runs single statements and ordered batches against one
// registered connection.
package query

import (
	"encoding/json"

	"sessiondb/internal/driver"
)

// Mode is how a request was executed; it is also the metrics label.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// Request is either one statement with its arguments or an ordered batch.
type Request struct {
	sqls   []string
	params [][]any
	batch  bool
}

// Single builds a one-statement request.
func Single(sql string, args ...any) Request {
	return Request{sqls: []string{sql}, params: [][]any{args}}
}

// Batch builds an ordered batch. params is either empty or holds one argument
// list per statement.
func Batch(sqls []string, params ...[]any) Request {
	return Request{sqls: sqls, params: params, batch: true}
}

func (r Request) IsBatch() bool { return r.batch }

func (r Request) Len() int { return len(r.sqls) }

// Statements returns the statements in input order.
func (r Request) Statements() []string {
	out := make([]string, len(r.sqls))
	copy(out, r.sqls)
	return out
}

// Args returns the arguments of statement i, or nil.
func (r Request) Args(i int) []any {
	if i < 0 || i >= len(r.params) {
		return nil
	}
	return r.params[i]
}

func (r Request) mode(opts Options) Mode {
	switch {
	case !r.batch:
		return ModeSingle
	case opts.Parallel:
		return ModeParallel
	default:
		return ModeSequential
	}
}

// Options controls how a request runs.
type Options struct {
	// Parallel dispatches batch statements concurrently. Statements must be independent.
	Parallel bool
	// ReferenceNo is stored on the record by transactional queries instead of a generated one.
	ReferenceNo string
	// OnStatement, when set, is called once per executed statement attempt.
	OnStatement func(Statement) `json:"-"`
}

// Outcome is a Single result or an ordered Batch of results, fixed at execution time.
type Outcome struct {
	batch   bool
	results []driver.Result
}

func singleOutcome(r driver.Result) Outcome {
	return Outcome{results: []driver.Result{r}}
}

func batchOutcome(rs []driver.Result) Outcome {
	return Outcome{batch: true, results: rs}
}

func (o Outcome) IsBatch() bool { return o.batch }

// Single returns the result of a single-statement request.
func (o Outcome) Single() (driver.Result, bool) {
	if o.batch || len(o.results) != 1 {
		return driver.Result{}, false
	}
	return o.results[0], true
}

// Batch returns the results of a batch in input order.
func (o Outcome) Batch() ([]driver.Result, bool) {
	if !o.batch {
		return nil, false
	}
	return o.results, true
}

// Results returns every result regardless of shape.
func (o Outcome) Results() []driver.Result {
	return o.results
}

// MarshalJSON renders a Single as an object and a Batch as an array.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if r, ok := o.Single(); ok {
		return json.Marshal(r)
	}
	if o.results == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(o.results)
}
