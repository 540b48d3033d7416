package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessiondb/internal/dberr"
	"sessiondb/internal/driver"
	"sessiondb/internal/retry"
	"sessiondb/internal/testutil"
	"sessiondb/pkg/logger"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestExecutor() *Executor {
	return NewExecutor(WithRetryOptions(retry.WithSleep(noSleep)))
}

func TestExecuteSingle(t *testing.T) {
	conn := testutil.NewFakeConn("c1")
	out, err := newTestExecutor().Execute(context.Background(), conn, Single("SELECT 1"), Options{})
	require.NoError(t, err)

	assert.False(t, out.IsBatch())
	res, ok := out.Single()
	require.True(t, ok)
	assert.Equal(t, testutil.EchoResult("SELECT 1"), res)
	_, ok = out.Batch()
	assert.False(t, ok)
}

func TestExecuteSinglePassesArgs(t *testing.T) {
	conn := testutil.NewFakeConn("c1")
	_, err := newTestExecutor().Execute(context.Background(), conn, Single("SELECT $1, $2", 1, "a"), Options{})
	require.NoError(t, err)

	calls := conn.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []any{1, "a"}, calls[0].Args)
}

func TestBatchModesKeepInputOrder(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		name := "sequential"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			conn := testutil.NewFakeConn("c1").OnExec(func(_ context.Context, sql string, _ []any, _ int) (driver.Result, error) {
				if sql == "A" {
					time.Sleep(10 * time.Millisecond)
				}
				return testutil.EchoResult(sql), nil
			})
			out, err := newTestExecutor().Execute(context.Background(), conn, Batch([]string{"A", "B"}), Options{Parallel: parallel})
			require.NoError(t, err)

			results, ok := out.Batch()
			require.True(t, ok)
			require.Len(t, results, 2)
			assert.Equal(t, testutil.EchoResult("A"), results[0])
			assert.Equal(t, testutil.EchoResult("B"), results[1])
		})
	}
}

func TestSequentialBatchRunsInOrder(t *testing.T) {
	conn := testutil.NewFakeConn("c1")
	sqls := []string{"INSERT 1", "INSERT 2", "INSERT 3", "SELECT"}
	_, err := newTestExecutor().Execute(context.Background(), conn, Batch(sqls), Options{})
	require.NoError(t, err)
	assert.Equal(t, sqls, conn.ExecSQL())
}

func TestBatchParams(t *testing.T) {
	conn := testutil.NewFakeConn("c1")
	req := Batch([]string{"A", "B"}, []any{1}, []any{2, 3})
	_, err := newTestExecutor().Execute(context.Background(), conn, req, Options{})
	require.NoError(t, err)

	calls := conn.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []any{1}, calls[0].Args)
	assert.Equal(t, []any{2, 3}, calls[1].Args)
}

func TestValidationDoesNotTouchConnection(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"params length mismatch", Batch([]string{"A", "B"}, []any{1})},
		{"too many params", Batch([]string{"A"}, []any{1}, []any{2})},
		{"empty batch", Batch(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := testutil.NewFakeConn("c1")
			_, err := newTestExecutor().Execute(context.Background(), conn, tt.req, Options{Parallel: true})
			require.Error(t, err)
			assert.Equal(t, dberr.KindConfiguration, dberr.KindOf(err))
			assert.False(t, dberr.IsContention(err))
			assert.Empty(t, conn.Calls())
		})
	}
}

func TestNilHandle(t *testing.T) {
	_, err := newTestExecutor().Execute(context.Background(), nil, Single("SELECT 1"), Options{})
	assert.True(t, dberr.IsConnNotInit(err))
}

func TestContentionRestartsWholeBatch(t *testing.T) {
	conn := testutil.NewFakeConn("c1").OnExec(func(_ context.Context, sql string, _ []any, attempt int) (driver.Result, error) {
		if sql == "B" && attempt == 1 {
			return driver.Result{}, testutil.Deadlock()
		}
		return testutil.EchoResult(sql), nil
	})
	out, err := newTestExecutor().Execute(context.Background(), conn, Batch([]string{"A", "B", "C"}), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "A", "B", "C"}, conn.ExecSQL())
	results, _ := out.Batch()
	assert.Len(t, results, 3)
}

func TestParallelContentionRestartsWholeBatch(t *testing.T) {
	conn := testutil.NewFakeConn("c1").OnExec(func(_ context.Context, sql string, _ []any, attempt int) (driver.Result, error) {
		if sql == "B" && attempt == 1 {
			return driver.Result{}, testutil.LockWaitTimeout()
		}
		return testutil.EchoResult(sql), nil
	})
	out, err := newTestExecutor().Execute(context.Background(), conn, Batch([]string{"A", "B"}), Options{Parallel: true})
	require.NoError(t, err)

	count := map[string]int{}
	for _, sql := range conn.ExecSQL() {
		count[sql]++
	}
	assert.Equal(t, 2, count["A"])
	assert.Equal(t, 2, count["B"])
	results, _ := out.Batch()
	assert.Equal(t, testutil.EchoResult("B"), results[1])
}

func TestContentionExhaustion(t *testing.T) {
	var waits []time.Duration
	e := NewExecutor(WithRetryOptions(retry.WithSleep(func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	})))
	conn := testutil.NewFakeConn("c1").OnExec(func(context.Context, string, []any, int) (driver.Result, error) {
		return driver.Result{}, testutil.Deadlock()
	})

	_, err := e.Execute(context.Background(), conn, Single("UPDATE t SET a = 1"), Options{})
	require.Error(t, err)
	assert.Len(t, conn.ExecSQL(), DefaultMaxRetries+1)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, waits)
	assert.True(t, dberr.HasCode(err, dberr.CodeDB))
	assert.Equal(t, dberr.ConditionDeadlock, dberr.ConditionOf(err))
}

func TestDriverErrorNotRetried(t *testing.T) {
	conn := testutil.NewFakeConn("c1").OnExec(func(context.Context, string, []any, int) (driver.Result, error) {
		return driver.Result{}, dberr.Translate("exec", errors.New("syntax error"), dberr.ConditionNone)
	})
	_, err := newTestExecutor().Execute(context.Background(), conn, Batch([]string{"A", "B"}), Options{})
	require.Error(t, err)
	assert.Equal(t, []string{"A"}, conn.ExecSQL())
	assert.Equal(t, dberr.KindDriver, dberr.KindOf(err))
	assert.Contains(t, err.Error(), "syntax error")
}

func TestOnStatement(t *testing.T) {
	var mu sync.Mutex
	var seen []Statement
	opts := Options{OnStatement: func(s Statement) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}}
	conn := testutil.NewFakeConn("c1")
	_, err := newTestExecutor().Execute(context.Background(), conn, Batch([]string{"A", "B"}, []any{1}, []any{2}), opts)
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, "A", seen[0].SQL)
	assert.Equal(t, 0, seen[0].Index)
	assert.Equal(t, []any{2}, seen[1].Args)
	assert.NoError(t, seen[1].Err)
}

func TestOutcomeJSON(t *testing.T) {
	single, err := json.Marshal(singleOutcome(driver.Result{RowsAffected: 2}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows_affected":2}`, string(single))

	batch, err := json.Marshal(batchOutcome([]driver.Result{{RowsAffected: 1}, {RowsAffected: 0}}))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"rows_affected":1},{"rows_affected":0}]`, string(batch))
}

func TestRetryLogsCarryConnectionID(t *testing.T) {
	var buf bytes.Buffer
	e := NewExecutor(WithLogger(logger.NewLogger(logger.DEBUG, &buf)), WithRetryOptions(retry.WithSleep(noSleep)))
	conn := testutil.NewFakeConn("c7").OnExec(func(_ context.Context, sql string, _ []any, attempt int) (driver.Result, error) {
		if attempt == 1 {
			return driver.Result{}, testutil.Deadlock()
		}
		return testutil.EchoResult(sql), nil
	})

	_, err := e.Execute(context.Background(), conn, Single("UPDATE t SET a = 1"), Options{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"conn":"c7"`)
	assert.Contains(t, buf.String(), "contention detected, retrying")
}
