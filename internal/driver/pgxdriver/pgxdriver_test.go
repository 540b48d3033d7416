package pgxdriver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessiondb/internal/dberr"
	"sessiondb/pkg/logger"
)

func TestCondition(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want dberr.Condition
	}{
		{"deadlock", &pgconn.PgError{Code: "40P01"}, dberr.ConditionDeadlock},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, dberr.ConditionLockWaitTimeout},
		{"wrapped deadlock", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40P01"}), dberr.ConditionDeadlock},
		{"unique violation", &pgconn.PgError{Code: "23505"}, dberr.ConditionNone},
		{"plain", errors.New("boom"), dberr.ConditionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Condition(tt.err))
		})
	}
}

func TestTranslate_HidesPgError(t *testing.T) {
	err := translate("exec", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	require.Error(t, err)

	var pgErr *pgconn.PgError
	assert.False(t, errors.As(err, &pgErr))
	assert.True(t, dberr.IsContention(err))
	assert.Contains(t, err.Error(), "deadlock detected")
}

func testPool(t *testing.T) *Pool {
	t.Helper()
	dsn := os.Getenv("SESSIONDB_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SESSIONDB_TEST_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, err := New(ctx, Options{DSN: dsn, MaxConns: 4, ApplicationName: "sessiondb-test", IdleInTxTimeout: time.Minute})
	require.NoError(t, err)
	logger.TestInfo(t, "connected to PostgreSQL for %s", t.Name())
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestConn_TransactionRoundTrip(t *testing.T) {
	p := testPool(t)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer c.Release(ctx)
	assert.NotEmpty(t, c.ID())
	logger.TestDebug(t, "acquired backend pid %s", c.ID())

	require.NoError(t, c.Begin(ctx))
	assert.True(t, c.InTransaction())

	res, err := c.Exec(ctx, "SELECT 1 AS one")
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 1, res.Rows[0][0])

	require.NoError(t, c.Commit(ctx))
	assert.False(t, c.InTransaction())
}

func TestConn_ReleaseRollsBack(t *testing.T) {
	p := testPool(t)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Release(ctx))
	require.NoError(t, c.Release(ctx))

	_, err = c.Exec(ctx, "SELECT 1")
	assert.True(t, dberr.IsConnNotInit(err))
}
