package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessiondb/internal/dberr"
)

type recordedSleep struct {
	waits []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func (r *recordedSleep) total() time.Duration {
	var sum time.Duration
	for _, w := range r.waits {
		sum += w
	}
	return sum
}

func deadlock() error {
	return dberr.Translate("exec", errors.New("deadlock detected"), dberr.ConditionDeadlock)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{6, 6400 * time.Millisecond},
		{7, 8 * time.Second},
		{40, 8 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.retry, DefaultBaseDelay, DefaultMaxBackoff), "retry %d", tt.retry)
	}
}

func TestRun_SucceedsAfterKContentionFailures(t *testing.T) {
	for k := 0; k < 3; k++ {
		rec := &recordedSleep{}
		calls := 0
		got, err := Run(context.Background(), 3, func(ctx context.Context) (string, error) {
			calls++
			if calls <= k {
				return "", deadlock()
			}
			return "ok", nil
		}, WithSleep(rec.sleep))

		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, k+1, calls)

		var want time.Duration
		for i := 0; i < k; i++ {
			want += Backoff(i, DefaultBaseDelay, DefaultMaxBackoff)
		}
		assert.Equal(t, want, rec.total(), "k=%d", k)
	}
}

func TestRun_ElapsedWaitMatchesBackoff(t *testing.T) {
	calls := 0
	start := time.Now()
	_, err := Run(context.Background(), 3, func(ctx context.Context) (int, error) {
		calls++
		if calls <= 2 {
			return 0, deadlock()
		}
		return calls, nil
	}, WithBaseDelay(10*time.Millisecond))
	elapsed := time.Since(start)

	require.NoError(t, err)
	// 10ms + 20ms
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestRun_ExhaustsAfterMaxRetries(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	lockWait := dberr.Translate("exec", errors.New("lock wait timeout"), dberr.ConditionLockWaitTimeout)

	_, err := Run(context.Background(), 3, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, lockWait
	}, WithSleep(rec.sleep))

	assert.Equal(t, 4, calls)
	assert.Same(t, lockWait, err)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, rec.waits)
}

func TestRun_NonContentionFailsImmediately(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	boom := dberr.Translate("exec", errors.New("syntax error"), dberr.ConditionNone)

	_, err := Run(context.Background(), 3, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	}, WithSleep(rec.sleep))

	assert.Equal(t, 1, calls)
	assert.Same(t, boom, err)
	assert.Empty(t, rec.waits)
}

func TestRun_RespectsMaxBackoff(t *testing.T) {
	rec := &recordedSleep{}
	_, _ = Run(context.Background(), 5, func(ctx context.Context) (int, error) {
		return 0, deadlock()
	}, WithSleep(rec.sleep), WithMaxBackoff(250*time.Millisecond))

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		250 * time.Millisecond,
		250 * time.Millisecond,
		250 * time.Millisecond,
	}, rec.waits)
}

func TestRun_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Run(ctx, 3, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, deadlock()
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, dberr.HasCode(err, dberr.CodeDB))
	assert.Contains(t, err.Error(), context.Canceled.Error())
}
