package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-publisher/internal/retry"
	"github.com/i474232898/weather-publisher/internal/retry/retrytest"
)

func newExecutor(t *testing.T, sleeper *retrytest.Sleeper, opts ...retry.Option) (*retry.Executor, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	opts = append([]retry.Option{retry.WithSleeper(sleeper), retry.WithLogger(logger)}, opts...)
	e, err := retry.NewExecutor(retry.DefaultSchedule, opts...)
	require.NoError(t, err)
	return e, hook
}

// failTimes returns an operation that fails n times before succeeding.
func failTimes(n int, calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		if *calls <= n {
			return errors.New("boom")
		}
		return nil
	}
}

func TestExecutor_SucceedsOnAttemptK(t *testing.T) {
	for k := 1; k <= len(retry.DefaultSchedule); k++ {
		sleeper := &retrytest.Sleeper{}
		e, _ := newExecutor(t, sleeper)

		calls := 0
		err := e.Do(context.Background(), "op", failTimes(k-1, &calls))

		require.NoError(t, err)
		assert.Equal(t, k, calls)
		assert.Len(t, sleeper.Delays(), k-1)
		assert.Equal(t, []time.Duration(retry.DefaultSchedule[:k-1]), sleeper.Delays())
	}
}

func TestExecutor_ExhaustsSchedule(t *testing.T) {
	sleeper := &retrytest.Sleeper{}
	e, hook := newExecutor(t, sleeper)

	calls := 0
	err := e.Do(context.Background(), "fetch", failTimes(100, &calls))

	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{60 * time.Second, 180 * time.Second}, sleeper.Delays())

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.ErrorLevel, last.Level)
	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestExecutor_PermanentErrorStopsImmediately(t *testing.T) {
	sleeper := &retrytest.Sleeper{}
	e, _ := newExecutor(t, sleeper)

	sentinel := errors.New("mismatch")
	calls := 0
	err := e.Do(context.Background(), "declare", func(context.Context) error {
		calls++
		return retry.Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, retry.ErrRetriesExhausted)
	assert.True(t, retry.IsPermanent(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.Delays())
}

func TestExecutor_RetryHook(t *testing.T) {
	var ops []string
	e, _ := newExecutor(t, &retrytest.Sleeper{}, retry.WithRetryHook(func(op string) { ops = append(ops, op) }))

	calls := 0
	_ = e.Do(context.Background(), "publish", failTimes(100, &calls))

	assert.Equal(t, []string{"publish", "publish"}, ops)
}

func TestExecutor_ContextCancelled(t *testing.T) {
	e, _ := newExecutor(t, &retrytest.Sleeper{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := e.Do(ctx, "op", failTimes(0, &calls))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestExecutor_RealSleeperHonoursCancellation(t *testing.T) {
	e, err := retry.NewExecutor(retry.Schedule{time.Hour, time.Hour}, retry.WithLogger(logrus.New()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- e.Do(ctx, "op", func(context.Context) error {
			calls++
			return errors.New("boom")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not stop after cancellation")
	}
	assert.Equal(t, 1, calls)
}

func TestValue(t *testing.T) {
	e, _ := newExecutor(t, &retrytest.Sleeper{})

	calls := 0
	v, err := retry.Value(context.Background(), e, "get", func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "partial", errors.New("flaky")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	v, err = retry.Value(context.Background(), e, "get", func(context.Context) (string, error) {
		return "partial", errors.New("down")
	})
	assert.ErrorIs(t, err, retry.ErrRetriesExhausted)
	assert.Empty(t, v)
}

func TestNewExecutor_RejectsBadSchedules(t *testing.T) {
	_, err := retry.NewExecutor(nil)
	assert.ErrorIs(t, err, retry.ErrEmptySchedule)

	_, err = retry.NewExecutor(retry.Schedule{time.Second, -time.Second})
	assert.Error(t, err)
}

func TestNewExecutor_CopiesSchedule(t *testing.T) {
	schedule := retry.Schedule{time.Second, 2 * time.Second}
	sleeper := &retrytest.Sleeper{}
	e, err := retry.NewExecutor(schedule, retry.WithSleeper(sleeper), retry.WithLogger(logrus.New()))
	require.NoError(t, err)

	schedule[0] = time.Hour
	calls := 0
	_ = e.Do(context.Background(), "op", failTimes(100, &calls))

	assert.Equal(t, []time.Duration{time.Second}, sleeper.Delays())
	assert.Equal(t, 2, e.Attempts())
}

func TestSchedule_ShortestWait(t *testing.T) {
	wait, ok := retry.DefaultSchedule.ShortestWait()
	assert.True(t, ok)
	assert.Equal(t, 60*time.Second, wait)

	// The final entry is never slept.
	wait, ok = retry.Schedule{5 * time.Second, 2 * time.Second, time.Millisecond}.ShortestWait()
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, wait)

	_, ok = retry.Schedule{time.Second}.ShortestWait()
	assert.False(t, ok)
}
