package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrRetriesExhausted is returned when every attempt in the schedule failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrEmptySchedule is returned when a schedule has no entries.
	ErrEmptySchedule = errors.New("retry schedule must have at least one entry")
	errNegativeDelay = errors.New("retry schedule contains a negative delay")
)

// Schedule is the fixed list of delays used between attempts.
// Its length is the maximum number of attempts.
type Schedule []time.Duration

// DefaultSchedule waits 1, 3 and 5 minutes.
var DefaultSchedule = Schedule{60 * time.Second, 180 * time.Second, 300 * time.Second}

// ShortestWait returns the smallest delay an Executor actually sleeps. The
// last entry is never slept, so a single-entry schedule reports false.
func (s Schedule) ShortestWait() (time.Duration, bool) {
	if len(s) < 2 {
		return 0, false
	}
	shortest := s[0]
	for _, d := range s[1 : len(s)-1] {
		shortest = min(shortest, d)
	}
	return shortest, true
}

// Validate reports whether the schedule can drive an Executor.
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return ErrEmptySchedule
	}
	for _, d := range s {
		if d < 0 {
			return errNegativeDelay
		}
	}
	return nil
}

// Sleeper suspends the caller between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Executor runs fallible operations against a fixed retry schedule.
type Executor struct {
	schedule Schedule
	sleeper  Sleeper
	logger   logrus.FieldLogger
	onRetry  func(operation string)
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper replaces the real timer, mostly for tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		e.sleeper = s
	}
}

// WithLogger sets the logger used for attempt and exhaustion messages.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithRetryHook registers a callback invoked before every wait.
func WithRetryHook(fn func(operation string)) Option {
	return func(e *Executor) {
		e.onRetry = fn
	}
}

// NewExecutor creates an Executor. The schedule is copied.
func NewExecutor(schedule Schedule, opts ...Option) (*Executor, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	e := &Executor{
		schedule: append(Schedule(nil), schedule...),
		sleeper:  timerSleeper{},
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Attempts returns the maximum number of attempts per operation.
func (e *Executor) Attempts() int {
	return len(e.schedule)
}

// Do calls op until it succeeds, returns a Permanent error, or the schedule
// runs out. After attempt n fails the executor waits schedule[n-1]; there is
// no wait after the final attempt.
func (e *Executor) Do(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	attempts := len(e.schedule)
	log := e.logger.WithField("operation", operation)

	var lastErr error
	for i, delay := range e.schedule {
		attempt := i + 1

		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			log.WithError(err).WithField("attempt", attempt).Error("attempt failed with a non-retriable error")
			return err
		}

		lastErr = err
		if attempt == attempts {
			break
		}

		log.WithError(err).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": attempts,
			"delay":        delay.String(),
		}).Warn("attempt failed, retrying")

		if e.onRetry != nil {
			e.onRetry(operation)
		}
		if err := e.sleeper.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	log.WithError(lastErr).WithField("attempts", attempts).Error("all retry attempts failed")
	return fmt.Errorf("%w: %s failed %d times: %w", ErrRetriesExhausted, operation, attempts, lastErr)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, e *Executor, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, operation, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Executor.Do returns it on the
// first occurrence. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries a Permanent marker.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}
