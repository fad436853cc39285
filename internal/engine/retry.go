package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rahul/taskpilot/internal/plan"
	"github.com/rahul/taskpilot/internal/tools"
)

// RetryPolicy bounds the attempts made for one step.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration
	// Multiplier grows the delay between later attempts.
	Multiplier float64
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
	// Jitter adds up to this fraction of the delay, randomly. Zero disables it.
	Jitter float64
	// AttemptTimeout bounds a single invocation. Zero means only the run
	// deadline applies.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy makes three attempts waiting 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		Multiplier:     2,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 20 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the wait before attempt n, without jitter. Attempt 1 never
// waits; attempt n >= 2 waits BaseDelay * Multiplier^(n-2).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	p = p.normalized()
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-2))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryExecutor invokes one step through the tool invoker, retrying
// retryable failures with exponential backoff. Retry state lives only for
// the duration of one Invoke call.
type RetryExecutor struct {
	invoker    tools.Invoker
	policy     RetryPolicy
	classifier Classifier
	sleep      SleepFunc
	jitter     func() float64
	logger     *slog.Logger
	onRetry    func(ctx context.Context, step plan.Step, attempt int, delay time.Duration, err error)
}

func NewRetryExecutor(invoker tools.Invoker, policy RetryPolicy, classifier Classifier) *RetryExecutor {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return &RetryExecutor{
		invoker:    invoker,
		policy:     policy.normalized(),
		classifier: classifier,
		sleep:      sleepContext,
		jitter:     rand.Float64,
		logger:     slog.Default(),
	}
}

// Policy returns the effective policy.
func (r *RetryExecutor) Policy() RetryPolicy { return r.policy }

func (r *RetryExecutor) backoff(attempt int) time.Duration {
	d := r.policy.Delay(attempt)
	if r.policy.Jitter > 0 && d > 0 {
		d += time.Duration(float64(d) * r.policy.Jitter * r.jitter())
	}
	return d
}

// Invoke runs the step until it succeeds, fails terminally, exhausts its
// attempts, or ctx ends. It returns the output and the attempts made.
func (r *RetryExecutor) Invoke(ctx context.Context, step plan.Step, params map[string]any) (any, int, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			delay := r.backoff(attempt)
			if r.onRetry != nil {
				r.onRetry(ctx, step, attempt, delay, lastErr)
			}
			r.logger.Debug("retrying step",
				"step", step.ID, "tool", step.Tool, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, attempt - 1, r.fail(step, KindTimeout, attempt-1, fmt.Errorf("%w: waiting to retry: %v", ErrRunTimeout, lastErr))
			}
		}
		if ctx.Err() != nil {
			cause := fmt.Errorf("%w before attempt %d", ErrRunTimeout, attempt)
			if lastErr != nil {
				cause = fmt.Errorf("%w: %v", cause, lastErr)
			}
			return nil, attempt - 1, r.fail(step, KindTimeout, attempt-1, cause)
		}

		out, err := r.attempt(ctx, step, params)
		if ctx.Err() != nil {
			if err == nil {
				err = errLateResult
			}
			return nil, attempt, r.fail(step, KindTimeout, attempt, fmt.Errorf("%w: %v", ErrRunTimeout, err))
		}
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err

		if r.classifier.Classify(err) == Terminal {
			return nil, attempt, r.fail(step, KindPermanent, attempt, err)
		}
		if attempt >= r.policy.MaxAttempts {
			return nil, attempt, r.fail(step, KindTransient, attempt, err)
		}
	}
}

func (r *RetryExecutor) attempt(ctx context.Context, step plan.Step, params map[string]any) (any, error) {
	if r.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.AttemptTimeout)
		defer cancel()
	}
	res, err := await(ctx, func() invocation {
		out, err := r.invoker.Invoke(ctx, step.Tool, step.Action, params)
		return invocation{out: out, err: err}
	})
	if err != nil {
		return nil, err
	}
	return res.out, res.err
}

var errLateResult = errors.New("result arrived after the deadline")

type invocation struct {
	out any
	err error
}

// await runs f on its own goroutine and stops waiting once ctx is done, so
// a tool that ignores cancellation cannot hold a step past its deadline.
// The abandoned call's result is dropped.
func await[T any](ctx context.Context, f func() T) (T, error) {
	ch := make(chan T, 1)
	go func() { ch <- f() }()
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (r *RetryExecutor) fail(step plan.Step, kind FailureKind, attempts int, err error) *ToolInvocationError {
	return &ToolInvocationError{
		Kind:     kind,
		Tool:     step.Tool,
		Action:   step.Action,
		Attempts: attempts,
		Err:      err,
	}
}
