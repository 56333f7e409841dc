package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/stages"
)

// RetryPolicy bounds every stage invocation. Only transient failures are retried.
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"max_attempts"     validate:"min=1,max=10"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	Multiplier      float64       `yaml:"multiplier"       validate:"gte=1"`
	MaxInterval     time.Duration `yaml:"max_interval"     validate:"gtefield=InitialInterval"`
	StageTimeout    time.Duration `yaml:"stage_timeout"    validate:"gt=0"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		Multiplier:      2,
		MaxInterval:     2 * time.Second,
		StageTimeout:    5 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Invoke runs the stage under the policy. It returns the result of the successful attempt and the
// number of attempts made; on failure err is the last attempt's error.
func (p RetryPolicy) Invoke(
	ctx context.Context,
	stage stages.Stage,
	claim models.ClaimContext,
	notify func(err error, attempt int, wait time.Duration),
) (result stages.Result, attempts int, err error) {
	operation := func() error {
		attempts++

		res, err := p.attempt(ctx, stage, claim.Clone())
		if err == nil {
			result = res

			return nil
		}

		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	onRetry := func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, attempts, wait)
		}
	}

	err = backoff.RetryNotify(operation, p.backOff(ctx), onRetry)

	return result, attempts, err
}

type reply struct {
	result stages.Result
	err    error
}

// attempt bounds a single invocation by StageTimeout. A stage that ignores its context is
// abandoned once the deadline passes.
func (p RetryPolicy) attempt(ctx context.Context, stage stages.Stage, claim models.ClaimContext) (stages.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.StageTimeout)
	defer cancel()

	replies := make(chan reply, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				replies <- reply{err: fmt.Errorf("stage %s panicked: %v", stage.Name(), r)}
			}
		}()

		res, err := stage.Execute(attemptCtx, claim)
		replies <- reply{result: res, err: err}
	}()

	select {
	case r := <-replies:
		if r.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return stages.Result{}, timeoutError(p.StageTimeout, r.err)
		}

		return r.result, r.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return stages.Result{}, err
		}

		return stages.Result{}, timeoutError(p.StageTimeout, context.DeadlineExceeded)
	}
}

func timeoutError(timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("stage timed out after %s: %w", timeout, err)
	}

	return fmt.Errorf("stage timed out after %s: %w: %w", timeout, context.DeadlineExceeded, err)
}
