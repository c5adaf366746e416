package retry

import (
	"context"
	"time"

	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/model"
)

// Policy bounds repetition of idempotent venue calls. Order placement does not go through it.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration

	// Retryable decides whether another attempt is worthwhile. Nil retries every error.
	Retryable func(error) bool
	// Sleep waits between attempts. Nil uses Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default retries transport failures three times, two seconds apart.
func Default() Policy {
	return Policy{MaxAttempts: 3, Delay: 2 * time.Second, Retryable: model.IsRetryable}
}

// Do runs op until it succeeds, attempts run out or the error is not retryable.
// The last error is returned as is.
func Do[T any](ctx context.Context, p Policy, name string, op func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var (
		out T
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err = op(ctx)
		if err == nil {
			return out, nil
		}
		if attempt == attempts || (p.Retryable != nil && !p.Retryable(err)) {
			break
		}
		logger.Warn("Retrying", "op", name, "attempt", attempt, "error", err)
		if serr := sleep(ctx, p.Delay); serr != nil {
			break
		}
	}
	return out, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, name string, op func(context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
