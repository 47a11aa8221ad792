package i2c

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/envdisplay"
)

// withRetries runs attempt until it succeeds, fails with anything other than
// ErrBusBusy, or retries are exhausted. The bus is released between attempts.
func withRetries(ctx context.Context, opts Opts, release func(context.Context) error, address byte, attempt func() error) error {
	var err error
	for i := 0; i <= opts.MaxRetries; i++ {
		err = attempt()
		if err == nil {
			return nil
		}
		if !errors.Is(err, envdisplay.ErrBusBusy) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", envdisplay.ErrTimeout, ctxErr)
		}
		opts.Logger.Debug("bus busy, retrying", slog.Int("attempt", i+1), slog.Any("addr", address))
		_ = release(ctx)
	}
	return fmt.Errorf("retry limit reached: %w", err)
}

// bounded runs op to completion under the transaction budget. A transfer
// that overruns the budget and fails is reported as ErrTimeout; one that
// overruns and succeeds is only logged, its data is complete.
func bounded(ctx context.Context, opts Opts, n int, op func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", envdisplay.ErrTimeout, err)
	}
	budget := opts.budget(n)
	start := time.Now()
	err := op()
	if budget <= 0 {
		return err
	}
	if elapsed := time.Since(start); elapsed > budget {
		if err != nil {
			return fmt.Errorf("%w after %s (budget %s): %w", envdisplay.ErrTimeout, elapsed.Round(time.Microsecond), budget, err)
		}
		opts.Logger.Warn("bus transaction over budget", slog.Duration("elapsed", elapsed), slog.Duration("budget", budget))
	}
	return err
}
