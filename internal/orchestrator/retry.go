package orchestrator

import (
	"context"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/fable/internal/providers"
)

// withRetry runs one external call under the job's retry policy: exponential
// backoff from the base delay, capped, retrying only transient failures.
// Permanent failures and context cancellation surface immediately.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(o.cfg.MaxAttempts),
		retry.Delay(o.cfg.RetryBaseDelay),
		retry.MaxDelay(o.cfg.RetryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if o.cancelled.Load() {
				return false
			}
			return providers.IsTransient(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			o.logger.Warn("retrying external call", "op", op, "attempt", n+1, "error", err)
		}),
	)
}
