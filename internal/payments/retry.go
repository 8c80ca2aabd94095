package payments

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/marketcore/pkg/config"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/metrics"
)

const (
	defaultCallTimeout = 10 * time.Second
	defaultMaxAttempts = 3
	defaultBaseBackoff = 200 * time.Millisecond
)

// RetryPolicy bounds a gateway call: every attempt gets Timeout and at most
// MaxAttempts are made, spaced by exponential backoff from BaseBackoff.
type RetryPolicy struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
}

// PolicyFromConfig reads the gateway section of the config.
func PolicyFromConfig(cfg config.GatewayConfig) RetryPolicy {
	return RetryPolicy{
		Timeout:     cfg.Timeout,
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
	}.withDefaults()
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Timeout <= 0 {
		p.Timeout = defaultCallTimeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = defaultBaseBackoff
	}
	return p
}

// Call runs fn until it succeeds, fails permanently or runs out of attempts.
// Only errors flagged retryable are retried; the last error is returned as is.
func Call(ctx context.Context, policy RetryPolicy, m *metrics.DomainMetrics, op string, fn func(ctx context.Context) error) error {
	policy = policy.withDefaults()
	backoff := retry.WithMaxRetries(uint64(policy.MaxAttempts-1), retry.NewExponential(policy.BaseBackoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		defer cancel()

		err := fn(attemptCtx)
		switch {
		case err == nil:
			m.IncGatewayAttempt(op, "success")
			return nil
		case pkgerrors.IsRetryable(err) && ctx.Err() == nil:
			m.IncGatewayAttempt(op, "retryable")
			return retry.RetryableError(err)
		default:
			m.IncGatewayAttempt(op, "failed")
			return err
		}
	})
}
