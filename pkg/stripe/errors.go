package stripe

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

const idempotencyKeyInUse = "idempotency_key_in_use"

// MapError converts a Stripe SDK failure into a GATEWAY_ERROR whose retryable
// flag tells callers whether the same request may be sent again.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		retryable := isRetryableStripeError(stripeErr)
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, op+" failed").
			WithRetryable(retryable).
			WithDetails(map[string]any{
				"gateway_status": stripeErr.HTTPStatusCode,
				"gateway_type":   string(stripeErr.Type),
				"gateway_code":   string(stripeErr.Code),
			})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, op+" timed out").WithRetryable(true)
	}
	if errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, op+" canceled").WithRetryable(false)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, op+" connection failed").WithRetryable(true)
	}

	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, op+" failed").WithRetryable(false)
}

func isRetryableStripeError(err *stripe.Error) bool {
	switch {
	case err.HTTPStatusCode == http.StatusTooManyRequests:
		return true
	case err.HTTPStatusCode >= http.StatusInternalServerError:
		return true
	case err.HTTPStatusCode == 0:
		// no response reached us
		return true
	case err.Type == stripe.ErrorTypeIdempotency:
		return false
	case string(err.Code) == idempotencyKeyInUse:
		return true
	}
	return false
}
