package payments

import (
	"context"
)

// Intent statuses reported by the gateway that the core acts on.
const (
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCanceled              = "canceled"
	IntentStatusProcessing            = "processing"
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
)

// Refund reasons accepted by the gateway.
const (
	RefundReasonRequestedByCustomer = "requested_by_customer"
	RefundReasonDuplicate           = "duplicate"
	RefundReasonFraudulent          = "fraudulent"
)

// Gateway is the payment processor boundary. Every mutating call carries an
// idempotency key so a retried request never charges or refunds twice.
// Failures surface as GATEWAY_ERROR with the retryable flag set for
// transient conditions.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, input CreateIntentInput) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id, idempotencyKey string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, input CreateRefundInput) (*Refund, error)
}

// CreateIntentInput describes the charge for one order.
type CreateIntentInput struct {
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// CreateRefundInput returns money against a captured payment.
type CreateRefundInput struct {
	PaymentReference string
	AmountCents      int64
	Reason           string
	Metadata         map[string]string
	IdempotencyKey   string
}

// PaymentIntent is the gateway's view of a charge.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountCents  int64
	Currency     string
	Metadata     map[string]string
}

// Refund is the gateway's view of a refund.
type Refund struct {
	ID          string
	Status      string
	AmountCents int64
}

// OrderIdempotencyKey keys the payment intent of an order.
func OrderIdempotencyKey(orderID string) string {
	return "order_" + orderID
}

// RefundIdempotencyKey keys the gateway refund of a refund request.
func RefundIdempotencyKey(requestID string) string {
	return "refund_" + requestID
}
