package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	pkgstripe "github.com/angelmondragon/marketcore/pkg/stripe"
)

// stripeBackend is the slice of the Stripe SDK the adapter calls.
type stripeBackend interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error)
}

type sdkBackend struct {
	api *stripe.Client
}

func (b sdkBackend) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	return b.api.V1PaymentIntents.Create(ctx, params)
}

func (b sdkBackend) RetrievePaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error) {
	return b.api.V1PaymentIntents.Retrieve(ctx, id, params)
}

func (b sdkBackend) CancelPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	return b.api.V1PaymentIntents.Cancel(ctx, id, params)
}

func (b sdkBackend) CreateRefund(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error) {
	return b.api.V1Refunds.Create(ctx, params)
}

// StripeGateway implements Gateway on Stripe payment intents and refunds.
type StripeGateway struct {
	backend  stripeBackend
	currency string
}

// NewStripeGateway adapts an initialized Stripe client.
func NewStripeGateway(client *pkgstripe.Client) (*StripeGateway, error) {
	if client == nil || client.API() == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return &StripeGateway{backend: sdkBackend{api: client.API()}, currency: client.Currency()}, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, input CreateIntentInput) (*PaymentIntent, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = g.currency
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(input.AmountCents),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(input.IdempotencyKey)

	pi, err := g.backend.CreatePaymentIntent(ctx, params)
	if err != nil {
		return nil, pkgstripe.MapError("create payment intent", err)
	}
	return fromStripeIntent(pi), nil
}

func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	pi, err := g.backend.RetrievePaymentIntent(ctx, id, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return nil, pkgstripe.MapError("retrieve payment intent", err)
	}
	return fromStripeIntent(pi), nil
}

func (g *StripeGateway) CancelPaymentIntent(ctx context.Context, id, idempotencyKey string) (*PaymentIntent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	pi, err := g.backend.CancelPaymentIntent(ctx, id, params)
	if err != nil {
		return nil, pkgstripe.MapError("cancel payment intent", err)
	}
	return fromStripeIntent(pi), nil
}

func (g *StripeGateway) CreateRefund(ctx context.Context, input CreateRefundInput) (*Refund, error) {
	if strings.TrimSpace(input.PaymentReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(input.PaymentReference),
		Amount:        stripe.Int64(input.AmountCents),
	}
	if input.Reason != "" {
		params.Reason = stripe.String(input.Reason)
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(input.IdempotencyKey)

	r, err := g.backend.CreateRefund(ctx, params)
	if err != nil {
		return nil, pkgstripe.MapError("create refund", err)
	}
	return &Refund{ID: r.ID, Status: string(r.Status), AmountCents: r.Amount}, nil
}

func fromStripeIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	if pi == nil {
		return nil
	}
	return &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}
