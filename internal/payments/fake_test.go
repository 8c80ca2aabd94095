package payments

import (
	"context"
	"sync"

	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
)

// fakeGateway records calls and replays scripted failures before succeeding.
type fakeGateway struct {
	mu        sync.Mutex
	intents   map[string]*PaymentIntent
	failures  []error
	creates   []CreateIntentInput
	retrieves int
	cancels   []string
	refunds   []CreateRefundInput
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]*PaymentIntent{}}
}

func (f *fakeGateway) nextFailure() error {
	if len(f.failures) == 0 {
		return nil
	}
	err := f.failures[0]
	f.failures = f.failures[1:]
	return err
}

func (f *fakeGateway) CreatePaymentIntent(_ context.Context, input CreateIntentInput) (*PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, input)
	if err := f.nextFailure(); err != nil {
		return nil, err
	}
	id := "pi_" + input.IdempotencyKey
	intent := &PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       IntentStatusRequiresPaymentMethod,
		AmountCents:  input.AmountCents,
		Currency:     input.Currency,
		Metadata:     input.Metadata,
	}
	f.intents[id] = intent
	return intent, nil
}

func (f *fakeGateway) RetrievePaymentIntent(_ context.Context, id string) (*PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieves++
	if err := f.nextFailure(); err != nil {
		return nil, err
	}
	intent, ok := f.intents[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "no such payment intent").WithRetryable(false)
	}
	copied := *intent
	return &copied, nil
}

func (f *fakeGateway) CancelPaymentIntent(_ context.Context, id, _ string) (*PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	if err := f.nextFailure(); err != nil {
		return nil, err
	}
	intent, ok := f.intents[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "no such payment intent").WithRetryable(false)
	}
	intent.Status = IntentStatusCanceled
	copied := *intent
	return &copied, nil
}

func (f *fakeGateway) CreateRefund(_ context.Context, input CreateRefundInput) (*Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, input)
	if err := f.nextFailure(); err != nil {
		return nil, err
	}
	return &Refund{ID: "re_" + input.IdempotencyKey, Status: "succeeded", AmountCents: input.AmountCents}, nil
}

func (f *fakeGateway) setStatus(id, status string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[id].Status = status
	f.intents[id].AmountCents = amount
}
