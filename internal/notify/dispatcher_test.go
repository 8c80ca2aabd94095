package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	"github.com/angelmondragon/marketcore/pkg/logger"
	"github.com/angelmondragon/marketcore/pkg/outbox"
	"github.com/angelmondragon/marketcore/pkg/outbox/payloads"
)

type fakeTx struct {
	calls int
	err   error
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	f.calls++
	if err := fn(nil); err != nil {
		return err
	}
	return f.err
}

type fakeEmitter struct {
	events []outbox.DomainEvent
	err    error
	ctxErr error
}

func (f *fakeEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func newTestLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Options{ServiceName: "notify-test", Output: buf})
}

func TestDispatchEmitsEventsInOneTransaction(t *testing.T) {
	var buf bytes.Buffer
	tx := &fakeTx{}
	emitter := &fakeEmitter{}
	d, err := NewDispatcher(tx, emitter, newTestLogger(&buf))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	order := &models.Order{ID: uuid.New()}
	now := time.Now().UTC()
	d.Dispatch(context.Background(),
		OrderStatusChanged(order, enums.OrderStatusPendingPayment, enums.OrderStatusPaid, nil, "", now),
		OrderStatusChanged(order, enums.OrderStatusPaid, enums.OrderStatusConfirmed, nil, "", now),
	)

	if tx.calls != 1 {
		t.Fatalf("expected one transaction, got %d", tx.calls)
	}
	if len(emitter.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(emitter.events))
	}
	if buf.Len() != 0 && strings.Contains(buf.String(), "dispatch failed") {
		t.Fatalf("unexpected failure log: %s", buf.String())
	}
}

func TestDispatchLogsFailuresWithoutPanicking(t *testing.T) {
	var buf bytes.Buffer
	emitter := &fakeEmitter{err: errors.New("outbox down")}
	d, err := NewDispatcher(&fakeTx{}, emitter, newTestLogger(&buf))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	order := &models.Order{ID: uuid.New()}
	d.Dispatch(context.Background(), OrderCreated(order, nil))

	if !strings.Contains(buf.String(), "notification dispatch failed") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
}

func TestDispatchSurvivesCancelledContext(t *testing.T) {
	var buf bytes.Buffer
	emitter := &fakeEmitter{}
	d, err := NewDispatcher(&fakeTx{}, emitter, newTestLogger(&buf))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.Dispatch(ctx, OrderCreated(&models.Order{ID: uuid.New()}, nil))
	if emitter.ctxErr != nil {
		t.Fatalf("dispatch should detach from caller cancellation, got %v", emitter.ctxErr)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected event to be emitted")
	}
}

func TestNewDispatcherRequiresDependencies(t *testing.T) {
	if _, err := NewDispatcher(nil, &fakeEmitter{}, newTestLogger(&bytes.Buffer{})); err == nil {
		t.Fatal("expected tx runner error")
	}
	if _, err := NewDispatcher(&fakeTx{}, nil, newTestLogger(&bytes.Buffer{})); err == nil {
		t.Fatal("expected emitter error")
	}
	if _, err := NewDispatcher(&fakeTx{}, &fakeEmitter{}, nil); err == nil {
		t.Fatal("expected logger error")
	}
}

func TestOrderCreatedCollectsDistinctSellers(t *testing.T) {
	sellerA, sellerB := uuid.New(), uuid.New()
	customer := uuid.New()
	order := &models.Order{
		ID:         uuid.New(),
		UserID:     &customer,
		TotalCents: 5500,
		Currency:   "usd",
		Lines: []models.OrderLine{
			{SellerID: &sellerA},
			{SellerID: &sellerB},
			{SellerID: &sellerA},
			{},
		},
	}
	subs := []models.SubOrder{{ID: uuid.New()}, {ID: uuid.New()}}

	event := OrderCreated(order, subs)
	data, ok := event.Data.(payloads.OrderCreatedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", event.Data)
	}
	if len(data.SellerIDs) != 2 || data.SellerIDs[0] != sellerA || data.SellerIDs[1] != sellerB {
		t.Fatalf("unexpected sellers %v", data.SellerIDs)
	}
	if len(data.SubOrderIDs) != 2 {
		t.Fatalf("expected sub-order ids, got %v", data.SubOrderIDs)
	}
	if event.Actor == nil || event.Actor.UserID != customer {
		t.Fatalf("expected customer actor, got %+v", event.Actor)
	}
}

func TestRefundRequestDecidedCarriesRejectionReason(t *testing.T) {
	reason := "outside policy"
	reviewer := uuid.New()
	req := &models.RefundRequest{
		ID:              uuid.New(),
		OrderID:         uuid.New(),
		Status:          enums.RefundRequestStatusRejected,
		RejectionReason: &reason,
		ReviewerID:      &reviewer,
	}
	event := RefundRequestDecided(req)
	data := event.Data.(payloads.ReturnRequestDecidedEvent)
	if data.RejectionReason != reason || data.Status != "rejected" {
		t.Fatalf("unexpected payload %+v", data)
	}
	if event.AggregateType != enums.AggregateRefundRequest {
		t.Fatalf("unexpected aggregate %s", event.AggregateType)
	}
}
