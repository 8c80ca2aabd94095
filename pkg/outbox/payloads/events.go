package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore/pkg/enums"
)

// OrderCreatedEvent tells the customer and every seller about a new order.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID   `json:"order_id"`
	CustomerID  *uuid.UUID  `json:"customer_id,omitempty"`
	GuestEmail  *string     `json:"guest_email,omitempty"`
	SellerIDs   []uuid.UUID `json:"seller_ids"`
	SubOrderIDs []uuid.UUID `json:"sub_order_ids,omitempty"`
	TotalCents  int64       `json:"total_cents"`
	Currency    string      `json:"currency"`
}

// OrderStatusChangedEvent reports a committed status transition.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	CustomerID *uuid.UUID        `json:"customer_id,omitempty"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	ActorID    *uuid.UUID        `json:"actor_id,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	ChangedAt  time.Time         `json:"changed_at"`
}

// SubOrderStatusChangedEvent reports a seller fulfillment update.
type SubOrderStatusChangedEvent struct {
	SubOrderID uuid.UUID            `json:"sub_order_id"`
	OrderID    uuid.UUID            `json:"order_id"`
	SellerID   uuid.UUID            `json:"seller_id"`
	From       enums.SubOrderStatus `json:"from"`
	To         enums.SubOrderStatus `json:"to"`
}

// ReturnRequestCreatedEvent announces a new refund or replacement request.
type ReturnRequestCreatedEvent struct {
	RequestID   uuid.UUID          `json:"request_id"`
	Kind        enums.RequestKind  `json:"kind"`
	OrderID     uuid.UUID          `json:"order_id"`
	ProductID   uuid.UUID          `json:"product_id"`
	CustomerID  uuid.UUID          `json:"customer_id"`
	SellerID    *uuid.UUID         `json:"seller_id,omitempty"`
	Reason      enums.ReturnReason `json:"reason"`
	AmountCents int64              `json:"amount_cents,omitempty"`
}

// ReturnRequestDecidedEvent announces the outcome of a review.
type ReturnRequestDecidedEvent struct {
	RequestID          uuid.UUID         `json:"request_id"`
	Kind               enums.RequestKind `json:"kind"`
	OrderID            uuid.UUID         `json:"order_id"`
	CustomerID         uuid.UUID         `json:"customer_id"`
	Status             string            `json:"status"`
	AmountCents        int64             `json:"amount_cents,omitempty"`
	RejectionReason    string            `json:"rejection_reason,omitempty"`
	ReplacementOrderID *uuid.UUID        `json:"replacement_order_id,omitempty"`
}

// RefundSettlementFailedEvent alerts operators that a gateway refund failed.
type RefundSettlementFailedEvent struct {
	RequestID   uuid.UUID `json:"request_id"`
	OrderID     uuid.UUID `json:"order_id"`
	AmountCents int64     `json:"amount_cents"`
	Error       string    `json:"error"`
}
