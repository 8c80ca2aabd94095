package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore/pkg/actor"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	"github.com/angelmondragon/marketcore/pkg/outbox"
	"github.com/angelmondragon/marketcore/pkg/outbox/payloads"
)

// OrderCreated describes a freshly persisted order.
func OrderCreated(order *models.Order, subOrders []models.SubOrder) outbox.DomainEvent {
	sellers := []uuid.UUID{}
	seen := map[uuid.UUID]struct{}{}
	addSeller := func(id *uuid.UUID) {
		if id == nil || *id == uuid.Nil {
			return
		}
		if _, ok := seen[*id]; ok {
			return
		}
		seen[*id] = struct{}{}
		sellers = append(sellers, *id)
	}
	for i := range order.Lines {
		addSeller(order.Lines[i].SellerID)
	}
	subOrderIDs := make([]uuid.UUID, 0, len(subOrders))
	for _, sub := range subOrders {
		subOrderIDs = append(subOrderIDs, sub.ID)
	}
	return outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         customerActor(order.UserID),
		Data: payloads.OrderCreatedEvent{
			OrderID:     order.ID,
			CustomerID:  order.UserID,
			GuestEmail:  order.GuestEmail,
			SellerIDs:   sellers,
			SubOrderIDs: subOrderIDs,
			TotalCents:  order.TotalCents,
			Currency:    order.Currency,
		},
	}
}

// OrderStatusChanged describes a committed order status change.
func OrderStatusChanged(order *models.Order, from, to enums.OrderStatus, actorID *uuid.UUID, reason string, at time.Time) outbox.DomainEvent {
	var actor *outbox.ActorRef
	if actorID != nil {
		actor = &outbox.ActorRef{UserID: *actorID}
	}
	return outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		OccurredAt:    at,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:    order.ID,
			CustomerID: order.UserID,
			From:       from,
			To:         to,
			ActorID:    actorID,
			Reason:     reason,
			ChangedAt:  at,
		},
	}
}

// SubOrderStatusChanged describes a seller fulfillment update.
func SubOrderStatusChanged(sub *models.SubOrder, from, to enums.SubOrderStatus) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventSubOrderStatusChanged,
		AggregateType: enums.AggregateSubOrder,
		AggregateID:   sub.ID,
		Data: payloads.SubOrderStatusChangedEvent{
			SubOrderID: sub.ID,
			OrderID:    sub.OrderID,
			SellerID:   sub.SellerID,
			From:       from,
			To:         to,
		},
	}
}

// RefundRequestCreated describes a new refund request.
func RefundRequestCreated(req *models.RefundRequest) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventReturnRequestCreated,
		AggregateType: enums.AggregateRefundRequest,
		AggregateID:   req.ID,
		Actor:         customerActor(&req.CustomerID),
		Data: payloads.ReturnRequestCreatedEvent{
			RequestID:   req.ID,
			Kind:        enums.RequestKindRefund,
			OrderID:     req.OrderID,
			ProductID:   req.ProductID,
			CustomerID:  req.CustomerID,
			SellerID:    req.SellerID,
			Reason:      req.Reason,
			AmountCents: req.AmountCents,
		},
	}
}

// ReplacementRequestCreated describes a new replacement request.
func ReplacementRequestCreated(req *models.ReplacementRequest) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventReturnRequestCreated,
		AggregateType: enums.AggregateReplacementRequest,
		AggregateID:   req.ID,
		Actor:         customerActor(&req.CustomerID),
		Data: payloads.ReturnRequestCreatedEvent{
			RequestID:  req.ID,
			Kind:       enums.RequestKindReplacement,
			OrderID:    req.OrderID,
			ProductID:  req.ProductID,
			CustomerID: req.CustomerID,
			SellerID:   req.SellerID,
			Reason:     req.Reason,
		},
	}
}

// RefundRequestDecided describes the outcome of a refund review.
func RefundRequestDecided(req *models.RefundRequest) outbox.DomainEvent {
	data := payloads.ReturnRequestDecidedEvent{
		RequestID:   req.ID,
		Kind:        enums.RequestKindRefund,
		OrderID:     req.OrderID,
		CustomerID:  req.CustomerID,
		Status:      string(req.Status),
		AmountCents: req.AmountCents,
	}
	if req.RejectionReason != nil {
		data.RejectionReason = *req.RejectionReason
	}
	return outbox.DomainEvent{
		EventType:     enums.EventReturnRequestDecided,
		AggregateType: enums.AggregateRefundRequest,
		AggregateID:   req.ID,
		Actor:         reviewerActor(req.ReviewerID),
		Data:          data,
	}
}

// ReplacementRequestDecided describes the outcome of a replacement review.
func ReplacementRequestDecided(req *models.ReplacementRequest) outbox.DomainEvent {
	data := payloads.ReturnRequestDecidedEvent{
		RequestID:          req.ID,
		Kind:               enums.RequestKindReplacement,
		OrderID:            req.OrderID,
		CustomerID:         req.CustomerID,
		Status:             string(req.Status),
		ReplacementOrderID: req.ReplacementOrderID,
	}
	if req.RejectionReason != nil {
		data.RejectionReason = *req.RejectionReason
	}
	return outbox.DomainEvent{
		EventType:     enums.EventReturnRequestDecided,
		AggregateType: enums.AggregateReplacementRequest,
		AggregateID:   req.ID,
		Actor:         reviewerActor(req.ReviewerID),
		Data:          data,
	}
}

// RefundSettlementFailed alerts operators about a refund the gateway refused.
func RefundSettlementFailed(req *models.RefundRequest, cause error) outbox.DomainEvent {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return outbox.DomainEvent{
		EventType:     enums.EventRefundSettlementFailed,
		AggregateType: enums.AggregateRefundRequest,
		AggregateID:   req.ID,
		Data: payloads.RefundSettlementFailedEvent{
			RequestID:   req.ID,
			OrderID:     req.OrderID,
			AmountCents: req.AmountCents,
			Error:       msg,
		},
	}
}

func customerActor(id *uuid.UUID) *outbox.ActorRef {
	if id == nil {
		return nil
	}
	return &outbox.ActorRef{UserID: *id, Role: string(actor.RoleCustomer)}
}

func reviewerActor(id *uuid.UUID) *outbox.ActorRef {
	if id == nil {
		return nil
	}
	return &outbox.ActorRef{UserID: *id, Role: "reviewer"}
}
