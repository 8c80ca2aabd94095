package orders

import "github.com/angelmondragon/marketcore/pkg/enums"

// orderTransitions is the order lifecycle. Refund states are entered only
// through ApplyRefundTotals.
var orderTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPendingPayment: {enums.OrderStatusPaid, enums.OrderStatusCancelled},
	enums.OrderStatusPaid:           {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
	enums.OrderStatusConfirmed:      {enums.OrderStatusPacked, enums.OrderStatusCancelled},
	enums.OrderStatusPacked:         {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	enums.OrderStatusShipped:        {enums.OrderStatusDelivered, enums.OrderStatusCancelled},
}

// refundTransitions is reachable only from settlement.
var refundTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusDelivered:         {enums.OrderStatusPartiallyRefunded, enums.OrderStatusRefunded},
	enums.OrderStatusPartiallyRefunded: {enums.OrderStatusPartiallyRefunded, enums.OrderStatusRefunded},
}

var subOrderTransitions = map[enums.SubOrderStatus][]enums.SubOrderStatus{
	enums.SubOrderStatusPending:    {enums.SubOrderStatusProcessing, enums.SubOrderStatusCancelled},
	enums.SubOrderStatusProcessing: {enums.SubOrderStatusShipped, enums.SubOrderStatusCancelled},
	enums.SubOrderStatusShipped:    {enums.SubOrderStatusDelivered, enums.SubOrderStatusCancelled},
}

// AllowedTransitions lists the statuses an order may move to from `from`
// through an ordinary transition.
func AllowedTransitions(from enums.OrderStatus) []enums.OrderStatus {
	next := orderTransitions[from]
	out := make([]enums.OrderStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is an ordinary transition.
func CanTransition(from, to enums.OrderStatus) bool {
	return contains(orderTransitions[from], to)
}

// AllowedSubOrderTransitions lists the fulfillment statuses reachable from `from`.
func AllowedSubOrderTransitions(from enums.SubOrderStatus) []enums.SubOrderStatus {
	next := subOrderTransitions[from]
	out := make([]enums.SubOrderStatus, len(next))
	copy(out, next)
	return out
}

// CanRefund reports whether a settled refund may be booked on an order in
// this status.
func CanRefund(status enums.OrderStatus) bool {
	return len(refundTransitions[status]) > 0
}

func canRefundTransition(from, to enums.OrderStatus) bool {
	return contains(refundTransitions[from], to)
}

func contains[T comparable](set []T, v T) bool {
	for _, candidate := range set {
		if candidate == v {
			return true
		}
	}
	return false
}
