package enums

import "fmt"

// RefundRequestStatus tracks a customer refund request.
type RefundRequestStatus string

const (
	RefundRequestStatusPending    RefundRequestStatus = "pending"
	RefundRequestStatusProcessing RefundRequestStatus = "processing"
	RefundRequestStatusApproved   RefundRequestStatus = "approved"
	RefundRequestStatusCompleted  RefundRequestStatus = "completed"
	RefundRequestStatusRejected   RefundRequestStatus = "rejected"
	RefundRequestStatusFailed     RefundRequestStatus = "failed"
)

var validRefundRequestStatuses = []RefundRequestStatus{
	RefundRequestStatusPending,
	RefundRequestStatusProcessing,
	RefundRequestStatusApproved,
	RefundRequestStatusCompleted,
	RefundRequestStatusRejected,
	RefundRequestStatusFailed,
}

// String implements fmt.Stringer.
func (r RefundRequestStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundRequestStatus.
func (r RefundRequestStatus) IsValid() bool {
	for _, candidate := range validRefundRequestStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRefundRequestStatus converts raw input into a RefundRequestStatus.
func ParseRefundRequestStatus(value string) (RefundRequestStatus, error) {
	for _, candidate := range validRefundRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund request status %q", value)
}

// IsOpen reports whether the request still blocks a new one for the same line.
func (r RefundRequestStatus) IsOpen() bool {
	return r != RefundRequestStatusRejected && r != RefundRequestStatusFailed
}
