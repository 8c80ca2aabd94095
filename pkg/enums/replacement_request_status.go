package enums

import "fmt"

// ReplacementRequestStatus tracks a customer replacement request.
type ReplacementRequestStatus string

const (
	ReplacementRequestStatusPending   ReplacementRequestStatus = "pending"
	ReplacementRequestStatusApproved  ReplacementRequestStatus = "approved"
	ReplacementRequestStatusCompleted ReplacementRequestStatus = "completed"
	ReplacementRequestStatusRejected  ReplacementRequestStatus = "rejected"
)

var validReplacementRequestStatuses = []ReplacementRequestStatus{
	ReplacementRequestStatusPending,
	ReplacementRequestStatusApproved,
	ReplacementRequestStatusCompleted,
	ReplacementRequestStatusRejected,
}

// String implements fmt.Stringer.
func (r ReplacementRequestStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReplacementRequestStatus.
func (r ReplacementRequestStatus) IsValid() bool {
	for _, candidate := range validReplacementRequestStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReplacementRequestStatus converts raw input into a ReplacementRequestStatus.
func ParseReplacementRequestStatus(value string) (ReplacementRequestStatus, error) {
	for _, candidate := range validReplacementRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid replacement request status %q", value)
}

// IsOpen reports whether the request still blocks a new one for the same line.
func (r ReplacementRequestStatus) IsOpen() bool {
	return r != ReplacementRequestStatusRejected
}
