package enums

import "fmt"

// EarningStatus tracks escrowed seller earnings.
type EarningStatus string

const (
	EarningStatusPending    EarningStatus = "pending"
	EarningStatusProcessing EarningStatus = "processing"
	EarningStatusAvailable  EarningStatus = "available"
	EarningStatusRefunded   EarningStatus = "refunded"
	EarningStatusVoided     EarningStatus = "voided"
)

var validEarningStatuses = []EarningStatus{
	EarningStatusPending,
	EarningStatusProcessing,
	EarningStatusAvailable,
	EarningStatusRefunded,
	EarningStatusVoided,
}

// String implements fmt.Stringer.
func (e EarningStatus) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EarningStatus.
func (e EarningStatus) IsValid() bool {
	for _, candidate := range validEarningStatuses {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEarningStatus converts raw input into a EarningStatus.
func ParseEarningStatus(value string) (EarningStatus, error) {
	for _, candidate := range validEarningStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid earning status %q", value)
}
