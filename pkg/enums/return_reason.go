package enums

import "fmt"

// ReturnReason is the customer-declared cause of a refund or replacement.
type ReturnReason string

const (
	ReturnReasonDamaged        ReturnReason = "damaged"
	ReturnReasonDefective      ReturnReason = "defective"
	ReturnReasonWrongItem      ReturnReason = "wrong_item"
	ReturnReasonNotAsDescribed ReturnReason = "not_as_described"
	ReturnReasonMissingParts   ReturnReason = "missing_parts"
	ReturnReasonChangedMind    ReturnReason = "changed_mind"
	ReturnReasonOther          ReturnReason = "other"
)

var validReturnReasons = []ReturnReason{
	ReturnReasonDamaged,
	ReturnReasonDefective,
	ReturnReasonWrongItem,
	ReturnReasonNotAsDescribed,
	ReturnReasonMissingParts,
	ReturnReasonChangedMind,
	ReturnReasonOther,
}

// String implements fmt.Stringer.
func (r ReturnReason) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReturnReason.
func (r ReturnReason) IsValid() bool {
	for _, candidate := range validReturnReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReturnReason converts raw input into a ReturnReason.
func ParseReturnReason(value string) (ReturnReason, error) {
	for _, candidate := range validReturnReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return reason %q", value)
}
