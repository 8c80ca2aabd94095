package enums

import "fmt"

// CouponType selects how a coupon discount is computed.
type CouponType string

const (
	CouponTypeFixedAmount  CouponType = "fixed_amount"
	CouponTypePercentage   CouponType = "percentage"
	CouponTypeFreeShipping CouponType = "free_shipping"
)

var validCouponTypes = []CouponType{
	CouponTypeFixedAmount,
	CouponTypePercentage,
	CouponTypeFreeShipping,
}

// String implements fmt.Stringer.
func (c CouponType) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CouponType.
func (c CouponType) IsValid() bool {
	for _, candidate := range validCouponTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCouponType converts raw input into a CouponType.
func ParseCouponType(value string) (CouponType, error) {
	for _, candidate := range validCouponTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid coupon type %q", value)
}
