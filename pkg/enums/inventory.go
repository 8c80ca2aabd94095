package enums

import "fmt"

// InventoryScope selects the product or variant stock row.
type InventoryScope string

const (
	InventoryScopeProduct InventoryScope = "product"
	InventoryScopeVariant InventoryScope = "variant"
)

var validInventoryScopes = []InventoryScope{
	InventoryScopeProduct,
	InventoryScopeVariant,
}

// String implements fmt.Stringer.
func (i InventoryScope) String() string {
	return string(i)
}

// IsValid reports whether the value is a known InventoryScope.
func (i InventoryScope) IsValid() bool {
	for _, candidate := range validInventoryScopes {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseInventoryScope converts raw input into a InventoryScope.
func ParseInventoryScope(value string) (InventoryScope, error) {
	for _, candidate := range validInventoryScopes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inventory scope %q", value)
}

// InventoryMovementKind labels an audited inventory mutation.
type InventoryMovementKind string

const (
	InventoryMovementReserve InventoryMovementKind = "reserve"
	InventoryMovementRelease InventoryMovementKind = "release"
	InventoryMovementFulfill InventoryMovementKind = "fulfill"
	InventoryMovementRestore InventoryMovementKind = "restore"
	InventoryMovementAdjust  InventoryMovementKind = "adjust"
)

// String implements fmt.Stringer.
func (k InventoryMovementKind) String() string {
	return string(k)
}
