package enums

import "fmt"

// PurchaseOrderStatus mirrors the procurement state of a purchase order.
type PurchaseOrderStatus string

const (
	PurchaseOrderStatusOpen              PurchaseOrderStatus = "open"
	PurchaseOrderStatusPartiallyReceived PurchaseOrderStatus = "partially_received"
	PurchaseOrderStatusClosed            PurchaseOrderStatus = "closed"
	PurchaseOrderStatusCancelled         PurchaseOrderStatus = "cancelled"
)

var validPurchaseOrderStatuses = []PurchaseOrderStatus{
	PurchaseOrderStatusOpen,
	PurchaseOrderStatusPartiallyReceived,
	PurchaseOrderStatusClosed,
	PurchaseOrderStatusCancelled,
}

// OpenPurchaseOrderStatuses can still be matched against invoices.
var OpenPurchaseOrderStatuses = []PurchaseOrderStatus{
	PurchaseOrderStatusOpen,
	PurchaseOrderStatusPartiallyReceived,
}

// String implements fmt.Stringer.
func (s PurchaseOrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PurchaseOrderStatus.
func (s PurchaseOrderStatus) IsValid() bool {
	for _, candidate := range validPurchaseOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsOpen reports whether invoices may still be matched to the order.
func (s PurchaseOrderStatus) IsOpen() bool {
	for _, candidate := range OpenPurchaseOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePurchaseOrderStatus converts raw input into a PurchaseOrderStatus.
func ParsePurchaseOrderStatus(value string) (PurchaseOrderStatus, error) {
	for _, candidate := range validPurchaseOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid purchase order status %q", value)
}
