package enums

import "fmt"

// PaymentStatus is where a payment attempt stands. Only
// requires_confirmation can move; the other two are final.
type PaymentStatus string

const (
	PaymentStatusRequiresConfirmation PaymentStatus = "requires_confirmation"
	PaymentStatusSucceeded            PaymentStatus = "succeeded"
	PaymentStatusFailed               PaymentStatus = "failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusRequiresConfirmation: {PaymentStatusSucceeded, PaymentStatusFailed},
	PaymentStatusSucceeded:            nil,
	PaymentStatusFailed:               nil,
}

func (p PaymentStatus) String() string { return string(p) }

func (p PaymentStatus) IsValid() bool {
	_, ok := paymentTransitions[p]
	return ok
}

func (p PaymentStatus) IsTerminal() bool {
	return p.IsValid() && len(paymentTransitions[p]) == 0
}

// CanBecome reports whether a payment in p may move to next.
func (p PaymentStatus) CanBecome(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	if status := PaymentStatus(value); status.IsValid() {
		return status, nil
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
