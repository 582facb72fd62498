package enums

import "fmt"

// CheckoutStrategy selects how a purchase attempt is executed.
type CheckoutStrategy string

const (
	// CheckoutStrategyNativeRecurring enrolls in the merchant's own
	// subscribe-and-save program during checkout.
	CheckoutStrategyNativeRecurring CheckoutStrategy = "native_recurring"
	// CheckoutStrategyManualOneOff places a single order; renewals are
	// re-driven by the sweep.
	CheckoutStrategyManualOneOff CheckoutStrategy = "manual_one_off"
)

var validCheckoutStrategies = []CheckoutStrategy{
	CheckoutStrategyNativeRecurring,
	CheckoutStrategyManualOneOff,
}

// String implements fmt.Stringer.
func (s CheckoutStrategy) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s CheckoutStrategy) IsValid() bool {
	for _, candidate := range validCheckoutStrategies {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCheckoutStrategy converts raw input into a CheckoutStrategy.
func ParseCheckoutStrategy(value string) (CheckoutStrategy, error) {
	for _, candidate := range validCheckoutStrategies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout strategy %q", value)
}
