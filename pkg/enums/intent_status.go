package enums

import "fmt"

// IntentStatus tracks the lifecycle of a subscription intent.
type IntentStatus string

const (
	IntentStatusActive   IntentStatus = "active"
	IntentStatusPaused   IntentStatus = "paused"
	IntentStatusCanceled IntentStatus = "canceled"
	IntentStatusError    IntentStatus = "error"
)

var validIntentStatuses = []IntentStatus{
	IntentStatusActive,
	IntentStatusPaused,
	IntentStatusCanceled,
	IntentStatusError,
}

// String implements fmt.Stringer.
func (s IntentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s IntentStatus) IsValid() bool {
	for _, candidate := range validIntentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseIntentStatus converts raw input into an IntentStatus.
func ParseIntentStatus(value string) (IntentStatus, error) {
	for _, candidate := range validIntentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid intent status %q", value)
}
