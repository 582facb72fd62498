package enums

import "fmt"

// BillingAccountStatus mirrors the processor's billing vehicle state.
type BillingAccountStatus string

const (
	BillingAccountStatusIncomplete BillingAccountStatus = "incomplete"
	BillingAccountStatusActive     BillingAccountStatus = "active"
	BillingAccountStatusPastDue    BillingAccountStatus = "past_due"
	BillingAccountStatusCanceled   BillingAccountStatus = "canceled"
)

var validBillingAccountStatuses = []BillingAccountStatus{
	BillingAccountStatusIncomplete,
	BillingAccountStatusActive,
	BillingAccountStatusPastDue,
	BillingAccountStatusCanceled,
}

// String implements fmt.Stringer.
func (s BillingAccountStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s BillingAccountStatus) IsValid() bool {
	for _, candidate := range validBillingAccountStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBillingAccountStatus converts raw input into a BillingAccountStatus.
func ParseBillingAccountStatus(value string) (BillingAccountStatus, error) {
	for _, candidate := range validBillingAccountStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing account status %q", value)
}
