package enums

import "fmt"

// SettlementState tracks whether an approved payment has been credited
// to the beneficiary's gateway account.
type SettlementState string

const (
	SettlementStateNotAttempted SettlementState = "not_attempted"
	SettlementStateSettled      SettlementState = "settled"
	SettlementStateFailed       SettlementState = "failed"
)

var validSettlementStates = []SettlementState{
	SettlementStateNotAttempted,
	SettlementStateSettled,
	SettlementStateFailed,
}

// String implements fmt.Stringer.
func (s SettlementState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SettlementState.
func (s SettlementState) IsValid() bool {
	for _, candidate := range validSettlementStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSettlementState converts raw input into a SettlementState.
func ParseSettlementState(value string) (SettlementState, error) {
	for _, candidate := range validSettlementStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement state %q", value)
}
