package enums

import "fmt"

// AgentRunStatus tracks one purchase attempt through its phases.
type AgentRunStatus string

const (
	AgentRunStatusPlan     AgentRunStatus = "plan"
	AgentRunStatusCheckout AgentRunStatus = "checkout"
	AgentRunStatusDone     AgentRunStatus = "done"
	AgentRunStatusFailed   AgentRunStatus = "failed"
)

var validAgentRunStatuses = []AgentRunStatus{
	AgentRunStatusPlan,
	AgentRunStatusCheckout,
	AgentRunStatusDone,
	AgentRunStatusFailed,
}

// agentRunStatusRank orders statuses so transitions can only move forward.
var agentRunStatusRank = map[AgentRunStatus]int{
	AgentRunStatusPlan:     1,
	AgentRunStatusCheckout: 2,
	AgentRunStatusDone:     3,
	AgentRunStatusFailed:   3,
}

// String implements fmt.Stringer.
func (s AgentRunStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s AgentRunStatus) IsValid() bool {
	for _, candidate := range validAgentRunStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the run.
func (s AgentRunStatus) IsTerminal() bool {
	return s == AgentRunStatusDone || s == AgentRunStatusFailed
}

// CanTransitionTo reports whether moving from s to next preserves monotonic
// progression. Terminal statuses accept no further transitions.
func (s AgentRunStatus) CanTransitionTo(next AgentRunStatus) bool {
	if s.IsTerminal() {
		return false
	}
	from, ok := agentRunStatusRank[s]
	if !ok {
		return false
	}
	to, ok := agentRunStatusRank[next]
	if !ok {
		return false
	}
	return to > from || s == next
}

// ParseAgentRunStatus converts raw input into an AgentRunStatus.
func ParseAgentRunStatus(value string) (AgentRunStatus, error) {
	for _, candidate := range validAgentRunStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid agent run status %q", value)
}
