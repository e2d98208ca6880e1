package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActivationGoalDependency gates a task on the account holding a goal tag.
const ActivationGoalDependency = "goal_dependency"

// ActivationCondition is an optional precondition checked before the
// schedule is consulted. The wire form is {"type":"goal_dependency",
// "contains":"<tag>"}.
type ActivationCondition struct {
	Type        string `json:"type"`
	RequiredTag string `json:"contains"`
}

// DecodeActivationCondition parses an activation condition payload.
func DecodeActivationCondition(raw []byte) (*ActivationCondition, error) {
	var c ActivationCondition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse activation condition: %w", err)
	}
	if c.Type == ActivationGoalDependency && strings.TrimSpace(c.RequiredTag) == "" {
		return nil, fmt.Errorf("goal_dependency requires a non-empty tag")
	}
	return &c, nil
}

// Met reports whether the account satisfies the condition. A nil
// condition always passes; an unrecognized condition kind never does.
func (c *ActivationCondition) Met(account *Account) bool {
	if c == nil {
		return true
	}
	if c.Type != ActivationGoalDependency {
		return false
	}
	return account.HasGoalTag(strings.TrimSpace(c.RequiredTag))
}
