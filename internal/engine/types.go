package engine

import (
	"encoding/json"
	"strings"
	"time"
)

// Status describes one cycle of a task for one account.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusCompleted  Status = "completed"
)

// TrackingMode selects how progress updates are interpreted.
type TrackingMode string

const (
	TrackBoolean TrackingMode = "boolean"
	TrackCounter TrackingMode = "counter"
	TrackRounds  TrackingMode = "round_based_counter"
)

// ResetRule selects the refill cycle of a resource pool.
type ResetRule string

const (
	ResetDaily  ResetRule = "daily"
	ResetWeekly ResetRule = "weekly"
)

// Account is a tracked player account. Goals holds free-text tags as a
// comma-delimited string; matching ignores order, duplicates and
// surrounding whitespace.
type Account struct {
	ID        string
	Nickname  string
	Username  string
	Password  string
	Goals     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GoalTags splits the delimited goal string into trimmed, non-empty tags.
func (a *Account) GoalTags() []string {
	if a == nil || a.Goals == "" {
		return nil
	}
	parts := strings.Split(a.Goals, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// HasGoalTag reports whether the account carries the given tag.
func (a *Account) HasGoalTag(tag string) bool {
	if tag == "" {
		return false
	}
	for _, t := range a.GoalTags() {
		if t == tag {
			return true
		}
	}
	return false
}

// TaskDefinition is an immutable task template. The core only reads it.
// The Raw fields hold the stored wire payloads; Schedule, Tracking and
// Activation are their decoded forms.
type TaskDefinition struct {
	ID               string
	Name             string
	Category         string
	Schedule         ScheduleRule
	TrackingMode     TrackingMode
	Tracking         TrackingConfig
	Activation       *ActivationCondition
	ConsumesResource string
	ScheduleRaw      json.RawMessage
	TrackingRaw      json.RawMessage
	ActivationRaw    json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StatusKey identifies one cycle of one task for one account.
type StatusKey struct {
	AccountID string
	TaskID    string
	PeriodKey string
}

// PoolKey identifies one account's instance of a resource pool.
type PoolKey struct {
	AccountID string
	Resource  string
}

// TaskStatusRecord is the persisted state of one (account, task, period)
// cycle. At most one record exists per key.
type TaskStatusRecord struct {
	Key       StatusKey
	Status    Status
	Progress  json.RawMessage
	UpdatedAt time.Time
}

// PoolTemplate defines a shared consumable budget.
type PoolTemplate struct {
	Name      string
	MaxValue  int
	Reset     ResetRule
	CreatedAt time.Time
}

// PoolInstance is one account's materialized budget for a pool template.
type PoolInstance struct {
	Key             PoolKey
	CurrentValue    int
	MaxValue        int
	Reset           ResetRule
	LastResetPeriod string
	UpdatedAt       time.Time
}
