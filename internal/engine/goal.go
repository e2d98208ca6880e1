package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GoalOverride replaces the base goal when the account carries a tag.
type GoalOverride struct {
	IfGoalContains string `json:"if_goal_contains"`
	NewGoal        int    `json:"new_goal"`
}

// RoundConfig holds the optional parameters of round-based tasks. The
// engine stores round progress verbatim; these values only describe the
// shape for clients.
type RoundConfig struct {
	Rounds   int `json:"rounds"`
	PerRound int `json:"per_round"`
}

// TrackingConfig describes how completion is measured for a task.
type TrackingConfig struct {
	Goal      int            `json:"goal,omitempty"`
	Overrides []GoalOverride `json:"overrides,omitempty"`
	Rounds    *RoundConfig   `json:"rounds_config,omitempty"`
}

// DecodeTrackingConfig parses and structurally validates a tracking
// config payload for the given mode.
func DecodeTrackingConfig(raw []byte, mode TrackingMode) (TrackingConfig, error) {
	var cfg TrackingConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return TrackingConfig{}, fmt.Errorf("parse tracking config: %w", err)
	}
	if cfg.Goal < 0 {
		return TrackingConfig{}, fmt.Errorf("goal must not be negative")
	}
	for i, o := range cfg.Overrides {
		if strings.TrimSpace(o.IfGoalContains) == "" {
			return TrackingConfig{}, fmt.Errorf("override %d: if_goal_contains is required", i+1)
		}
		if o.NewGoal < 1 {
			return TrackingConfig{}, fmt.Errorf("override %d: new_goal must be at least 1", i+1)
		}
	}
	if mode == TrackRounds && cfg.Rounds != nil {
		if cfg.Rounds.Rounds < 1 || cfg.Rounds.PerRound < 1 {
			return TrackingConfig{}, fmt.Errorf("rounds_config values must be at least 1")
		}
	}
	return cfg, nil
}

// EffectiveGoal resolves the counter goal for an account: the base goal
// (default 1) unless an override matches. Overrides are scanned in list
// order and the first match wins; later matches are ignored.
func (c TrackingConfig) EffectiveGoal(account *Account) int {
	goal := c.Goal
	if goal <= 0 {
		goal = 1
	}
	for _, o := range c.Overrides {
		tag := strings.TrimSpace(o.IfGoalContains)
		if tag == "" {
			continue
		}
		if account.HasGoalTag(tag) {
			return o.NewGoal
		}
	}
	return goal
}
