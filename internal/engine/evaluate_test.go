package engine

import (
	"testing"
	"time"
)

func TestEvaluateTask_GateShortCircuits(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, loc)
	task := &TaskDefinition{
		ID:         "t1",
		Schedule:   DailyRule{},
		Activation: &ActivationCondition{Type: ActivationGoalDependency, RequiredTag: "push-valk"},
	}

	// An account without the tag sees no period key even though the
	// daily schedule is always in-window.
	if _, active := EvaluateTask(task, &Account{Goals: "casual"}, now, loc); active {
		t.Fatal("task active for account missing the required tag")
	}

	ctx, active := EvaluateTask(task, &Account{Goals: "push-valk"}, now, loc)
	if !active {
		t.Fatal("task inactive for account holding the required tag")
	}
	if ctx.PeriodKey != "2024-03-05" {
		t.Fatalf("PeriodKey = %q, want %q", ctx.PeriodKey, "2024-03-05")
	}
}

func TestEvaluateTask_GoalRecomputedPerAccount(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, loc)
	task := &TaskDefinition{
		ID:       "t1",
		Schedule: DailyRule{},
		Tracking: TrackingConfig{
			Goal:      3,
			Overrides: []GoalOverride{{IfGoalContains: "farm-mats", NewGoal: 10}},
		},
	}

	ctx, _ := EvaluateTask(task, &Account{Goals: "farm-mats"}, now, loc)
	if ctx.EffectiveGoal != 10 {
		t.Fatalf("EffectiveGoal = %d, want 10", ctx.EffectiveGoal)
	}
	ctx, _ = EvaluateTask(task, &Account{Goals: "casual"}, now, loc)
	if ctx.EffectiveGoal != 3 {
		t.Fatalf("EffectiveGoal = %d, want 3", ctx.EffectiveGoal)
	}
}

func TestEvaluateTask_UnknownScheduleInactive(t *testing.T) {
	loc := time.UTC
	task := &TaskDefinition{ID: "t1", Schedule: UnknownRule{Type: "lunar_phase"}}
	if _, active := EvaluateTask(task, &Account{}, time.Now(), loc); active {
		t.Fatal("task with unknown schedule kind must be inactive")
	}
}

func TestEvaluateTask_NilSchedule(t *testing.T) {
	task := &TaskDefinition{ID: "t1"}
	if _, active := EvaluateTask(task, &Account{}, time.Now(), time.UTC); active {
		t.Fatal("task without a schedule must be inactive")
	}
}
