package engine

import "time"

// TaskContext describes one active cycle of a task for an account.
type TaskContext struct {
	PeriodKey     string
	EffectiveGoal int
}

// EvaluateTask runs the activation gate, the schedule evaluator and the
// goal override resolver for one (account, task) pair. The gate
// short-circuits: an account missing the required goal tag never
// materializes a period key, even inside an active window.
func EvaluateTask(task *TaskDefinition, account *Account, now time.Time, loc *time.Location) (TaskContext, bool) {
	if !task.Activation.Met(account) {
		return TaskContext{}, false
	}
	if task.Schedule == nil {
		return TaskContext{}, false
	}
	key, active := task.Schedule.PeriodKey(task.ID, now, loc)
	if !active {
		return TaskContext{}, false
	}
	return TaskContext{
		PeriodKey:     key,
		EffectiveGoal: task.Tracking.EffectiveGoal(account),
	}, true
}
