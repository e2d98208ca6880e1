package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"questtab/internal/engine"
	"questtab/internal/store"
)

var (
	// ErrTaskInactive rejects updates outside the task's active cycle.
	ErrTaskInactive = errors.New("task is not in an active cycle")
	// ErrInvalidProgress rejects malformed progress payloads.
	ErrInvalidProgress = errors.New("invalid progress payload")
)

// Tracker runs the evaluation pipeline (activation gate, schedule
// evaluator, goal resolver, progress engine, pool manager) against the
// store. Evaluation itself is pure; only ApplyUpdate and the lazy pool
// materialization write.
type Tracker struct {
	store    *store.Store
	logger   *slog.Logger
	location *time.Location
}

func New(st *store.Store, logger *slog.Logger, location *time.Location) *Tracker {
	if location == nil {
		location = time.Local
	}
	return &Tracker{store: st, logger: logger, location: location}
}

// Location returns the reference timezone used for all cycle math.
func (t *Tracker) Location() *time.Location {
	return t.location
}

// Evaluate exposes the pure pipeline for one (account, task) pair.
func (t *Tracker) Evaluate(task *engine.TaskDefinition, account *engine.Account, now time.Time) (engine.TaskContext, bool) {
	return engine.EvaluateTask(task, account, now, t.location)
}

// TaskView is one active task on an account's board.
type TaskView struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Category         string          `json:"category,omitempty"`
	TrackingMode     string          `json:"tracking_mode"`
	PeriodKey        string          `json:"period_key"`
	EffectiveGoal    int             `json:"effective_goal"`
	ConsumesResource string          `json:"consumes_resource,omitempty"`
	Status           engine.Status   `json:"status"`
	Progress         json.RawMessage `json:"progress"`
}

// PoolView is one account's pool balance.
type PoolView struct {
	Resource        string `json:"resource"`
	CurrentValue    int    `json:"current_value"`
	MaxValue        int    `json:"max_value"`
	ResetRule       string `json:"reset_rule"`
	LastResetPeriod string `json:"last_reset_period"`
}

// AccountBoard is the dashboard row for one account.
type AccountBoard struct {
	AccountID string     `json:"account_id"`
	Nickname  string     `json:"nickname"`
	Goals     []string   `json:"goals"`
	Tasks     []TaskView `json:"tasks"`
	Pools     []PoolView `json:"pools"`
}

// Dashboard evaluates every (account, task) pair at now and returns the
// per-account board of active tasks plus pool balances. Inactive tasks
// are omitted, matching the gate semantics: no period key, no row.
func (t *Tracker) Dashboard(ctx context.Context, now time.Time) ([]AccountBoard, error) {
	accounts, err := t.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	tasks, err := t.store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	statuses, err := t.store.ListAllStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	index := make(map[engine.StatusKey]*engine.TaskStatusRecord, len(statuses))
	for _, rec := range statuses {
		index[rec.Key] = rec
	}

	boards := make([]AccountBoard, 0, len(accounts))
	for _, account := range accounts {
		board := AccountBoard{
			AccountID: account.ID,
			Nickname:  account.Nickname,
			Goals:     account.GoalTags(),
			Tasks:     make([]TaskView, 0, len(tasks)),
		}
		for _, task := range tasks {
			tc, active := engine.EvaluateTask(task, account, now, t.location)
			if !active {
				continue
			}
			view := TaskView{
				ID:               task.ID,
				Name:             task.Name,
				Category:         task.Category,
				TrackingMode:     string(task.TrackingMode),
				PeriodKey:        tc.PeriodKey,
				EffectiveGoal:    tc.EffectiveGoal,
				ConsumesResource: task.ConsumesResource,
				Status:           engine.StatusIncomplete,
				Progress:         json.RawMessage(`{}`),
			}
			key := engine.StatusKey{AccountID: account.ID, TaskID: task.ID, PeriodKey: tc.PeriodKey}
			if rec, ok := index[key]; ok {
				view.Status = rec.Status
				if len(rec.Progress) > 0 {
					view.Progress = rec.Progress
				}
			}
			board.Tasks = append(board.Tasks, view)
		}
		pools, err := t.AccountPools(ctx, account.ID, now)
		if err != nil {
			return nil, err
		}
		board.Pools = pools
		boards = append(boards, board)
	}
	return boards, nil
}

// AccountPools materializes and refreshes every pool instance for one
// account. Instances are lazily created full; a stale instance is
// refilled on access (pull-based reset, no background sweep).
func (t *Tracker) AccountPools(ctx context.Context, accountID string, now time.Time) ([]PoolView, error) {
	templates, err := t.store.ListPoolTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pool templates: %w", err)
	}
	views := make([]PoolView, 0, len(templates))
	for _, tpl := range templates {
		inst, err := t.ensurePool(ctx, t.store.DB, accountID, tpl, now)
		if err != nil {
			return nil, err
		}
		views = append(views, poolView(inst))
	}
	return views, nil
}

// UpdateOutcome is the committed result of one progress update.
type UpdateOutcome struct {
	Key           engine.StatusKey
	Status        engine.Status
	Progress      json.RawMessage
	ResourceDelta int
	Pool          *engine.PoolInstance
}

// ApplyUpdate validates and commits a single progress update: gate and
// schedule first, then one transaction covering the status upsert and,
// for consuming tasks with a positive delta, the pool decrement. The
// dual write never spans two transactions.
func (t *Tracker) ApplyUpdate(ctx context.Context, accountID, taskID string, progress json.RawMessage, now time.Time) (*UpdateOutcome, error) {
	task, err := t.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	account, err := t.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	tc, active := engine.EvaluateTask(task, account, now, t.location)
	if !active {
		return nil, ErrTaskInactive
	}

	// The template read stays outside the transaction: the store holds a
	// single connection and a nested DB query would deadlock against it.
	var tpl *engine.PoolTemplate
	if task.ConsumesResource != "" {
		tpl, err = t.store.GetPoolTemplate(ctx, task.ConsumesResource)
		if errors.Is(err, store.ErrPoolTemplateNotFound) {
			t.logger.Warn("task references unknown resource pool",
				"task_id", task.ID, "resource", task.ConsumesResource)
			tpl = nil
		} else if err != nil {
			return nil, err
		}
	}

	var out *UpdateOutcome
	err = t.store.InTx(ctx, func(q store.Querier) error {
		key := engine.StatusKey{AccountID: accountID, TaskID: taskID, PeriodKey: tc.PeriodKey}
		prev, err := t.store.GetTaskStatus(ctx, q, key)
		if errors.Is(err, store.ErrStatusNotFound) {
			prev = nil
		} else if err != nil {
			return err
		}
		res, err := engine.ApplyProgress(task.TrackingMode, tc.EffectiveGoal, prev, progress)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProgress, err)
		}
		rec := &engine.TaskStatusRecord{Key: key, Status: res.Status, Progress: res.Progress}
		if err := t.store.UpsertTaskStatus(ctx, q, rec); err != nil {
			return err
		}
		out = &UpdateOutcome{
			Key:           key,
			Status:        res.Status,
			Progress:      res.Progress,
			ResourceDelta: res.ResourceDelta,
		}
		if tpl != nil && res.ResourceDelta > 0 {
			inst, err := t.ensurePool(ctx, q, accountID, tpl, now)
			if err != nil {
				return err
			}
			inst.Consume(res.ResourceDelta)
			if err := t.store.UpsertPoolInstance(ctx, q, inst); err != nil {
				return err
			}
			out.Pool = inst
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns past cycles of one task for one account, newest first.
func (t *Tracker) History(ctx context.Context, accountID, taskID string, limit, offset int) ([]*engine.TaskStatusRecord, error) {
	if _, err := t.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if _, err := t.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return t.store.ListStatusHistory(ctx, accountID, taskID, limit, offset)
}

func (t *Tracker) ensurePool(ctx context.Context, q store.Querier, accountID string, tpl *engine.PoolTemplate, now time.Time) (*engine.PoolInstance, error) {
	key := engine.PoolKey{AccountID: accountID, Resource: tpl.Name}
	inst, err := t.store.GetPoolInstance(ctx, q, key)
	switch {
	case errors.Is(err, store.ErrPoolInstanceNotFound):
		inst = engine.NewPoolInstance(accountID, tpl, now, t.location)
		if err := t.store.UpsertPoolInstance(ctx, q, inst); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if inst.EnsureCurrent(now, t.location) {
			if err := t.store.UpsertPoolInstance(ctx, q, inst); err != nil {
				return nil, err
			}
		}
	}
	return inst, nil
}

func poolView(inst *engine.PoolInstance) PoolView {
	return PoolView{
		Resource:        inst.Key.Resource,
		CurrentValue:    inst.CurrentValue,
		MaxValue:        inst.MaxValue,
		ResetRule:       string(inst.Reset),
		LastResetPeriod: inst.LastResetPeriod,
	}
}
