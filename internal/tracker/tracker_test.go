package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"questtab/internal/engine"
	"questtab/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir(), 90)
	if err != nil {
		t.Fatalf("store.Open() err = %v, want nil", err)
	}
	t.Cleanup(func() { s.DB.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(s, logger, time.UTC), s
}

func insertAccount(t *testing.T, s *store.Store, id, nickname, goals string) {
	t.Helper()
	if err := s.InsertAccount(context.Background(), &engine.Account{ID: id, Nickname: nickname, Goals: goals}); err != nil {
		t.Fatalf("InsertAccount() err = %v, want nil", err)
	}
}

func insertTask(t *testing.T, s *store.Store, task *engine.TaskDefinition) {
	t.Helper()
	if err := s.InsertTask(context.Background(), task); err != nil {
		t.Fatalf("InsertTask() err = %v, want nil", err)
	}
}

func insertPool(t *testing.T, s *store.Store, name string, max int, reset engine.ResetRule) {
	t.Helper()
	if err := s.InsertPoolTemplate(context.Background(), &engine.PoolTemplate{
		Name: name, MaxValue: max, Reset: reset,
	}); err != nil {
		t.Fatalf("InsertPoolTemplate() err = %v, want nil", err)
	}
}

func TestApplyUpdate_BooleanConsumesOnce(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	insertAccount(t, s, "a1", "main", "")
	insertPool(t, s, "stamina", 240, engine.ResetDaily)
	insertTask(t, s, &engine.TaskDefinition{
		ID:               "t1",
		Name:             "daily login",
		TrackingMode:     engine.TrackBoolean,
		Schedule:         engine.DailyRule{},
		ScheduleRaw:      json.RawMessage(`{"type":"daily"}`),
		ConsumesResource: "stamina",
	})

	out, err := tr.ApplyUpdate(ctx, "a1", "t1", json.RawMessage(`{"completed":true}`), now)
	if err != nil {
		t.Fatalf("ApplyUpdate() err = %v, want nil", err)
	}
	if out.Status != engine.StatusCompleted {
		t.Fatalf("status = %s, want completed", out.Status)
	}
	if out.Key.PeriodKey != "2024-03-05" {
		t.Fatalf("period key = %q, want 2024-03-05", out.Key.PeriodKey)
	}
	if out.Pool == nil || out.Pool.CurrentValue != 239 {
		t.Fatalf("pool = %+v, want balance 239", out.Pool)
	}

	// Re-submitting completion within the same cycle does not consume again.
	out, err = tr.ApplyUpdate(ctx, "a1", "t1", json.RawMessage(`{"completed":true}`), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ApplyUpdate() second err = %v, want nil", err)
	}
	if out.ResourceDelta != 0 || out.Pool != nil {
		t.Fatalf("repeat completion = delta %d pool %+v, want 0 and no pool write", out.ResourceDelta, out.Pool)
	}
	inst, err := s.GetPoolInstance(ctx, s.DB, engine.PoolKey{AccountID: "a1", Resource: "stamina"})
	if err != nil {
		t.Fatalf("GetPoolInstance() err = %v, want nil", err)
	}
	if inst.CurrentValue != 239 {
		t.Fatalf("balance = %d, want 239", inst.CurrentValue)
	}
}

func TestApplyUpdate_CounterWithOverrideGoal(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	insertAccount(t, s, "a1", "main", "push-valk")
	insertPool(t, s, "stamina", 240, engine.ResetDaily)
	insertTask(t, s, &engine.TaskDefinition{
		ID:               "t1",
		Name:             "stages",
		TrackingMode:     engine.TrackCounter,
		Schedule:         engine.DailyRule{},
		ScheduleRaw:      json.RawMessage(`{"type":"daily"}`),
		TrackingRaw:      json.RawMessage(`{"goal":3,"overrides":[{"if_goal_contains":"push-valk","new_goal":5}]}`),
		ConsumesResource: "stamina",
	})

	out, err := tr.ApplyUpdate(ctx, "a1", "t1", json.RawMessage(`{"current":3}`), now)
	if err != nil {
		t.Fatalf("ApplyUpdate() err = %v, want nil", err)
	}
	// The override raises the goal to 5, so 3 is not complete yet.
	if out.Status != engine.StatusIncomplete {
		t.Fatalf("status = %s, want incomplete", out.Status)
	}
	if out.ResourceDelta != 3 || out.Pool.CurrentValue != 237 {
		t.Fatalf("delta %d balance %d, want 3 and 237", out.ResourceDelta, out.Pool.CurrentValue)
	}

	out, err = tr.ApplyUpdate(ctx, "a1", "t1", json.RawMessage(`{"current":5}`), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ApplyUpdate() err = %v, want nil", err)
	}
	if out.Status != engine.StatusCompleted {
		t.Fatalf("status = %s, want completed", out.Status)
	}
	if out.ResourceDelta != 2 || out.Pool.CurrentValue != 235 {
		t.Fatalf("delta %d balance %d, want 2 and 235", out.ResourceDelta, out.Pool.CurrentValue)
	}

	// Downward corrections never refund the pool.
	out, err = tr.ApplyUpdate(ctx, "a1", "t1", json.RawMessage(`{"current":4}`), now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ApplyUpdate() err = %v, want nil", err)
	}
	if out.Status != engine.StatusIncomplete || out.ResourceDelta != -1 {
		t.Fatalf("correction = (%s, delta %d), want (incomplete, -1)", out.Status, out.ResourceDelta)
	}
	inst, _ := s.GetPoolInstance(ctx, s.DB, engine.PoolKey{AccountID: "a1", Resource: "stamina"})
	if inst.CurrentValue != 235 {
		t.Fatalf("balance = %d after correction, want 235", inst.CurrentValue)
	}
}

func TestApplyUpdate_RejectsInactiveTask(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()

	insertAccount(t, s, "a1", "main", "casual")
	insertTask(t, s, &engine.TaskDefinition{
		ID:            "t1",
		Name:          "valk stage",
		TrackingMode:  engine.TrackBoolean,
		Schedule:      engine.DailyRule{},
		ScheduleRaw:   json.RawMessage(`{"type":"daily"}`),
		ActivationRaw: json.RawMessage(`{"type":"goal_dependency","contains":"push-valk"}`),
	})

	_, err := tr.ApplyUpdate(ctx, "a1", "t1", json.RawMessage(`{"completed":true}`), time.Now())
	if !errors.Is(err, ErrTaskInactive) {
		t.Fatalf("ApplyUpdate() err = %v, want ErrTaskInactive", err)
	}
	// No status row may exist for a rejected update.
	all, err := s.ListAllStatuses(ctx)
	if err != nil {
		t.Fatalf("ListAllStatuses() err = %v, want nil", err)
	}
	if len(all) != 0 {
		t.Fatalf("statuses = %d, want 0", len(all))
	}
}

func TestApplyUpdate_InvalidProgress(t *testing.T) {
	tr, s := newTestTracker(t)

	insertAccount(t, s, "a1", "main", "")
	insertTask(t, s, &engine.TaskDefinition{
		ID:           "t1",
		Name:         "daily login",
		TrackingMode: engine.TrackCounter,
		Schedule:     engine.DailyRule{},
		ScheduleRaw:  json.RawMessage(`{"type":"daily"}`),
	})

	_, err := tr.ApplyUpdate(context.Background(), "a1", "t1", json.RawMessage(`[]`), time.Now())
	if !errors.Is(err, ErrInvalidProgress) {
		t.Fatalf("ApplyUpdate() err = %v, want ErrInvalidProgress", err)
	}
}

func TestApplyUpdate_UnknownIDs(t *testing.T) {
	tr, s := newTestTracker(t)
	insertAccount(t, s, "a1", "main", "")

	_, err := tr.ApplyUpdate(context.Background(), "a1", "ghost", json.RawMessage(`{"completed":true}`), time.Now())
	if !errors.Is(err, store.ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}

	insertTask(t, s, &engine.TaskDefinition{
		ID:           "t1",
		Name:         "daily login",
		TrackingMode: engine.TrackBoolean,
		Schedule:     engine.DailyRule{},
		ScheduleRaw:  json.RawMessage(`{"type":"daily"}`),
	})
	_, err = tr.ApplyUpdate(context.Background(), "ghost", "t1", json.RawMessage(`{"completed":true}`), time.Now())
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestAccountPools_LazyCreateAndRefill(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()

	insertAccount(t, s, "a1", "main", "")
	insertPool(t, s, "stamina", 240, engine.ResetDaily)

	day1 := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	views, err := tr.AccountPools(ctx, "a1", day1)
	if err != nil {
		t.Fatalf("AccountPools() err = %v, want nil", err)
	}
	if len(views) != 1 || views[0].CurrentValue != 240 {
		t.Fatalf("views = %+v, want one full pool", views)
	}

	// Drain, then confirm the balance holds within the same task-day and
	// refills exactly once after the cutover.
	inst, _ := s.GetPoolInstance(ctx, s.DB, engine.PoolKey{AccountID: "a1", Resource: "stamina"})
	inst.Consume(200)
	if err := s.UpsertPoolInstance(ctx, s.DB, inst); err != nil {
		t.Fatalf("UpsertPoolInstance() err = %v, want nil", err)
	}

	views, _ = tr.AccountPools(ctx, "a1", day1.Add(2*time.Hour))
	if views[0].CurrentValue != 40 {
		t.Fatalf("balance = %d within the day, want 40", views[0].CurrentValue)
	}

	day2 := time.Date(2024, 3, 6, 5, 0, 0, 0, time.UTC)
	views, _ = tr.AccountPools(ctx, "a1", day2)
	if views[0].CurrentValue != 240 || views[0].LastResetPeriod != "2024-03-06" {
		t.Fatalf("after cutover = %d (%q), want 240 (2024-03-06)", views[0].CurrentValue, views[0].LastResetPeriod)
	}
	views, _ = tr.AccountPools(ctx, "a1", day2.Add(time.Hour))
	if views[0].CurrentValue != 240 {
		t.Fatalf("second access refilled again: %d", views[0].CurrentValue)
	}
}

func TestDashboard_OmitsInactiveTasks(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	insertAccount(t, s, "a1", "pusher", "push-valk")
	insertAccount(t, s, "a2", "casual", "")
	insertPool(t, s, "stamina", 240, engine.ResetDaily)
	insertTask(t, s, &engine.TaskDefinition{
		ID:           "t1",
		Name:         "daily login",
		TrackingMode: engine.TrackBoolean,
		Schedule:     engine.DailyRule{},
		ScheduleRaw:  json.RawMessage(`{"type":"daily"}`),
	})
	insertTask(t, s, &engine.TaskDefinition{
		ID:            "t2",
		Name:          "valk stage",
		TrackingMode:  engine.TrackCounter,
		Schedule:      engine.DailyRule{},
		ScheduleRaw:   json.RawMessage(`{"type":"daily"}`),
		TrackingRaw:   json.RawMessage(`{"goal":3}`),
		ActivationRaw: json.RawMessage(`{"type":"goal_dependency","contains":"push-valk"}`),
	})

	if _, err := tr.ApplyUpdate(ctx, "a1", "t1", json.RawMessage(`{"completed":true}`), now); err != nil {
		t.Fatalf("ApplyUpdate() err = %v, want nil", err)
	}

	boards, err := tr.Dashboard(ctx, now)
	if err != nil {
		t.Fatalf("Dashboard() err = %v, want nil", err)
	}
	if len(boards) != 2 {
		t.Fatalf("boards = %d, want 2", len(boards))
	}

	byNick := map[string]AccountBoard{}
	for _, b := range boards {
		byNick[b.Nickname] = b
	}

	pusher := byNick["pusher"]
	if len(pusher.Tasks) != 2 {
		t.Fatalf("pusher tasks = %d, want 2", len(pusher.Tasks))
	}
	casual := byNick["casual"]
	if len(casual.Tasks) != 1 {
		t.Fatalf("casual tasks = %d, want 1 (gated task omitted)", len(casual.Tasks))
	}
	if casual.Tasks[0].ID != "t1" {
		t.Fatalf("casual task = %s, want t1", casual.Tasks[0].ID)
	}

	for _, task := range pusher.Tasks {
		switch task.ID {
		case "t1":
			if task.Status != engine.StatusCompleted {
				t.Fatalf("t1 status = %s, want completed", task.Status)
			}
		case "t2":
			if task.Status != engine.StatusIncomplete || task.EffectiveGoal != 3 {
				t.Fatalf("t2 = %+v, want incomplete with goal 3", task)
			}
		}
	}
	if len(pusher.Pools) != 1 || pusher.Pools[0].CurrentValue != 240 {
		t.Fatalf("pusher pools = %+v, want one full stamina pool", pusher.Pools)
	}
}

func TestHistory_ValidatesIDs(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	insertAccount(t, s, "a1", "main", "")
	insertTask(t, s, &engine.TaskDefinition{
		ID:           "t1",
		Name:         "daily login",
		TrackingMode: engine.TrackBoolean,
		Schedule:     engine.DailyRule{},
		ScheduleRaw:  json.RawMessage(`{"type":"daily"}`),
	})

	if _, err := tr.History(ctx, "ghost", "t1", 10, 0); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("History() err = %v, want ErrAccountNotFound", err)
	}
	if _, err := tr.History(ctx, "a1", "ghost", 10, 0); !errors.Is(err, store.ErrTaskNotFound) {
		t.Fatalf("History() err = %v, want ErrTaskNotFound", err)
	}

	// Two task-days produce two cycles, newest first.
	if _, err := tr.ApplyUpdate(ctx, "a1", "t1", json.RawMessage(`{"completed":true}`), now); err != nil {
		t.Fatalf("ApplyUpdate() err = %v, want nil", err)
	}
	if _, err := tr.ApplyUpdate(ctx, "a1", "t1", json.RawMessage(`{"completed":true}`), now.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("ApplyUpdate() err = %v, want nil", err)
	}
	records, err := tr.History(ctx, "a1", "t1", 10, 0)
	if err != nil {
		t.Fatalf("History() err = %v, want nil", err)
	}
	if len(records) != 2 {
		t.Fatalf("history = %d, want 2", len(records))
	}
}
