package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// Schedule rule kinds as they appear in the stored JSON envelope.
const (
	KindDaily       = "daily"
	KindWeeklyWin   = "weekly_window"
	KindWeeklyReset = "simple_weekly_reset"
	KindMultiPeriod = "multi_period"
	KindDateRange   = "date_range"
)

// WeekPoint is a day of week (1=Monday .. 7=Sunday) plus an hour of day.
type WeekPoint struct {
	Day  int `json:"day"`
	Hour int `json:"hour"`
}

func (p WeekPoint) validate() error {
	if p.Day < 1 || p.Day > 7 {
		return fmt.Errorf("day must be 1..7, got %d", p.Day)
	}
	if p.Hour < 0 || p.Hour > 23 {
		return fmt.Errorf("hour must be 0..23, got %d", p.Hour)
	}
	return nil
}

// WeekWindow is a recurring weekly interval. If End.Day < Start.Day the
// window wraps into the following ISO week.
type WeekWindow struct {
	Start WeekPoint `json:"start"`
	End   WeekPoint `json:"end"`
}

func (w WeekWindow) validate() error {
	if err := w.Start.validate(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := w.End.validate(); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	return nil
}

// bounds computes the concrete [start, end) instants of the window
// anchored to the ISO week containing anchor.
func (w WeekWindow) bounds(anchor time.Time, loc *time.Location) (time.Time, time.Time) {
	ws := weekStart(anchor, loc)
	start := time.Date(ws.Year(), ws.Month(), ws.Day()+(w.Start.Day-1), w.Start.Hour, 0, 0, 0, loc)
	endDay := w.End.Day - 1
	if w.End.Day < w.Start.Day {
		endDay += 7
	}
	end := time.Date(ws.Year(), ws.Month(), ws.Day()+endDay, w.End.Hour, 0, 0, 0, loc)
	return start, end
}

// ScheduleRule decides whether a task is active at a given instant and,
// if so, the period key identifying the current cycle. Implementations
// are pure and safe for concurrent use.
type ScheduleRule interface {
	Kind() string
	Validate() error
	PeriodKey(taskID string, now time.Time, loc *time.Location) (string, bool)
}

// DailyRule is always active; each task-day is its own cycle.
type DailyRule struct{}

func (DailyRule) Kind() string    { return KindDaily }
func (DailyRule) Validate() error { return nil }

func (DailyRule) PeriodKey(_ string, now time.Time, loc *time.Location) (string, bool) {
	return TaskDay(now, loc), true
}

// WeeklyWindowRule is active during one weekly window. A window that
// started in the previous ISO week and wraps past the week boundary is
// still attributed to the week it started in.
type WeeklyWindowRule struct {
	Window WeekWindow
}

func (WeeklyWindowRule) Kind() string      { return KindWeeklyWin }
func (r WeeklyWindowRule) Validate() error { return r.Window.validate() }

func (r WeeklyWindowRule) PeriodKey(_ string, now time.Time, loc *time.Location) (string, bool) {
	now = now.In(loc)
	// Evaluate the window anchored at the current week, then one week
	// earlier to catch wrapped windows still open past the boundary.
	for _, anchor := range []time.Time{now, now.AddDate(0, 0, -7)} {
		start, end := r.Window.bounds(anchor, loc)
		if !now.Before(start) && now.Before(end) {
			return WeekKey(start, loc), true
		}
	}
	return "", false
}

// WeeklyResetRule is always active; the cycle changes at one weekly reset
// point. Before the reset the task still belongs to the previous ISO
// week's cycle.
type WeeklyResetRule struct {
	Reset WeekPoint
}

func (WeeklyResetRule) Kind() string      { return KindWeeklyReset }
func (r WeeklyResetRule) Validate() error { return r.Reset.validate() }

func (r WeeklyResetRule) PeriodKey(_ string, now time.Time, loc *time.Location) (string, bool) {
	now = now.In(loc)
	ws := weekStart(now, loc)
	resetAt := time.Date(ws.Year(), ws.Month(), ws.Day()+(r.Reset.Day-1), r.Reset.Hour, 0, 0, 0, loc)
	owner := resetAt
	if now.Before(resetAt) {
		owner = resetAt.AddDate(0, 0, -7)
	}
	return WeekKey(owner, loc), true
}

// MultiWindowRule defines several weekly sub-windows; the first matching
// entry wins and contributes its one-based index to the period key.
type MultiWindowRule struct {
	Windows []WeekWindow
}

func (MultiWindowRule) Kind() string { return KindMultiPeriod }

func (r MultiWindowRule) Validate() error {
	if len(r.Windows) == 0 {
		return fmt.Errorf("multi_period needs at least one window")
	}
	for i, w := range r.Windows {
		if err := w.validate(); err != nil {
			return fmt.Errorf("window %d: %w", i+1, err)
		}
	}
	return nil
}

func (r MultiWindowRule) PeriodKey(_ string, now time.Time, loc *time.Location) (string, bool) {
	now = now.In(loc)
	for i, w := range r.Windows {
		start, end := w.bounds(now, loc)
		if !now.Before(start) && now.Before(end) {
			return fmt.Sprintf("%s-%d", WeekKey(start, loc), i+1), true
		}
	}
	return "", false
}

// DateRangeRule is active during one fixed interval, independent of
// weekly cycling. The period key is constant for the task's lifetime so
// a long-running event keeps a single continuous status record.
type DateRangeRule struct {
	Start time.Time
	End   time.Time
}

func (DateRangeRule) Kind() string { return KindDateRange }

func (r DateRangeRule) Validate() error {
	if !r.End.After(r.Start) {
		return fmt.Errorf("date_range end must be after start")
	}
	return nil
}

func (r DateRangeRule) PeriodKey(taskID string, now time.Time, _ *time.Location) (string, bool) {
	if !now.Before(r.Start) && now.Before(r.End) {
		return "event-" + taskID, true
	}
	return "", false
}

// UnknownRule stands in for a rule whose type tag is not recognized. It
// never matches, so the task simply has no effect instead of failing.
type UnknownRule struct {
	Type string
}

func (r UnknownRule) Kind() string  { return r.Type }
func (UnknownRule) Validate() error { return nil }

func (UnknownRule) PeriodKey(string, time.Time, *time.Location) (string, bool) {
	return "", false
}

type ruleEnvelope struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

type dateRangeConfig struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type multiPeriodConfig struct {
	Windows []WeekWindow `json:"windows"`
}

// DecodeScheduleRule parses the tagged JSON form of a schedule rule.
// Malformed payloads are an error; an unrecognized type tag decodes to
// UnknownRule so evaluation degrades to "never active".
func DecodeScheduleRule(raw []byte) (ScheduleRule, error) {
	var env ruleEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse schedule rule: %w", err)
	}
	var rule ScheduleRule
	switch env.Type {
	case KindDaily:
		rule = DailyRule{}
	case KindWeeklyWin:
		var w WeekWindow
		if err := json.Unmarshal(env.Config, &w); err != nil {
			return nil, fmt.Errorf("parse weekly_window config: %w", err)
		}
		rule = WeeklyWindowRule{Window: w}
	case KindWeeklyReset:
		var p WeekPoint
		if err := json.Unmarshal(env.Config, &p); err != nil {
			return nil, fmt.Errorf("parse simple_weekly_reset config: %w", err)
		}
		rule = WeeklyResetRule{Reset: p}
	case KindMultiPeriod:
		var cfg multiPeriodConfig
		if err := json.Unmarshal(env.Config, &cfg); err != nil {
			return nil, fmt.Errorf("parse multi_period config: %w", err)
		}
		rule = MultiWindowRule{Windows: cfg.Windows}
	case KindDateRange:
		var cfg dateRangeConfig
		if err := json.Unmarshal(env.Config, &cfg); err != nil {
			return nil, fmt.Errorf("parse date_range config: %w", err)
		}
		rule = DateRangeRule{Start: cfg.Start, End: cfg.End}
	default:
		return UnknownRule{Type: env.Type}, nil
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s rule: %w", env.Type, err)
	}
	return rule, nil
}
