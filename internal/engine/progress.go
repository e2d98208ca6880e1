package engine

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownTrackingMode = errors.New("unknown tracking mode")

// CounterProgress is the stored progress payload of counter tasks. The
// goal is the effective goal at update time; it is recomputed on every
// evaluation, not frozen here.
type CounterProgress struct {
	Current int `json:"current"`
	Goal    int `json:"goal"`
}

type booleanUpdate struct {
	Completed bool `json:"completed"`
}

type counterUpdate struct {
	Current int `json:"current"`
}

type roundUpdate struct {
	RoundCompleted bool `json:"is_current_round_completed"`
}

// UpdateResult is the outcome of applying one progress update.
type UpdateResult struct {
	Status        Status
	Progress      json.RawMessage
	ResourceDelta int
}

// ApplyProgress converts a caller-submitted progress update into the new
// status, the progress payload to persist and the resource consumption
// delta. prev is the existing record for the same cycle, or nil on the
// first update; the baseline is then zero progress and incomplete.
func ApplyProgress(mode TrackingMode, effectiveGoal int, prev *TaskStatusRecord, update json.RawMessage) (UpdateResult, error) {
	prevStatus := StatusIncomplete
	if prev != nil {
		prevStatus = prev.Status
	}

	switch mode {
	case TrackBoolean:
		var in booleanUpdate
		if err := json.Unmarshal(update, &in); err != nil {
			return UpdateResult{}, fmt.Errorf("parse boolean progress: %w", err)
		}
		res := UpdateResult{Status: StatusIncomplete, Progress: json.RawMessage(`{}`)}
		if in.Completed {
			res.Status = StatusCompleted
			if prevStatus != StatusCompleted {
				res.ResourceDelta = 1
			}
		}
		return res, nil

	case TrackCounter:
		var in counterUpdate
		if err := json.Unmarshal(update, &in); err != nil {
			return UpdateResult{}, fmt.Errorf("parse counter progress: %w", err)
		}
		prevCurrent := 0
		if prev != nil && len(prev.Progress) > 0 {
			var stored CounterProgress
			if err := json.Unmarshal(prev.Progress, &stored); err == nil {
				prevCurrent = stored.Current
			}
		}
		payload, err := json.Marshal(CounterProgress{Current: in.Current, Goal: effectiveGoal})
		if err != nil {
			return UpdateResult{}, fmt.Errorf("encode counter progress: %w", err)
		}
		res := UpdateResult{
			Status:        StatusIncomplete,
			Progress:      payload,
			ResourceDelta: in.Current - prevCurrent,
		}
		if in.Current >= effectiveGoal {
			res.Status = StatusCompleted
		}
		return res, nil

	case TrackRounds:
		var in roundUpdate
		if err := json.Unmarshal(update, &in); err != nil {
			return UpdateResult{}, fmt.Errorf("parse round progress: %w", err)
		}
		// The caller owns round bookkeeping; the payload is stored
		// verbatim and no resource delta is computed.
		res := UpdateResult{Status: StatusIncomplete, Progress: update}
		if in.RoundCompleted {
			res.Status = StatusCompleted
		}
		return res, nil
	}
	return UpdateResult{}, fmt.Errorf("%w: %q", ErrUnknownTrackingMode, mode)
}
