package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"questtab/internal/engine"
)

var ErrTaskNotFound = errors.New("task not found")

func (s *Store) InsertTask(ctx context.Context, task *engine.TaskDefinition) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (id, name, category, schedule_rule, tracking_mode, tracking_config,
			activation_condition, consumes_resource, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Name, task.Category, string(task.ScheduleRaw), string(task.TrackingMode),
		trackingRawOrDefault(task.TrackingRaw), nullableString(string(task.ActivationRaw)),
		nullableString(task.ConsumesResource),
		task.CreatedAt.Format(time.RFC3339Nano), task.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task name %q: %w", task.Name, ErrDuplicate)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, task *engine.TaskDefinition) error {
	task.UpdatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET name = ?, category = ?, schedule_rule = ?, tracking_mode = ?, tracking_config = ?,
			activation_condition = ?, consumes_resource = ?, updated_at = ?
		WHERE id = ?
	`, task.Name, task.Category, string(task.ScheduleRaw), string(task.TrackingMode),
		trackingRawOrDefault(task.TrackingRaw), nullableString(string(task.ActivationRaw)),
		nullableString(task.ConsumesResource), task.UpdatedAt.Format(time.RFC3339Nano), task.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task name %q: %w", task.Name, ErrDuplicate)
		}
		return fmt.Errorf("update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows: %w", err)
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*engine.TaskDefinition, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, category, schedule_rule, tracking_mode, tracking_config,
			activation_condition, consumes_resource, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]*engine.TaskDefinition, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, category, schedule_rule, tracking_mode, tracking_config,
			activation_condition, consumes_resource, created_at, updated_at
		FROM tasks
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*engine.TaskDefinition
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*engine.TaskDefinition, error) {
	var (
		id         string
		name       string
		category   string
		schedule   string
		mode       string
		tracking   string
		activation sql.NullString
		consumes   sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := scanner.Scan(&id, &name, &category, &schedule, &mode, &tracking,
		&activation, &consumes, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task := &engine.TaskDefinition{
		ID:           id,
		Name:         name,
		Category:     category,
		TrackingMode: engine.TrackingMode(mode),
		ScheduleRaw:  json.RawMessage(schedule),
		TrackingRaw:  json.RawMessage(tracking),
		CreatedAt:    mustParseTime(createdAt),
		UpdatedAt:    mustParseTime(updatedAt),
	}
	if consumes.Valid {
		task.ConsumesResource = consumes.String
	}
	// Rows were validated at creation time; a decode failure here means
	// the stored payload predates a rule kind we no longer know, which
	// the engine treats as permanently inactive.
	rule, err := engine.DecodeScheduleRule(task.ScheduleRaw)
	if err != nil {
		rule = engine.UnknownRule{}
	}
	task.Schedule = rule
	if cfg, err := engine.DecodeTrackingConfig(task.TrackingRaw, task.TrackingMode); err == nil {
		task.Tracking = cfg
	}
	if activation.Valid && activation.String != "" {
		task.ActivationRaw = json.RawMessage(activation.String)
		if cond, err := engine.DecodeActivationCondition(task.ActivationRaw); err == nil {
			task.Activation = cond
		} else {
			// Unknown condition shape gates the task off entirely.
			task.Activation = &engine.ActivationCondition{}
		}
	}
	return task, nil
}

func trackingRawOrDefault(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
