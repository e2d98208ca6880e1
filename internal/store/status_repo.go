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

var ErrStatusNotFound = errors.New("status record not found")

// GetTaskStatus loads the record for one (account, task, period) key.
// Pass s.DB or an open transaction as q.
func (s *Store) GetTaskStatus(ctx context.Context, q Querier, key engine.StatusKey) (*engine.TaskStatusRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT account_id, task_id, period_key, status, progress, updated_at
		FROM task_status
		WHERE account_id = ? AND task_id = ? AND period_key = ?
	`, key.AccountID, key.TaskID, key.PeriodKey)
	rec, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatusNotFound
		}
		return nil, err
	}
	return rec, nil
}

// UpsertTaskStatus writes the record for its composite key, overwriting
// any previous row for the same cycle. The upsert keeps the at-most-one-
// row-per-key invariant under concurrent updates.
func (s *Store) UpsertTaskStatus(ctx context.Context, q Querier, rec *engine.TaskStatusRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		INSERT INTO task_status (account_id, task_id, period_key, status, progress, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, task_id, period_key)
		DO UPDATE SET status = excluded.status, progress = excluded.progress, updated_at = excluded.updated_at
	`, rec.Key.AccountID, rec.Key.TaskID, rec.Key.PeriodKey, string(rec.Status),
		progressOrDefault(rec.Progress), rec.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert task status: %w", err)
	}
	return nil
}

// ListAllStatuses loads every status record, for dashboard assembly.
func (s *Store) ListAllStatuses(ctx context.Context) ([]*engine.TaskStatusRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT account_id, task_id, period_key, status, progress, updated_at
		FROM task_status
	`)
	if err != nil {
		return nil, fmt.Errorf("query statuses: %w", err)
	}
	defer rows.Close()
	return collectStatuses(rows)
}

// ListStatusHistory returns past cycles of one task for one account,
// newest first.
func (s *Store) ListStatusHistory(ctx context.Context, accountID, taskID string, limit, offset int) ([]*engine.TaskStatusRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT account_id, task_id, period_key, status, progress, updated_at
		FROM task_status
		WHERE account_id = ? AND task_id = ?
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`, accountID, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()
	return collectStatuses(rows)
}

// PruneStatusesBefore deletes records not touched since the cutoff.
// Records of open cycles are refreshed on every update, so only closed
// history ages out.
func (s *Store) PruneStatusesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM task_status WHERE updated_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune statuses: %w", err)
	}
	return res.RowsAffected()
}

func collectStatuses(rows *sql.Rows) ([]*engine.TaskStatusRecord, error) {
	var records []*engine.TaskStatusRecord
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanStatus(scanner interface {
	Scan(dest ...any) error
}) (*engine.TaskStatusRecord, error) {
	var (
		accountID string
		taskID    string
		periodKey string
		status    string
		progress  string
		updatedAt string
	)
	if err := scanner.Scan(&accountID, &taskID, &periodKey, &status, &progress, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan status: %w", err)
	}
	return &engine.TaskStatusRecord{
		Key:       engine.StatusKey{AccountID: accountID, TaskID: taskID, PeriodKey: periodKey},
		Status:    engine.Status(status),
		Progress:  json.RawMessage(progress),
		UpdatedAt: mustParseTime(updatedAt),
	}, nil
}

func progressOrDefault(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
