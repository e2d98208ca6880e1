package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"questtab/internal/engine"
)

var (
	ErrPoolTemplateNotFound = errors.New("pool template not found")
	ErrPoolInstanceNotFound = errors.New("pool instance not found")
)

func (s *Store) InsertPoolTemplate(ctx context.Context, tpl *engine.PoolTemplate) error {
	tpl.CreatedAt = time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO pool_templates (name, max_value, reset_rule, created_at)
		VALUES (?, ?, ?, ?)
	`, tpl.Name, tpl.MaxValue, string(tpl.Reset), tpl.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pool %q: %w", tpl.Name, ErrDuplicate)
		}
		return fmt.Errorf("insert pool template: %w", err)
	}
	return nil
}

func (s *Store) GetPoolTemplate(ctx context.Context, name string) (*engine.PoolTemplate, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT name, max_value, reset_rule, created_at
		FROM pool_templates WHERE name = ?
	`, name)
	tpl, err := scanPoolTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPoolTemplateNotFound
		}
		return nil, err
	}
	return tpl, nil
}

func (s *Store) ListPoolTemplates(ctx context.Context) ([]*engine.PoolTemplate, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT name, max_value, reset_rule, created_at
		FROM pool_templates
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pool templates: %w", err)
	}
	defer rows.Close()
	var templates []*engine.PoolTemplate
	for rows.Next() {
		tpl, err := scanPoolTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return templates, nil
}

// GetPoolInstance loads one account's instance of a pool.
func (s *Store) GetPoolInstance(ctx context.Context, q Querier, key engine.PoolKey) (*engine.PoolInstance, error) {
	row := q.QueryRowContext(ctx, `
		SELECT account_id, resource_name, current_value, max_value, reset_rule, last_reset_period, updated_at
		FROM pool_instances
		WHERE account_id = ? AND resource_name = ?
	`, key.AccountID, key.Resource)
	inst, err := scanPoolInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPoolInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

// UpsertPoolInstance writes the instance for its composite key. The
// upsert avoids lost-update races when two requests lazily create or
// reset the same row.
func (s *Store) UpsertPoolInstance(ctx context.Context, q Querier, inst *engine.PoolInstance) error {
	inst.UpdatedAt = time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		INSERT INTO pool_instances (account_id, resource_name, current_value, max_value, reset_rule, last_reset_period, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, resource_name)
		DO UPDATE SET current_value = excluded.current_value, max_value = excluded.max_value,
			reset_rule = excluded.reset_rule, last_reset_period = excluded.last_reset_period,
			updated_at = excluded.updated_at
	`, inst.Key.AccountID, inst.Key.Resource, inst.CurrentValue, inst.MaxValue,
		string(inst.Reset), inst.LastResetPeriod, inst.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert pool instance: %w", err)
	}
	return nil
}

// ListPoolInstances loads every materialized pool for one account.
func (s *Store) ListPoolInstances(ctx context.Context, accountID string) ([]*engine.PoolInstance, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT account_id, resource_name, current_value, max_value, reset_rule, last_reset_period, updated_at
		FROM pool_instances
		WHERE account_id = ?
		ORDER BY resource_name ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query pool instances: %w", err)
	}
	defer rows.Close()
	var instances []*engine.PoolInstance
	for rows.Next() {
		inst, err := scanPoolInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return instances, nil
}

func scanPoolTemplate(scanner interface {
	Scan(dest ...any) error
}) (*engine.PoolTemplate, error) {
	var (
		name      string
		maxValue  int
		resetRule string
		createdAt string
	)
	if err := scanner.Scan(&name, &maxValue, &resetRule, &createdAt); err != nil {
		return nil, fmt.Errorf("scan pool template: %w", err)
	}
	return &engine.PoolTemplate{
		Name:      name,
		MaxValue:  maxValue,
		Reset:     engine.ResetRule(resetRule),
		CreatedAt: mustParseTime(createdAt),
	}, nil
}

func scanPoolInstance(scanner interface {
	Scan(dest ...any) error
}) (*engine.PoolInstance, error) {
	var (
		accountID    string
		resource     string
		currentValue int
		maxValue     int
		resetRule    string
		lastReset    string
		updatedAt    string
	)
	if err := scanner.Scan(&accountID, &resource, &currentValue, &maxValue, &resetRule, &lastReset, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan pool instance: %w", err)
	}
	return &engine.PoolInstance{
		Key:             engine.PoolKey{AccountID: accountID, Resource: resource},
		CurrentValue:    currentValue,
		MaxValue:        maxValue,
		Reset:           engine.ResetRule(resetRule),
		LastResetPeriod: lastReset,
		UpdatedAt:       mustParseTime(updatedAt),
	}, nil
}
