package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"questtab/internal/engine"
)

var ErrAccountNotFound = errors.New("account not found")

// ErrDuplicate signals a uniqueness violation (nickname or task name).
var ErrDuplicate = errors.New("already exists")

func (s *Store) InsertAccount(ctx context.Context, account *engine.Account) error {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO accounts (id, nickname, username, password, goals, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, account.ID, account.Nickname, account.Username, nullableString(account.Password),
		account.Goals, account.CreatedAt.Format(time.RFC3339Nano), account.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("nickname %q: %w", account.Nickname, ErrDuplicate)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) UpdateAccount(ctx context.Context, account *engine.Account) error {
	account.UpdatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE accounts
		SET nickname = ?, username = ?, password = ?, goals = ?, updated_at = ?
		WHERE id = ?
	`, account.Nickname, account.Username, nullableString(account.Password), account.Goals,
		account.UpdatedAt.Format(time.RFC3339Nano), account.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("nickname %q: %w", account.Nickname, ErrDuplicate)
		}
		return fmt.Errorf("update account: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account rows: %w", err)
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*engine.Account, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, nickname, username, password, goals, created_at, updated_at
		FROM accounts WHERE id = ?
	`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]*engine.Account, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, nickname, username, password, goals, created_at, updated_at
		FROM accounts
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()
	var accounts []*engine.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func scanAccount(scanner interface {
	Scan(dest ...any) error
}) (*engine.Account, error) {
	var (
		id        string
		nickname  string
		username  string
		password  sql.NullString
		goals     string
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&id, &nickname, &username, &password, &goals, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	account := &engine.Account{
		ID:        id,
		Nickname:  nickname,
		Username:  username,
		Goals:     goals,
		CreatedAt: mustParseTime(createdAt),
		UpdatedAt: mustParseTime(updatedAt),
	}
	if password.Valid {
		account.Password = password.String
	}
	return account, nil
}
