package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"idm-connector/internal/entity"
	"idm-connector/internal/models"
)

const accountColumns = "account_id, username, full_name, email, is_active, created_at, last_modified_at"

// CreateAccount inserts an account and returns its generated id.
func (s *Store) CreateAccount(ctx context.Context, in models.AccountInput) (string, error) {
	if in.Username == nil || strings.TrimSpace(*in.Username) == "" {
		return "", fmt.Errorf("username is required")
	}

	isActive := true
	if in.IsActive != nil {
		isActive = *in.IsActive
	}
	now := s.stamp()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (username, full_name, email, is_active, created_at, last_modified_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		*in.Username, deref(in.FullName), deref(in.Email), isActive, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to create account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("failed to create account: no generated key returned: %w", err)
	}

	s.logger.Infof("Created account %d (%s)", id, *in.Username)
	return strconv.FormatInt(id, 10), nil
}

// GetAccount returns one account with its memberships.
func (s *Store) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	aid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE account_id = ?", aid)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	members, err := related(ctx, s.db, entity.Account, []string{acc.ID})
	if err != nil {
		return nil, err
	}
	acc.MemberOf = nonNil(members[acc.ID])
	return &acc, nil
}

// ListAccounts searches accounts ordered by id.
func (s *Store) ListAccounts(ctx context.Context, opts ListOptions) ([]models.Account, error) {
	clause, args := listClause(opts, "username", "account_id")
	rows, err := s.db.QueryContext(ctx, "SELECT "+accountColumns+" FROM accounts"+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	ids := make([]string, len(accounts))
	for i := range accounts {
		ids[i] = accounts[i].ID
	}
	members, err := related(ctx, s.db, entity.Account, ids)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		accounts[i].MemberOf = nonNil(members[accounts[i].ID])
	}
	return accounts, nil
}

// UpdateAccount sets the non-nil fields of in.
func (s *Store) UpdateAccount(ctx context.Context, id string, in models.AccountInput) error {
	aid, err := parseID(id)
	if err != nil {
		return err
	}

	var (
		sets []string
		args []any
	)
	if in.Username != nil {
		if strings.TrimSpace(*in.Username) == "" {
			return fmt.Errorf("username must not be empty")
		}
		sets, args = append(sets, "username = ?"), append(args, *in.Username)
	}
	if in.FullName != nil {
		sets, args = append(sets, "full_name = ?"), append(args, *in.FullName)
	}
	if in.Email != nil {
		sets, args = append(sets, "email = ?"), append(args, *in.Email)
	}
	if in.IsActive != nil {
		sets, args = append(sets, "is_active = ?"), append(args, *in.IsActive)
	}
	if len(sets) == 0 {
		return fmt.Errorf("no attributes to update")
	}
	sets, args = append(sets, "last_modified_at = ?"), append(args, s.stamp(), aid)

	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET "+strings.Join(sets, ", ")+" WHERE account_id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	s.logger.Infof("Updated account %s", id)
	return nil
}

// DeleteAccount removes an account and its memberships. The permissions it
// belonged to are stamped as modified since their member lists shrink.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	aid, err := parseID(id)
	if err != nil {
		return err
	}

	now := s.stamp()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		members, err := related(ctx, tx, entity.Account, []string{strconv.FormatInt(aid, 10)})
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM accounts WHERE account_id = ?", aid)
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("account %s: %w", id, ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM account_permissions WHERE account_id = ?", aid); err != nil {
			return fmt.Errorf("failed to delete memberships: %w", err)
		}

		for _, uid := range members[strconv.FormatInt(aid, 10)] {
			pid, err := parseID(uid)
			if err != nil {
				return err
			}
			if err := touch(ctx, tx, entity.Permission, now, pid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Infof("Deleted account %s", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var (
		acc               models.Account
		created, modified NullTime
	)
	err := row.Scan(&acc.ID, &acc.Username, &acc.FullName, &acc.Email, &acc.IsActive, &created, &modified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return acc, err
		}
		return acc, fmt.Errorf("failed to scan account: %w", err)
	}
	acc.CreatedAt, acc.LastModifiedAt = created.Time, modified.Time
	return acc, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
