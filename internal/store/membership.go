package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"idm-connector/internal/entity"
)

// ListOptions narrows a search.
type ListOptions struct {
	// Name matches username or permission code exactly when set.
	Name   string
	Limit  int
	Offset int
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("id %q: %w", id, ErrNotFound)
	}
	return n, nil
}

// Grant adds accountID to permissionUID. Granting an existing membership is
// a no-op.
func (s *Store) Grant(ctx context.Context, accountID, permissionUID string) error {
	aid, err := parseID(accountID)
	if err != nil {
		return err
	}
	pid, err := parseID(permissionUID)
	if err != nil {
		return err
	}

	now := s.stamp()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.mustExist(ctx, tx, entity.Account, aid); err != nil {
			return err
		}
		if err := s.mustExist(ctx, tx, entity.Permission, pid); err != nil {
			return err
		}

		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM account_permissions WHERE account_id = ? AND permission_uid = ?`,
			aid, pid).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if exists > 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_permissions (account_id, permission_uid, created_at) VALUES (?, ?, ?)`,
			aid, pid, now); err != nil {
			return fmt.Errorf("failed to insert membership: %w", err)
		}
		if err := touch(ctx, tx, entity.Account, now, aid); err != nil {
			return err
		}
		return touch(ctx, tx, entity.Permission, now, pid)
	})
	if err != nil {
		return err
	}

	s.logger.Infof("Granted permission %s to account %s", permissionUID, accountID)
	return nil
}

// Revoke removes accountID from permissionUID.
func (s *Store) Revoke(ctx context.Context, accountID, permissionUID string) error {
	aid, err := parseID(accountID)
	if err != nil {
		return err
	}
	pid, err := parseID(permissionUID)
	if err != nil {
		return err
	}

	now := s.stamp()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM account_permissions WHERE account_id = ? AND permission_uid = ?`, aid, pid)
		if err != nil {
			return fmt.Errorf("failed to delete membership: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("membership %s/%s: %w", accountID, permissionUID, ErrNotFound)
		}
		if err := touch(ctx, tx, entity.Account, now, aid); err != nil {
			return err
		}
		return touch(ctx, tx, entity.Permission, now, pid)
	})
	if err != nil {
		return err
	}

	s.logger.Infof("Revoked permission %s from account %s", permissionUID, accountID)
	return nil
}

func (s *Store) mustExist(ctx context.Context, q Querier, kind entity.Kind, id int64) error {
	d, err := entity.Lookup(kind)
	if err != nil {
		return err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", d.Table, d.IDColumn)
	if err := q.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return fmt.Errorf("failed to look up %s %d: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}

// touch stamps last_modified_at on the given rows.
func touch(ctx context.Context, tx *sql.Tx, kind entity.Kind, now time.Time, ids ...int64) error {
	d, err := entity.Lookup(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", d.Table, d.ModifiedColumn, d.IDColumn)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, query, now, id); err != nil {
			return fmt.Errorf("failed to touch %s %d: %w", kind, id, err)
		}
	}
	return nil
}

// related returns the membership ids for each of ids, keyed by id.
func related(ctx context.Context, q Querier, kind entity.Kind, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	d, err := entity.Lookup(kind)
	if err != nil {
		return nil, err
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf(
		"SELECT %[1]s, %[2]s FROM %[3]s WHERE %[1]s IN (%[4]s) ORDER BY %[1]s, %[2]s",
		d.MemberColumn, d.RelatedColumn, entity.MembershipTable, placeholders(len(ids)))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var member, rel string
		if err := rows.Scan(&member, &rel); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out[member] = append(out[member], rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func listClause(opts ListOptions, nameColumn, idColumn string) (string, []any) {
	var (
		clause strings.Builder
		args   []any
	)
	if opts.Name != "" {
		clause.WriteString(" WHERE " + nameColumn + " = ?")
		args = append(args, opts.Name)
	}
	clause.WriteString(" ORDER BY " + idColumn)
	if opts.Limit > 0 {
		clause.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, opts.Limit, opts.Offset)
	}
	return clause.String(), args
}
