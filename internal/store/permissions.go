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

const permissionColumns = "permission_uid, code, display_name, category, created_at, last_modified_at"

// CreatePermission inserts a permission and returns its generated uid.
func (s *Store) CreatePermission(ctx context.Context, in models.PermissionInput) (string, error) {
	if in.Code == nil || strings.TrimSpace(*in.Code) == "" {
		return "", fmt.Errorf("code is required")
	}
	now := s.stamp()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO permission (code, display_name, category, created_at, last_modified_at)
		VALUES (?, ?, ?, ?, ?)`,
		*in.Code, deref(in.DisplayName), deref(in.Category), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to create permission: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("failed to create permission: no generated key returned: %w", err)
	}

	s.logger.Infof("Created permission %d (%s)", id, *in.Code)
	return strconv.FormatInt(id, 10), nil
}

// GetPermission returns one permission with its members.
func (s *Store) GetPermission(ctx context.Context, uid string) (*models.Permission, error) {
	pid, err := parseID(uid)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+permissionColumns+" FROM permission WHERE permission_uid = ?", pid)
	perm, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("permission %s: %w", uid, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	members, err := related(ctx, s.db, entity.Permission, []string{perm.ID})
	if err != nil {
		return nil, err
	}
	perm.Members = nonNil(members[perm.ID])
	return &perm, nil
}

// ListPermissions searches permissions ordered by uid.
func (s *Store) ListPermissions(ctx context.Context, opts ListOptions) ([]models.Permission, error) {
	clause, args := listClause(opts, "code", "permission_uid")
	rows, err := s.db.QueryContext(ctx, "SELECT "+permissionColumns+" FROM permission"+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	perms := []models.Permission{}
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permissions: %w", err)
	}

	ids := make([]string, len(perms))
	for i := range perms {
		ids[i] = perms[i].ID
	}
	members, err := related(ctx, s.db, entity.Permission, ids)
	if err != nil {
		return nil, err
	}
	for i := range perms {
		perms[i].Members = nonNil(members[perms[i].ID])
	}
	return perms, nil
}

// UpdatePermission sets the non-nil fields of in.
func (s *Store) UpdatePermission(ctx context.Context, uid string, in models.PermissionInput) error {
	pid, err := parseID(uid)
	if err != nil {
		return err
	}

	var (
		sets []string
		args []any
	)
	if in.Code != nil {
		if strings.TrimSpace(*in.Code) == "" {
			return fmt.Errorf("code must not be empty")
		}
		sets, args = append(sets, "code = ?"), append(args, *in.Code)
	}
	if in.DisplayName != nil {
		sets, args = append(sets, "display_name = ?"), append(args, *in.DisplayName)
	}
	if in.Category != nil {
		sets, args = append(sets, "category = ?"), append(args, *in.Category)
	}
	if len(sets) == 0 {
		return fmt.Errorf("no attributes to update")
	}
	sets, args = append(sets, "last_modified_at = ?"), append(args, s.stamp(), pid)

	res, err := s.db.ExecContext(ctx,
		"UPDATE permission SET "+strings.Join(sets, ", ")+" WHERE permission_uid = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("permission %s: %w", uid, ErrNotFound)
	}

	s.logger.Infof("Updated permission %s", uid)
	return nil
}

// DeletePermission removes a permission and its memberships, stamping the
// accounts that lose it.
func (s *Store) DeletePermission(ctx context.Context, uid string) error {
	pid, err := parseID(uid)
	if err != nil {
		return err
	}
	key := strconv.FormatInt(pid, 10)

	now := s.stamp()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		members, err := related(ctx, tx, entity.Permission, []string{key})
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM permission WHERE permission_uid = ?", pid)
		if err != nil {
			return fmt.Errorf("failed to delete permission: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("permission %s: %w", uid, ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM account_permissions WHERE permission_uid = ?", pid); err != nil {
			return fmt.Errorf("failed to delete memberships: %w", err)
		}

		for _, id := range members[key] {
			aid, err := parseID(id)
			if err != nil {
				return err
			}
			if err := touch(ctx, tx, entity.Account, now, aid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Infof("Deleted permission %s", uid)
	return nil
}

func scanPermission(row rowScanner) (models.Permission, error) {
	var (
		perm              models.Permission
		created, modified NullTime
	)
	err := row.Scan(&perm.ID, &perm.Code, &perm.DisplayName, &perm.Category, &created, &modified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return perm, err
		}
		return perm, fmt.Errorf("failed to scan permission: %w", err)
	}
	perm.CreatedAt, perm.LastModifiedAt = created.Time, modified.Time
	return perm, nil
}
