package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"callcenter/internal/models"

	"golang.org/x/sync/errgroup"
)

func (db *DB) ListRoles(ctx context.Context, page models.Page) ([]models.Role, int, error) {
	var (
		total int
		roles []models.Role
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return db.queryRow(gctx, db, `SELECT COUNT(*) FROM roles`).Scan(&total)
	})
	g.Go(func() error {
		rows, err := db.query(gctx, db, `SELECT id, name, status FROM roles ORDER BY id LIMIT ? OFFSET ?`, page.PerPage, page.Offset())
		if err != nil {
			return err
		}
		defer rows.Close()

		roles = []models.Role{}
		for rows.Next() {
			var r models.Role
			if err := rows.Scan(&r.ID, &r.Name, &r.Status); err != nil {
				return err
			}
			roles = append(roles, r)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, total, nil
}

// GetRole returns the role with its permissions.
func (db *DB) GetRole(ctx context.Context, id int64) (*models.Role, error) {
	var r models.Role
	err := db.queryRow(ctx, db, `SELECT id, name, status FROM roles WHERE id = ?`, id).Scan(&r.ID, &r.Name, &r.Status)
	if err != nil {
		return nil, notFound(err)
	}

	rows, err := db.query(ctx, db, `
        SELECT p.id, p.name, p.page, p.status
        FROM permissions p
        JOIN permissions_role pr ON pr.permission_id = p.id
        WHERE pr.role_id = ?
        ORDER BY p.id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	r.Permissions = []models.Permission{}
	for rows.Next() {
		var p models.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Page, &p.Status); err != nil {
			return nil, err
		}
		r.Permissions = append(r.Permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *DB) CreateRole(ctx context.Context, name string, permissionIDs []int64) (*models.Role, error) {
	var id int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = db.insert(ctx, tx, `INSERT INTO roles (name, status) VALUES (?, 1)`, name)
		if err != nil {
			return err
		}
		return db.insertRolePermissions(ctx, tx, id, permissionIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return db.GetRole(ctx, id)
}

// UpdateRole renames the role and replaces its permission set.
func (db *DB) UpdateRole(ctx context.Context, id int64, name string, permissionIDs []int64) (*models.Role, error) {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := db.exec(ctx, tx, `UPDATE roles SET name = ? WHERE id = ?`, name, id)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		if _, err := db.exec(ctx, tx, `DELETE FROM permissions_role WHERE role_id = ?`, id); err != nil {
			return err
		}
		return db.insertRolePermissions(ctx, tx, id, permissionIDs)
	})
	if err != nil {
		return nil, err
	}
	return db.GetRole(ctx, id)
}

func (db *DB) insertRolePermissions(ctx context.Context, q querier, roleID int64, permissionIDs []int64) error {
	seen := make(map[int64]struct{}, len(permissionIDs))
	for _, pid := range permissionIDs {
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		if _, err := db.exec(ctx, q, `INSERT INTO permissions_role (permission_id, role_id) VALUES (?, ?)`, pid, roleID); err != nil {
			return fmt.Errorf("grant permission %d: %w", pid, err)
		}
	}
	return nil
}

// DeleteRole refuses to remove a role that is still mapped to a user.
func (db *DB) DeleteRole(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var assigned int
		if err := db.queryRow(ctx, tx, `SELECT COUNT(*) FROM roles_user WHERE role_id = ?`, id).Scan(&assigned); err != nil {
			return err
		}
		if assigned > 0 {
			return ErrRoleAssigned
		}
		if _, err := db.exec(ctx, tx, `DELETE FROM permissions_role WHERE role_id = ?`, id); err != nil {
			return err
		}
		res, err := db.exec(ctx, tx, `DELETE FROM roles WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
}

// DeleteRoles drops user mappings first, then the roles themselves.
func (db *DB) DeleteRoles(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in := placeholders(len(ids))
	args := int64Args(ids)
	var deleted int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx, `DELETE FROM roles_user WHERE role_id IN (`+in+`)`, args...); err != nil {
			return err
		}
		if _, err := db.exec(ctx, tx, `DELETE FROM permissions_role WHERE role_id IN (`+in+`)`, args...); err != nil {
			return err
		}
		res, err := db.exec(ctx, tx, `DELETE FROM roles WHERE id IN (`+in+`)`, args...)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete roles: %w", err)
	}
	return int(deleted), nil
}

func (db *DB) ListActivePermissions(ctx context.Context) ([]models.Permission, error) {
	rows, err := db.query(ctx, db, `SELECT id, name, page, status FROM permissions WHERE status = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := []models.Permission{}
	for rows.Next() {
		var p models.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Page, &p.Status); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// EnsurePermission returns the id of the named permission, creating it if needed.
func (db *DB) EnsurePermission(ctx context.Context, name, page string) (int64, error) {
	var id int64
	err := db.queryRow(ctx, db, `SELECT id FROM permissions WHERE name = ? ORDER BY id LIMIT 1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return db.insert(ctx, db, `INSERT INTO permissions (name, page, status) VALUES (?, ?, 1)`, name, page)
}

// EnsureRole returns the id of the named role, creating it if needed.
func (db *DB) EnsureRole(ctx context.Context, name string) (int64, error) {
	var id int64
	err := db.queryRow(ctx, db, `SELECT id FROM roles WHERE name = ? ORDER BY id LIMIT 1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return db.insert(ctx, db, `INSERT INTO roles (name, status) VALUES (?, 1)`, name)
}

// GrantPermissions adds permissions to a role, skipping ones it already holds.
func (db *DB) GrantPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	role, err := db.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	held := make(map[int64]bool, len(role.Permissions))
	for _, p := range role.Permissions {
		held[p.ID] = true
	}
	var missing []int64
	for _, id := range permissionIDs {
		if !held[id] {
			missing = append(missing, id)
		}
	}
	return db.insertRolePermissions(ctx, db, roleID, missing)
}
