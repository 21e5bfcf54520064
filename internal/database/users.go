package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"callcenter/internal/models"

	"golang.org/x/sync/errgroup"
)

const userColumns = `id, email, password, name, contact_number, availability, slug,
        twilio_identity, twilio_token_issued_at, twilio_token_expires_at,
        socket_id, last_active_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                                       models.User
		name, contact, slug, identity, socketID sql.NullString
		tokenIssued, tokenExpires, lastActive   sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Password,
		&name,
		&contact,
		&u.Availability,
		&slug,
		&identity,
		&tokenIssued,
		&tokenExpires,
		&socketID,
		&lastActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Name = name.String
	u.ContactNumber = contact.String
	u.Slug = slug.String
	u.TwilioIdentity = identity.String
	u.SocketID = socketID.String
	u.TwilioTokenIssuedAt = timePtr(tokenIssued)
	u.TwilioTokenExpiresAt = timePtr(tokenExpires)
	u.LastActiveAt = timePtr(lastActive)
	return &u, nil
}

func (db *DB) queryUser(ctx context.Context, where string, args ...any) (*models.User, error) {
	row := db.queryRow(ctx, db, `SELECT `+userColumns+` FROM users WHERE `+where, args...)
	user, err := scanUser(row)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (db *DB) queryUsers(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := db.query(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateUser inserts the user together with its role mappings.
func (db *DB) CreateUser(ctx context.Context, user *models.User, roleIDs []int64) error {
	now := time.Now().UTC()
	if user.Availability == "" {
		user.Availability = models.AvailabilityOffline
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := db.insert(ctx, tx, `INSERT INTO users (
                email, password, name, contact_number, availability, slug,
                twilio_identity, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			user.Email,
			user.Password,
			nullString(user.Name),
			nullString(user.ContactNumber),
			user.Availability,
			nullString(user.Slug),
			nullString(user.TwilioIdentity),
			now,
			now,
		)
		if err != nil {
			return err
		}
		user.ID = id
		return db.insertUserRoles(ctx, tx, id, roleIDs)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (db *DB) insertUserRoles(ctx context.Context, q querier, userID int64, roleIDs []int64) error {
	for _, roleID := range roleIDs {
		if _, err := db.insert(ctx, q, `INSERT INTO roles_user (user_id, role_id) VALUES (?, ?)`, userID, roleID); err != nil {
			return fmt.Errorf("assign role %d: %w", roleID, err)
		}
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return db.queryUser(ctx, `id = ?`, id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.queryUser(ctx, `LOWER(email) = LOWER(?)`, strings.TrimSpace(email))
}

func (db *DB) GetUserBySlug(ctx context.Context, slug string) (*models.User, error) {
	return db.queryUser(ctx, `slug = ? ORDER BY id LIMIT 1`, slug)
}

// ListUsers returns one page of users plus the total match count.
func (db *DB) ListUsers(ctx context.Context, filter models.UserFilter, page models.Page) ([]*models.User, int, error) {
	var (
		clauses []string
		args    []any
	)
	if kw := strings.TrimSpace(filter.Keyword); kw != "" {
		pattern := likePattern(kw)
		clauses = append(clauses, `(LOWER(email) LIKE ? OR LOWER(name) LIKE ? OR LOWER(slug) LIKE ? OR LOWER(twilio_identity) LIKE ?)`)
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if n := len(filter.ExcludeAvailability); n > 0 {
		clauses = append(clauses, `availability NOT IN (`+placeholders(n)+`)`)
		for _, a := range filter.ExcludeAvailability {
			args = append(args, a)
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var (
		total int
		users []*models.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return db.queryRow(gctx, db, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total)
	})
	g.Go(func() error {
		listArgs := append(append([]any{}, args...), page.PerPage, page.Offset())
		var err error
		users, err = db.queryUsers(gctx, `SELECT `+userColumns+` FROM users`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`, listArgs...)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, total, nil
}

// UpdateUser applies the non-nil fields of upd.
func (db *DB) UpdateUser(ctx context.Context, id int64, upd models.UserUpdate) error {
	sets := []string{}
	args := []any{}
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.Password != nil {
		add("password", *upd.Password)
	}
	if upd.Name != nil {
		add("name", nullString(*upd.Name))
	}
	if upd.ContactNumber != nil {
		add("contact_number", nullString(*upd.ContactNumber))
	}
	if upd.Slug != nil {
		add("slug", nullString(*upd.Slug))
	}
	if upd.TwilioIdentity != nil {
		add("twilio_identity", nullString(*upd.TwilioIdentity))
	}
	if upd.Availability != nil {
		add("availability", *upd.Availability)
	}
	add("updated_at", time.Now().UTC())
	args = append(args, id)

	res, err := db.exec(ctx, db, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireAffected(res)
}

// SetUserRoles replaces the user's role mappings.
func (db *DB) SetUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx, `DELETE FROM roles_user WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("clear roles: %w", err)
		}
		return db.insertUserRoles(ctx, tx, userID, roleIDs)
	})
}

func (db *DB) GetUserRoles(ctx context.Context, userID int64) ([]models.RoleRef, error) {
	rows, err := db.query(ctx, db, `
        SELECT r.id, r.name
        FROM roles r
        JOIN roles_user ru ON ru.role_id = r.id
        WHERE ru.user_id = ?
        ORDER BY r.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []models.RoleRef{}
	for rows.Next() {
		var r models.RoleRef
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (db *DB) DeleteUser(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx, `DELETE FROM roles_user WHERE user_id = ?`, id); err != nil {
			return err
		}
		res, err := db.exec(ctx, tx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
}

// DeleteUsers removes the given users and reports how many rows went away.
func (db *DB) DeleteUsers(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in := placeholders(len(ids))
	var deleted int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx, `DELETE FROM roles_user WHERE user_id IN (`+in+`)`, int64Args(ids)...); err != nil {
			return err
		}
		res, err := db.exec(ctx, tx, `DELETE FROM users WHERE id IN (`+in+`)`, int64Args(ids)...)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete users: %w", err)
	}
	return int(deleted), nil
}

// ListClients returns users holding the Client role.
func (db *DB) ListClients(ctx context.Context, keyword string) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
        WHERE id IN (
            SELECT ru.user_id FROM roles_user ru
            JOIN roles r ON r.id = ru.role_id
            WHERE r.name = ?
        )`
	args := []any{models.ClientRoleName}
	if kw := strings.TrimSpace(keyword); kw != "" {
		pattern := likePattern(kw)
		query += ` AND (LOWER(email) LIKE ? OR LOWER(name) LIKE ? OR LOWER(contact_number) LIKE ?)`
		args = append(args, pattern, pattern, pattern)
	}
	return db.queryUsers(ctx, query+` ORDER BY id`, args...)
}

// GetUserPermissions returns the de-duplicated permissions granted by all of the user's roles.
func (db *DB) GetUserPermissions(ctx context.Context, userID int64) ([]models.PermissionRef, error) {
	rows, err := db.query(ctx, db, `
        SELECT DISTINCT p.id, p.name
        FROM permissions p
        JOIN permissions_role pr ON pr.permission_id = p.id
        JOIN roles_user ru ON ru.role_id = pr.role_id
        WHERE ru.user_id = ?
        ORDER BY p.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []models.PermissionRef{}
	for rows.Next() {
		var p models.PermissionRef
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
