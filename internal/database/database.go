package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/config"

	_ "github.com/lib/pq" // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps *sql.DB with the dialect needed to rebind placeholders.
// Queries are written with `?` and rewritten to `$n` for postgres.
type DB struct {
	*sql.DB
	driver string
	path   string
	logger *zerolog.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewDB(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	driver := cfg.Driver
	if driver == "" {
		driver = config.DriverSQLite
	}

	var (
		conn *sql.DB
		err  error
	)
	switch driver {
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		conn, err = sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_foreign_keys=on")
		if err == nil {
			// One writer at a time keeps sqlite from returning SQLITE_BUSY under load.
			conn.SetMaxOpenConns(1)
		}
	case config.DriverPostgres:
		conn, err = sql.Open("postgres", cfg.Postgres.DSN())
		if err == nil && cfg.Postgres.MaxConnections > 0 {
			conn.SetMaxOpenConns(cfg.Postgres.MaxConnections)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: conn, driver: driver, path: cfg.Path, logger: logger}
	if err := db.createTables(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("driver", driver).Msg("Database initialized")
	return db, nil
}

func (db *DB) Driver() string { return db.driver }

// Path is the sqlite file path; empty for postgres.
func (db *DB) Path() string {
	if db.driver != config.DriverSQLite {
		return ""
	}
	return db.path
}

// rebind rewrites `?` placeholders for the active dialect.
func (db *DB) rebind(query string) string {
	if db.driver != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (db *DB) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, db.rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id statement.
func (db *DB) insert(ctx context.Context, q querier, query string, args ...any) (int64, error) {
	var id int64
	if err := db.queryRow(ctx, q, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// withTx runs fn in a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	return tx.Commit()
}

func (db *DB) createTables(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	ts := "DATETIME"
	if db.driver == config.DriverPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
		ts = "TIMESTAMPTZ"
	}
	replacer := strings.NewReplacer("{{pk}}", pk, "{{ts}}", ts)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id {{pk}},
            email VARCHAR(255) NOT NULL UNIQUE,
            password VARCHAR(255) NOT NULL,
            name VARCHAR(255),
            contact_number VARCHAR(64),
            availability VARCHAR(16) NOT NULL DEFAULT 'offline'
                CHECK (availability IN ('online', 'in-call', 'offline', 'available')),
            slug VARCHAR(100),
            twilio_identity VARCHAR(128),
            twilio_token_issued_at {{ts}},
            twilio_token_expires_at {{ts}},
            socket_id VARCHAR(128),
            last_active_at {{ts}},
            created_at {{ts}} NOT NULL,
            updated_at {{ts}} NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS roles (
            id {{pk}},
            name VARCHAR(255) NOT NULL,
            status INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS permissions (
            id {{pk}},
            name VARCHAR(255) NOT NULL,
            page VARCHAR(255) NOT NULL DEFAULT '',
            status INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS permissions_role (
            permission_id INTEGER NOT NULL,
            role_id INTEGER NOT NULL,
            PRIMARY KEY (permission_id, role_id)
        )`,
		`CREATE TABLE IF NOT EXISTS roles_user (
            id {{pk}},
            user_id INTEGER NOT NULL,
            role_id INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS lg_tracker (
            id {{pk}},
            client_id INTEGER NOT NULL DEFAULT 0,
            no_of_dials INTEGER NOT NULL DEFAULT 0,
            no_of_contacts INTEGER NOT NULL DEFAULT 0,
            gross_transfer INTEGER NOT NULL DEFAULT 0,
            net_transfer INTEGER NOT NULL DEFAULT 0,
            date VARCHAR(10) NOT NULL,
            file_name VARCHAR(255) NOT NULL DEFAULT '',
            count INTEGER NOT NULL DEFAULT 0,
            status VARCHAR(32) NOT NULL DEFAULT 'no_file',
            created_at {{ts}} NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS upload_log (
            id {{pk}},
            client_id INTEGER NOT NULL,
            file_name VARCHAR(255) NOT NULL,
            count INTEGER NOT NULL DEFAULT 0,
            status VARCHAR(32) NOT NULL DEFAULT 'processing',
            date VARCHAR(10),
            created_at {{ts}} NOT NULL,
            updated_at {{ts}} NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS uploaded_data (
            id {{pk}},
            client_id INTEGER NOT NULL,
            upload_log_id INTEGER,
            lg_tracker_id INTEGER,
            customer_name VARCHAR(255) NOT NULL,
            phone_number VARCHAR(64) NOT NULL,
            status VARCHAR(255) NOT NULL,
            created_at {{ts}} NOT NULL,
            updated_at {{ts}} NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_users_availability ON users(availability)`,
		`CREATE INDEX IF NOT EXISTS idx_users_slug ON users(slug)`,
		`CREATE INDEX IF NOT EXISTS idx_roles_user_user_id ON roles_user(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_roles_user_role_id ON roles_user(role_id)`,
		`CREATE INDEX IF NOT EXISTS idx_lg_tracker_client_date ON lg_tracker(client_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_uploaded_data_tracker ON uploaded_data(lg_tracker_id)`,
		`CREATE INDEX IF NOT EXISTS idx_uploaded_data_log ON uploaded_data(upload_log_id)`,
		`CREATE INDEX IF NOT EXISTS idx_uploaded_data_client_created ON uploaded_data(client_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, replacer.Replace(query)); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func likePattern(keyword string) string {
	return "%" + strings.ToLower(strings.TrimSpace(keyword)) + "%"
}
