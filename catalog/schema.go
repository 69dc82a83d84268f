package catalog

import (
	"context"
	"fmt"
)

// schema is the sqlite development schema. Postgres deployments manage
// the schema with external migrations against the production tables.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS article (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		title         TEXT NOT NULL,
		url           TEXT NOT NULL,
		thumb         TEXT,
		description   TEXT,
		type          TEXT NOT NULL,
		input_time    TIMESTAMP NOT NULL,
		comment_count INTEGER NOT NULL DEFAULT 0,
		content       TEXT NOT NULL,
		is_deleted    BOOLEAN NOT NULL DEFAULT FALSE,
		created_time  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_time  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS medical_course (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		course_code        TEXT NOT NULL UNIQUE,
		course_name        TEXT NOT NULL,
		medical_department TEXT NOT NULL,
		applicable_title   TEXT,
		difficulty_level   INTEGER NOT NULL DEFAULT 2,
		class_hours        REAL NOT NULL DEFAULT 0,
		credit             REAL DEFAULT 0,
		price              REAL NOT NULL DEFAULT 0,
		sale_status        INTEGER NOT NULL DEFAULT 1,
		valid_period_days  INTEGER NOT NULL DEFAULT 365,
		status             INTEGER NOT NULL DEFAULT 1,
		creator_id         INTEGER NOT NULL DEFAULT 1,
		is_deleted         BOOLEAN DEFAULT FALSE,
		created_time       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_time       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS "user" (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		username        TEXT,
		phone           TEXT,
		password        TEXT,
		nickname        TEXT,
		avatar_id       INTEGER,
		gender          INTEGER NOT NULL DEFAULT 0,
		user_status     INTEGER NOT NULL DEFAULT 1,
		last_login_time TIMESTAMP,
		is_deleted      BOOLEAN NOT NULL DEFAULT FALSE,
		created_time    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_time    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS user_third_party (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id        INTEGER NOT NULL,
		third_platform TEXT NOT NULL,
		third_openid   TEXT NOT NULL,
		third_unionid  TEXT,
		created_time   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (third_platform, third_openid)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		order_no       TEXT NOT NULL UNIQUE,
		user_id        INTEGER NOT NULL,
		course_id      INTEGER NOT NULL,
		original_price REAL NOT NULL DEFAULT 0,
		real_price     REAL NOT NULL DEFAULT 0,
		payment_method TEXT,
		transaction_id TEXT,
		status         TEXT NOT NULL DEFAULT 'PENDING_PAYMENT',
		paid_at        TIMESTAMP,
		idempotency_key TEXT UNIQUE,
		client_ip      TEXT,
		is_deleted     BOOLEAN NOT NULL DEFAULT FALSE,
		created_time   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_time   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
}

// EnsureSchema creates the development schema. It refuses to run
// against postgres, whose schema is migration-managed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.driver == "postgres" {
		return fmt.Errorf("schema bootstrap is sqlite-only; run migrations for postgres")
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement: %w", err)
		}
	}
	return nil
}
