// Package migrations owns the database schema. Statements are idempotent
// and applied in order on startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// lockKey is an arbitrary but stable advisory lock id so concurrent replicas
// do not race on schema setup.
const lockKey = 7452391

var statements = []string{
	`CREATE TABLE IF NOT EXISTS app_tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES app_tenants(id) ON DELETE CASCADE,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (tenant_id, email)
	)`,
	`CREATE TABLE IF NOT EXISTS app_artifacts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES app_tenants(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		key TEXT NOT NULL,
		version INTEGER NOT NULL,
		name TEXT NOT NULL,
		spec JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (tenant_id, kind, key, version)
	)`,
	`CREATE TABLE IF NOT EXISTS app_packages (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES app_tenants(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		version INTEGER NOT NULL,
		status TEXT NOT NULL,
		items JSONB NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		submitted_by TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		submitted_at TIMESTAMPTZ,
		approved_at TIMESTAMPTZ,
		activated_at TIMESTAMPTZ,
		deprecated_at TIMESTAMPTZ,
		UNIQUE (tenant_id, key, version)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS app_packages_single_active
		ON app_packages (tenant_id, key) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS app_secrets (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES app_tenants(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (tenant_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS app_flow_sessions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES app_tenants(id) ON DELETE CASCADE,
		flow_key TEXT NOT NULL,
		flow_version INTEGER NOT NULL,
		current_node TEXT NOT NULL,
		status TEXT NOT NULL,
		context JSONB NOT NULL DEFAULT '{}',
		history JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS app_flow_sessions_tenant_flow
		ON app_flow_sessions (tenant_id, flow_key)`,
	`CREATE TABLE IF NOT EXISTS app_executions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES app_tenants(id) ON DELETE CASCADE,
		mapping_key TEXT NOT NULL,
		mapping_version INTEGER NOT NULL,
		status TEXT NOT NULL,
		source TEXT NOT NULL,
		http_status INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		request_url TEXT NOT NULL DEFAULT '',
		response_body TEXT NOT NULL DEFAULT '',
		mapped JSONB NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS app_executions_tenant_created
		ON app_executions (tenant_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS app_jobs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES app_tenants(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		spec TEXT NOT NULL,
		kind TEXT NOT NULL,
		target_key TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		last_run_at TIMESTAMPTZ,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_audit (
		id TEXT PRIMARY KEY,
		time TIMESTAMPTZ NOT NULL,
		tenant_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		status INTEGER NOT NULL,
		remote_addr TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS app_audit_tenant_time
		ON app_audit (tenant_id, time DESC)`,
}

// Apply runs every migration statement in order, serialized across replicas
// by a session advisory lock. The lock is session scoped, so all statements
// run on a single pinned connection.
func Apply(ctx context.Context, db *sql.DB) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, lockKey)
	}()

	for i, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
