package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// tenantTables lists every tenant-scoped table and, where the table is
// dual-scoped, the column its campaign-level policy matches against.
// Campaigns themselves are matched on their own primary key so a
// campaign-guest session can see the campaign it was invited to.
var tenantTables = []struct {
	Table          string
	CampaignColumn string // empty = team-only
}{
	{"brands", ""},
	{"campaigns", "id"},
	{"deliverables", "campaign_id"},
	{"roster_members", ""},
	{"invoices", "campaign_id"},
	{"media_assets", "campaign_id"},
	{"documents", "campaign_id"},
	{"threads", "campaign_id"},
	{"comments", ""},
	{"saved_views", ""},
	{"dashboards", ""},
	{"action_logs", ""},
	{"state_transitions", ""},
}

// Bootstrap creates all application tables and, on PostgreSQL, installs the
// row-level-security policies. Idempotent.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SchemaSQL()); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	if s.Dialect.Name() == "postgres" {
		if _, err := s.DB.ExecContext(ctx, rlsPoliciesSQL()); err != nil {
			return fmt.Errorf("install RLS policies: %w", err)
		}
	}

	slog.Info("database bootstrapped", slog.String("dialect", s.Dialect.Name()))
	return nil
}

// rlsPoliciesSQL generates the tenant-isolation policy for every scoped table.
// The policy fails closed: with neither session variable set and system mode
// off, current_setting(..., true) yields NULL and the whole predicate is not
// true, so zero rows are visible or mutable.
func rlsPoliciesSQL() string {
	const basePredicate = "current_setting('app.system_mode', true) = 'on' OR team_id::text = current_setting('app.current_team_id', true)"
	var b strings.Builder
	for _, t := range tenantTables {
		predicate := basePredicate
		if t.CampaignColumn != "" {
			predicate += fmt.Sprintf(
				" OR %s::text = current_setting('app.current_campaign_id', true)", t.CampaignColumn)
		}
		fmt.Fprintf(&b, "ALTER TABLE %s ENABLE ROW LEVEL SECURITY;\n", t.Table)
		fmt.Fprintf(&b, "ALTER TABLE %s FORCE ROW LEVEL SECURITY;\n", t.Table)
		fmt.Fprintf(&b, "DROP POLICY IF EXISTS tenant_isolation ON %s;\n", t.Table)
		fmt.Fprintf(&b, "CREATE POLICY tenant_isolation ON %s USING (%s) WITH CHECK (%s);\n",
			t.Table, predicate, predicate)
	}
	return b.String()
}

const pgSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
    id          BIGSERIAL PRIMARY KEY,
    email       TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    google_sub  TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS teams (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS memberships (
    id          BIGSERIAL PRIMARY KEY,
    team_id     BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    user_id     BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role        TEXT NOT NULL DEFAULT 'member',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (team_id, user_id)
);

CREATE TABLE IF NOT EXISTS team_invitations (
    id          BIGSERIAL PRIMARY KEY,
    team_id     BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    email       TEXT NOT NULL,
    role        TEXT NOT NULL DEFAULT 'member',
    token_hash  TEXT NOT NULL UNIQUE,
    expires_at  TIMESTAMPTZ NOT NULL,
    accepted_at TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS campaign_guests (
    id          BIGSERIAL PRIMARY KEY,
    campaign_id BIGINT NOT NULL,
    user_id     BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (campaign_id, user_id)
);

CREATE TABLE IF NOT EXISTS magic_link_tokens (
    id          BIGSERIAL PRIMARY KEY,
    email       TEXT NOT NULL,
    token_hash  TEXT NOT NULL UNIQUE,
    expires_at  TIMESTAMPTZ NOT NULL,
    consumed_at TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS brands (
    id             BIGSERIAL PRIMARY KEY,
    team_id        BIGINT NOT NULL,
    name           TEXT NOT NULL,
    contact_email  TEXT NOT NULL DEFAULT '',
    website        TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'Active',
    object_version BIGINT NOT NULL DEFAULT 1,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS campaigns (
    id             BIGSERIAL PRIMARY KEY,
    team_id        BIGINT NOT NULL,
    brand_id       BIGINT,
    name           TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'Draft',
    budget_cents   BIGINT NOT NULL DEFAULT 0,
    starts_at      DATE,
    ends_at        DATE,
    object_version BIGINT NOT NULL DEFAULT 1,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS deliverables (
    id             BIGSERIAL PRIMARY KEY,
    team_id        BIGINT NOT NULL,
    campaign_id    BIGINT NOT NULL,
    title          TEXT NOT NULL,
    platform       TEXT NOT NULL DEFAULT 'Instagram',
    status         TEXT NOT NULL DEFAULT 'Planned',
    due_at         DATE,
    rate_cents     BIGINT NOT NULL DEFAULT 0,
    object_version BIGINT NOT NULL DEFAULT 1,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS roster_members (
    id               BIGSERIAL PRIMARY KEY,
    team_id          BIGINT NOT NULL,
    name             TEXT NOT NULL,
    email            TEXT NOT NULL DEFAULT '',
    instagram_handle TEXT NOT NULL DEFAULT '',
    tiktok_handle    TEXT NOT NULL DEFAULT '',
    youtube_handle   TEXT NOT NULL DEFAULT '',
    base_rate_cents  BIGINT NOT NULL DEFAULT 0,
    object_version   BIGINT NOT NULL DEFAULT 1,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS invoices (
    id             BIGSERIAL PRIMARY KEY,
    team_id        BIGINT NOT NULL,
    campaign_id    BIGINT,
    brand_id       BIGINT,
    number         TEXT NOT NULL,
    amount_cents   BIGINT NOT NULL DEFAULT 0,
    status         TEXT NOT NULL DEFAULT 'Draft',
    due_date       DATE,
    sent_at        TIMESTAMPTZ,
    paid_at        TIMESTAMPTZ,
    object_version BIGINT NOT NULL DEFAULT 1,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at     TIMESTAMPTZ,
    UNIQUE (team_id, number)
);

CREATE TABLE IF NOT EXISTS media_assets (
    id             BIGSERIAL PRIMARY KEY,
    team_id        BIGINT NOT NULL,
    campaign_id    BIGINT,
    file_name      TEXT NOT NULL,
    storage_key    TEXT NOT NULL UNIQUE,
    content_type   TEXT NOT NULL DEFAULT 'application/octet-stream',
    size_bytes     BIGINT NOT NULL DEFAULT 0,
    uploaded_at    TIMESTAMPTZ,
    object_version BIGINT NOT NULL DEFAULT 1,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS documents (
    id                BIGSERIAL PRIMARY KEY,
    team_id           BIGINT NOT NULL,
    campaign_id       BIGINT,
    title             TEXT NOT NULL,
    storage_key       TEXT NOT NULL,
    extraction_status TEXT NOT NULL DEFAULT 'None',
    extracted         JSONB,
    object_version    BIGINT NOT NULL DEFAULT 1,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS threads (
    id          BIGSERIAL PRIMARY KEY,
    team_id     BIGINT NOT NULL,
    campaign_id BIGINT,
    object_type TEXT NOT NULL,
    object_id   BIGINT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (object_type, object_id)
);

CREATE TABLE IF NOT EXISTS comments (
    id           BIGSERIAL PRIMARY KEY,
    team_id      BIGINT NOT NULL,
    thread_id    BIGINT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
    author_id    BIGINT,
    author_email TEXT NOT NULL DEFAULT '',
    body         TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS saved_views (
    id             BIGSERIAL PRIMARY KEY,
    team_id        BIGINT NOT NULL,
    user_id        BIGINT NOT NULL,
    name           TEXT NOT NULL,
    object_type    TEXT NOT NULL,
    definition     JSONB NOT NULL DEFAULT '{}',
    object_version BIGINT NOT NULL DEFAULT 1,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS dashboards (
    id             BIGSERIAL PRIMARY KEY,
    team_id        BIGINT NOT NULL,
    name           TEXT NOT NULL,
    widgets        JSONB NOT NULL DEFAULT '[]',
    object_version BIGINT NOT NULL DEFAULT 1,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS action_logs (
    id              BIGSERIAL PRIMARY KEY,
    team_id         BIGINT NOT NULL,
    action_group    TEXT NOT NULL,
    action_key      TEXT NOT NULL,
    object_type     TEXT NOT NULL DEFAULT '',
    object_id       BIGINT,
    actor_id        BIGINT,
    status          TEXT NOT NULL,
    message         TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT,
    result          JSONB,
    changes         JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_action_logs_idem
    ON action_logs (action_group, action_key, object_id, idempotency_key);

CREATE TABLE IF NOT EXISTS state_transitions (
    id          BIGSERIAL PRIMARY KEY,
    team_id     BIGINT NOT NULL,
    object_type TEXT NOT NULL,
    object_id   BIGINT NOT NULL,
    field       TEXT NOT NULL,
    from_value  TEXT NOT NULL,
    to_value    TEXT NOT NULL,
    actor_id    BIGINT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS events (
    id          BIGSERIAL PRIMARY KEY,
    event_type  TEXT NOT NULL,
    component   TEXT NOT NULL DEFAULT '',
    action      TEXT NOT NULL DEFAULT '',
    object_type TEXT NOT NULL DEFAULT '',
    record_id   BIGINT,
    user_id     BIGINT,
    duration_ms BIGINT,
    status      TEXT NOT NULL DEFAULT '',
    metadata    JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS tasks (
    id           BIGSERIAL PRIMARY KEY,
    kind         TEXT NOT NULL,
    payload      JSONB NOT NULL DEFAULT '{}',
    status       TEXT NOT NULL DEFAULT 'pending',
    run_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    attempts     INT NOT NULL DEFAULT 0,
    max_attempts INT NOT NULL DEFAULT 5,
    last_error   TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks (status, run_at);
`

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    email       TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    google_sub  TEXT,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS teams (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS memberships (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id     INTEGER NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    user_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role        TEXT NOT NULL DEFAULT 'member',
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (team_id, user_id)
);

CREATE TABLE IF NOT EXISTS team_invitations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id     INTEGER NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    email       TEXT NOT NULL,
    role        TEXT NOT NULL DEFAULT 'member',
    token_hash  TEXT NOT NULL UNIQUE,
    expires_at  TIMESTAMP NOT NULL,
    accepted_at TIMESTAMP,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS campaign_guests (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    campaign_id INTEGER NOT NULL,
    user_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (campaign_id, user_id)
);

CREATE TABLE IF NOT EXISTS magic_link_tokens (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    email       TEXT NOT NULL,
    token_hash  TEXT NOT NULL UNIQUE,
    expires_at  TIMESTAMP NOT NULL,
    consumed_at TIMESTAMP,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS brands (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id        INTEGER NOT NULL,
    name           TEXT NOT NULL,
    contact_email  TEXT NOT NULL DEFAULT '',
    website        TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'Active',
    object_version INTEGER NOT NULL DEFAULT 1,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS campaigns (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id        INTEGER NOT NULL,
    brand_id       INTEGER,
    name           TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'Draft',
    budget_cents   INTEGER NOT NULL DEFAULT 0,
    starts_at      DATE,
    ends_at        DATE,
    object_version INTEGER NOT NULL DEFAULT 1,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS deliverables (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id        INTEGER NOT NULL,
    campaign_id    INTEGER NOT NULL,
    title          TEXT NOT NULL,
    platform       TEXT NOT NULL DEFAULT 'Instagram',
    status         TEXT NOT NULL DEFAULT 'Planned',
    due_at         DATE,
    rate_cents     INTEGER NOT NULL DEFAULT 0,
    object_version INTEGER NOT NULL DEFAULT 1,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS roster_members (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id          INTEGER NOT NULL,
    name             TEXT NOT NULL,
    email            TEXT NOT NULL DEFAULT '',
    instagram_handle TEXT NOT NULL DEFAULT '',
    tiktok_handle    TEXT NOT NULL DEFAULT '',
    youtube_handle   TEXT NOT NULL DEFAULT '',
    base_rate_cents  INTEGER NOT NULL DEFAULT 0,
    object_version   INTEGER NOT NULL DEFAULT 1,
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at       TIMESTAMP
);

CREATE TABLE IF NOT EXISTS invoices (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id        INTEGER NOT NULL,
    campaign_id    INTEGER,
    brand_id       INTEGER,
    number         TEXT NOT NULL,
    amount_cents   INTEGER NOT NULL DEFAULT 0,
    status         TEXT NOT NULL DEFAULT 'Draft',
    due_date       DATE,
    sent_at        TIMESTAMP,
    paid_at        TIMESTAMP,
    object_version INTEGER NOT NULL DEFAULT 1,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at     TIMESTAMP,
    UNIQUE (team_id, number)
);

CREATE TABLE IF NOT EXISTS media_assets (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id        INTEGER NOT NULL,
    campaign_id    INTEGER,
    file_name      TEXT NOT NULL,
    storage_key    TEXT NOT NULL UNIQUE,
    content_type   TEXT NOT NULL DEFAULT 'application/octet-stream',
    size_bytes     INTEGER NOT NULL DEFAULT 0,
    uploaded_at    TIMESTAMP,
    object_version INTEGER NOT NULL DEFAULT 1,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS documents (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id           INTEGER NOT NULL,
    campaign_id       INTEGER,
    title             TEXT NOT NULL,
    storage_key       TEXT NOT NULL,
    extraction_status TEXT NOT NULL DEFAULT 'None',
    extracted         TEXT,
    object_version    INTEGER NOT NULL DEFAULT 1,
    created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at        TIMESTAMP
);

CREATE TABLE IF NOT EXISTS threads (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id     INTEGER NOT NULL,
    campaign_id INTEGER,
    object_type TEXT NOT NULL,
    object_id   INTEGER NOT NULL,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (object_type, object_id)
);

CREATE TABLE IF NOT EXISTS comments (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id      INTEGER NOT NULL,
    thread_id    INTEGER NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
    author_id    INTEGER,
    author_email TEXT NOT NULL DEFAULT '',
    body         TEXT NOT NULL,
    created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at   TIMESTAMP
);

CREATE TABLE IF NOT EXISTS saved_views (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id        INTEGER NOT NULL,
    user_id        INTEGER NOT NULL,
    name           TEXT NOT NULL,
    object_type    TEXT NOT NULL,
    definition     TEXT NOT NULL DEFAULT '{}',
    object_version INTEGER NOT NULL DEFAULT 1,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS dashboards (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id        INTEGER NOT NULL,
    name           TEXT NOT NULL,
    widgets        TEXT NOT NULL DEFAULT '[]',
    object_version INTEGER NOT NULL DEFAULT 1,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS action_logs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id         INTEGER NOT NULL,
    action_group    TEXT NOT NULL,
    action_key      TEXT NOT NULL,
    object_type     TEXT NOT NULL DEFAULT '',
    object_id       INTEGER,
    actor_id        INTEGER,
    status          TEXT NOT NULL,
    message         TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT,
    result          TEXT,
    changes         TEXT,
    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_action_logs_idem
    ON action_logs (action_group, action_key, object_id, idempotency_key);

CREATE TABLE IF NOT EXISTS state_transitions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id     INTEGER NOT NULL,
    object_type TEXT NOT NULL,
    object_id   INTEGER NOT NULL,
    field       TEXT NOT NULL,
    from_value  TEXT NOT NULL,
    to_value    TEXT NOT NULL,
    actor_id    INTEGER,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type  TEXT NOT NULL,
    component   TEXT NOT NULL DEFAULT '',
    action      TEXT NOT NULL DEFAULT '',
    object_type TEXT NOT NULL DEFAULT '',
    record_id   INTEGER,
    user_id     INTEGER,
    duration_ms INTEGER,
    status      TEXT NOT NULL DEFAULT '',
    metadata    TEXT,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    kind         TEXT NOT NULL,
    payload      TEXT NOT NULL DEFAULT '{}',
    status       TEXT NOT NULL DEFAULT 'pending',
    run_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    attempts     INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 5,
    last_error   TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks (status, run_at);
`
