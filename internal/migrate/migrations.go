package migrate

// migration 单个版本的 schema 变更，version 从 1 开始连续递增
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS teams (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	team_id       BIGINT REFERENCES teams(id) ON DELETE SET NULL,
	is_staff      BOOLEAN NOT NULL DEFAULT FALSE,
	password_hash TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS alerts (
	id                         BIGSERIAL PRIMARY KEY,
	title                      VARCHAR(200) NOT NULL,
	message                    TEXT NOT NULL,
	severity                   TEXT NOT NULL DEFAULT 'info' CHECK (severity IN ('info', 'warning', 'critical')),
	delivery_type              TEXT NOT NULL DEFAULT 'in_app',
	visibility                 TEXT NOT NULL DEFAULT 'org' CHECK (visibility IN ('org', 'team', 'user')),
	start_at                   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at                 TIMESTAMPTZ,
	reminder_frequency_minutes INTEGER NOT NULL DEFAULT 120 CHECK (reminder_frequency_minutes > 0),
	reminders_enabled          BOOLEAN NOT NULL DEFAULT TRUE,
	archived                   BOOLEAN NOT NULL DEFAULT FALSE,
	created_by                 BIGINT REFERENCES users(id) ON DELETE SET NULL,
	created_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS alert_target_teams (
	alert_id BIGINT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
	team_id  BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
	PRIMARY KEY (alert_id, team_id)
);

CREATE TABLE IF NOT EXISTS alert_target_users (
	alert_id BIGINT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
	user_id  BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (alert_id, user_id)
);

CREATE TABLE IF NOT EXISTS notification_deliveries (
	id               BIGSERIAL PRIMARY KEY,
	alert_id         BIGINT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
	user_id          BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	channel          TEXT NOT NULL,
	status           TEXT NOT NULL CHECK (status IN ('sent', 'failed')),
	message_snapshot TEXT NOT NULL,
	error            TEXT NOT NULL DEFAULT '',
	sent_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS alert_preferences (
	id               BIGSERIAL PRIMARY KEY,
	alert_id         BIGINT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
	user_id          BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	is_read          BOOLEAN NOT NULL DEFAULT FALSE,
	snoozed_on       DATE,
	last_reminded_at TIMESTAMPTZ,
	first_seen_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (alert_id, user_id)
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   BIGINT,
	routing_key    TEXT NOT NULL,
	payload        JSONB NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	next_retry_at  TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_users_team_id ON users(team_id);
CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts(start_at, expires_at) WHERE NOT archived;
CREATE INDEX IF NOT EXISTS idx_deliveries_alert ON notification_deliveries(alert_id, sent_at DESC);
CREATE INDEX IF NOT EXISTS idx_preferences_user ON alert_preferences(user_id);
CREATE INDEX IF NOT EXISTS idx_preferences_unread ON alert_preferences(id) WHERE NOT is_read;
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_events(status, next_retry_at, id);
`,
	},
}
