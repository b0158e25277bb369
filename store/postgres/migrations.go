package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Tally store.
var Migrations = migrate.NewGroup("tally")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tally_plans",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_plans (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    slug             TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'draft',
    trial_days       INT NOT NULL DEFAULT 0,
    features         JSONB NOT NULL DEFAULT '{}',
    price_cents      BIGINT NOT NULL DEFAULT 0,
    price_currency   TEXT NOT NULL DEFAULT 'brl',
    billing_interval TEXT NOT NULL DEFAULT 'monthly',
    metadata         JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_plans_slug ON tally_plans (slug);
CREATE INDEX IF NOT EXISTS idx_tally_plans_status ON tally_plans (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_plans`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_subscriptions",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_subscriptions (
    id                   TEXT PRIMARY KEY,
    user_id              TEXT NOT NULL DEFAULT '',
    plan_id              TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL DEFAULT 'incomplete',
    current_period_start TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    current_period_end   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
    provider_sub_id      TEXT NOT NULL DEFAULT '',
    provider_customer_id TEXT NOT NULL DEFAULT '',
    provider_updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    metadata             JSONB NOT NULL DEFAULT '{}',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tally_subs_user ON tally_subscriptions (user_id);
CREATE INDEX IF NOT EXISTS idx_tally_subs_user_status ON tally_subscriptions (user_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_subs_provider ON tally_subscriptions (provider_sub_id) WHERE provider_sub_id != '';
CREATE INDEX IF NOT EXISTS idx_tally_subs_customer ON tally_subscriptions (provider_customer_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_usage_counters",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_usage_counters (
    counter_key  TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL DEFAULT '',
    feature      TEXT NOT NULL DEFAULT '',
    period_start TIMESTAMPTZ NOT NULL,
    count        BIGINT NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tally_counters_user_period ON tally_usage_counters (user_id, period_start);
CREATE INDEX IF NOT EXISTS idx_tally_counters_period ON tally_usage_counters (period_start);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_usage_counters`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_audit_records",
			Version: "20250301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_audit_records (
    id         TEXT PRIMARY KEY,
    actor      TEXT NOT NULL DEFAULT '',
    action     TEXT NOT NULL DEFAULT '',
    target     TEXT NOT NULL DEFAULT '',
    detail     TEXT NOT NULL DEFAULT '',
    metadata   JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tally_audit_actor ON tally_audit_records (actor, created_at);
CREATE INDEX IF NOT EXISTS idx_tally_audit_action ON tally_audit_records (action, created_at);
CREATE INDEX IF NOT EXISTS idx_tally_audit_created ON tally_audit_records (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_audit_records`)
				return err
			},
		},
	)
}
