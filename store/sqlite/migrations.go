package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the hotel ledger store (SQLite).
var Migrations = migrate.NewGroup("hotelledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_hl_organizations",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hl_organizations (
    id                   TEXT PRIMARY KEY,
    name                 TEXT NOT NULL DEFAULT '',
    billing_email        TEXT NOT NULL DEFAULT '',
    external_customer_id TEXT NOT NULL DEFAULT '',
    metadata             TEXT NOT NULL DEFAULT '{}',
    created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS hl_hotels (
    id              TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL REFERENCES hl_organizations (id),
    name            TEXT NOT NULL DEFAULT '',
    created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hl_hotels_org ON hl_hotels (organization_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hl_hotels;
DROP TABLE IF EXISTS hl_organizations`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hl_subscriptions",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hl_subscriptions (
    id                       TEXT PRIMARY KEY,
    organization_id          TEXT NOT NULL,
    plan_id                  TEXT NOT NULL,
    status                   TEXT NOT NULL DEFAULT 'active',
    started_at               DATETIME NOT NULL DEFAULT (datetime('now')),
    expires_at               DATETIME,
    ended_at                 DATETIME,
    external_customer_id     TEXT NOT NULL DEFAULT '',
    external_subscription_id TEXT NOT NULL DEFAULT '',
    payment_failed_count     INTEGER NOT NULL DEFAULT 0,
    metadata                 TEXT NOT NULL DEFAULT '{}',
    created_at               DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at               DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_hl_subs_one_active ON hl_subscriptions (organization_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_hl_subs_org_status ON hl_subscriptions (organization_id, status);
CREATE INDEX IF NOT EXISTS idx_hl_subs_external ON hl_subscriptions (external_subscription_id) WHERE external_subscription_id != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hl_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hl_ledger_transactions",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hl_ledger_transactions (
    id             TEXT PRIMARY KEY,
    principal_id   TEXT NOT NULL,
    seq            INTEGER NOT NULL,
    amount         INTEGER NOT NULL,
    balance_before INTEGER NOT NULL,
    balance_after  INTEGER NOT NULL CHECK (balance_after >= 0),
    type           TEXT NOT NULL,
    reference_id   TEXT NOT NULL DEFAULT '',
    description    TEXT NOT NULL DEFAULT '',
    created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_hl_ltx_principal_seq ON hl_ledger_transactions (principal_id, seq);
CREATE UNIQUE INDEX IF NOT EXISTS idx_hl_ltx_reference ON hl_ledger_transactions (reference_id) WHERE reference_id != '';
CREATE INDEX IF NOT EXISTS idx_hl_ltx_principal_created ON hl_ledger_transactions (principal_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hl_ledger_transactions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hl_product_activations",
			Version: "20250301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hl_product_activations (
    id         TEXT PRIMARY KEY,
    hotel_id   TEXT NOT NULL,
    product_id TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'inactive',
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_hl_activations_hotel_product ON hl_product_activations (hotel_id, product_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hl_product_activations`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hl_webhook_events",
			Version: "20250301000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hl_webhook_events (
    id           TEXT PRIMARY KEY,
    provider     TEXT NOT NULL,
    external_id  TEXT NOT NULL,
    type         TEXT NOT NULL DEFAULT '',
    processed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_hl_events_provider_external ON hl_webhook_events (provider, external_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hl_webhook_events`)
				return err
			},
		},
	)
}
