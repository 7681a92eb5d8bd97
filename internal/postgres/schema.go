package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied on startup; statements are idempotent so repeated
// boots against the same database are safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS bargain_sessions (
		id                  UUID PRIMARY KEY,
		user_id             TEXT NOT NULL,
		module              TEXT NOT NULL,
		product_key         TEXT NOT NULL,
		displayed_cents     BIGINT NOT NULL,
		resolved_cost_cents BIGINT NOT NULL,
		rate_source         TEXT NOT NULL,
		currency            TEXT NOT NULL,
		user_tier           TEXT NOT NULL DEFAULT '',
		status              TEXT NOT NULL,
		round               INT NOT NULL DEFAULT 0,
		final_price_cents   BIGINT NOT NULL DEFAULT 0,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status_expiry ON bargain_sessions(status, expires_at)`,

	`CREATE TABLE IF NOT EXISTS bargain_offer_events (
		id               UUID PRIMARY KEY,
		session_id       UUID NOT NULL REFERENCES bargain_sessions(id),
		round            INT NOT NULL,
		user_offer_cents BIGINT NOT NULL,
		counter_cents    BIGINT NOT NULL,
		decision         TEXT NOT NULL,
		confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
		latency_ms       BIGINT NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (session_id, round)
	)`,

	`CREATE TABLE IF NOT EXISTS bargain_holds (
		id               UUID PRIMARY KEY,
		session_id       UUID NOT NULL REFERENCES bargain_sessions(id),
		negotiated_cents BIGINT NOT NULL,
		original_cents   BIGINT NOT NULL,
		currency         TEXT NOT NULL,
		status           TEXT NOT NULL,
		booking_ref      TEXT NOT NULL DEFAULT '',
		expires_at       TIMESTAMPTZ NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_holds_status_expiry ON bargain_holds(status, expires_at)`,

	`CREATE TABLE IF NOT EXISTS audit_capsules (
		session_id        UUID PRIMARY KEY REFERENCES bargain_sessions(id),
		final_price_cents BIGINT NOT NULL,
		true_cost_cents   BIGINT NOT NULL,
		profit_margin_pct DOUBLE PRECISION NOT NULL,
		signature         TEXT NOT NULL,
		signed_at         TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS policies (
		policy_id       TEXT PRIMARY KEY,
		rule_expression TEXT NOT NULL,
		is_active       BOOLEAN NOT NULL DEFAULT true
	)`,

	`CREATE TABLE IF NOT EXISTS bargain_settings (
		module       TEXT PRIMARY KEY,
		enabled      BOOLEAN NOT NULL DEFAULT true,
		attempts     INT NOT NULL DEFAULT 3,
		r1_timer_sec INT NOT NULL DEFAULT 30,
		r2_timer_sec INT NOT NULL DEFAULT 30,
		hold_minutes INT NOT NULL DEFAULT 15
	)`,
	`INSERT INTO bargain_settings (module, enabled, attempts) VALUES
		('hotels', true, 3),
		('flights', true, 1),
		('sightseeing', true, 2),
		('transfers', true, 2)
	ON CONFLICT (module) DO NOTHING`,

	`CREATE TABLE IF NOT EXISTS supplier_rates (
		id          BIGSERIAL PRIMARY KEY,
		product_key TEXT NOT NULL,
		cost_cents  BIGINT NOT NULL,
		supplier_id TEXT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rates_key_updated ON supplier_rates(product_key, updated_at DESC)`,

	`CREATE TABLE IF NOT EXISTS bargain_events_raw (
		id             BIGSERIAL PRIMARY KEY,
		event_id       UUID NOT NULL UNIQUE,
		event_type     TEXT NOT NULL,
		correlation_id TEXT NOT NULL DEFAULT '',
		occurred_at    TIMESTAMPTZ NOT NULL,
		payload        JSONB NOT NULL DEFAULT '{}',
		recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func ApplySchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
