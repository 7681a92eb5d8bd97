package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) Create(ctx context.Context, s bargain.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bargain_sessions
			(id, user_id, module, product_key, displayed_cents, resolved_cost_cents,
			 rate_source, currency, user_tier, status, round, created_at, expires_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, s.ID, s.UserID, s.Module, s.ProductKey, s.DisplayedCents, s.ResolvedCostCents,
		s.RateSource, s.Currency, s.UserTier, s.Status, s.Round, s.CreatedAt, s.ExpiresAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (bargain.Session, error) {
	var s bargain.Session
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, module, product_key, displayed_cents, resolved_cost_cents,
		       rate_source, currency, user_tier, status, round,
		       COALESCE(final_price_cents, 0), created_at, expires_at, updated_at
		FROM bargain_sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.UserID, &s.Module, &s.ProductKey, &s.DisplayedCents, &s.ResolvedCostCents,
		&s.RateSource, &s.Currency, &s.UserTier, &s.Status, &s.Round,
		&s.FinalPriceCents, &s.CreatedAt, &s.ExpiresAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return bargain.Session{}, bargain.ErrSessionNotFound
	}
	if err != nil {
		return bargain.Session{}, fmt.Errorf("select session: %w", err)
	}
	return s, nil
}

func (r *Repo) RecordRound(ctx context.Context, ev bargain.OfferEvent, from, to bargain.SessionStatus, newExpiry time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// UNIQUE(session_id, round) makes a double submit of the same round
	// fail here even if two requests raced past the status check.
	_, err = tx.Exec(ctx, `
		INSERT INTO bargain_offer_events
			(id, session_id, round, user_offer_cents, counter_cents, decision, confidence, latency_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, ev.ID, ev.SessionID, ev.Round, ev.UserOfferCents, ev.CounterCents, ev.Decision, ev.Confidence, ev.LatencyMs, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: round %d already recorded", bargain.ErrSessionConflict, ev.Round)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE bargain_sessions
		SET status = $1, round = $2, expires_at = $3, updated_at = now()
		WHERE id = $4 AND status = $5
	`, to, ev.Round, newExpiry, ev.SessionID, from)
	if err != nil {
		return fmt.Errorf("advance session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session moved from %s concurrently", bargain.ErrSessionConflict, from)
	}
	return tx.Commit(ctx)
}

func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to bargain.SessionStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bargain_sessions SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session not in %s", bargain.ErrSessionConflict, from)
	}
	return nil
}

func (r *Repo) Accept(ctx context.Context, id string, from bargain.SessionStatus, finalCents int64, newExpiry time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bargain_sessions
		SET status = $1, final_price_cents = $2, expires_at = $3, updated_at = now()
		WHERE id = $4 AND status = $5
	`, bargain.StatusAccepted, finalCents, newExpiry, id, from)
	if err != nil {
		return fmt.Errorf("accept session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session not in %s", bargain.ErrSessionConflict, from)
	}
	return nil
}

func (r *Repo) OfferEvent(ctx context.Context, sessionID string, round int) (bargain.OfferEvent, error) {
	var ev bargain.OfferEvent
	err := r.pool.QueryRow(ctx, `
		SELECT id, session_id, round, user_offer_cents, counter_cents, decision, confidence, latency_ms, created_at
		FROM bargain_offer_events WHERE session_id = $1 AND round = $2
	`, sessionID, round).Scan(&ev.ID, &ev.SessionID, &ev.Round, &ev.UserOfferCents, &ev.CounterCents,
		&ev.Decision, &ev.Confidence, &ev.LatencyMs, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return bargain.OfferEvent{}, bargain.ErrRoundNotPlayed
	}
	if err != nil {
		return bargain.OfferEvent{}, fmt.Errorf("select offer event: %w", err)
	}
	return ev, nil
}

func (r *Repo) ExpireHolds(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE bargain_holds SET status = $1
		WHERE session_id = $2 AND status = $3
	`, bargain.HoldExpired, sessionID, bargain.HoldActive)
	if err != nil {
		return fmt.Errorf("expire holds: %w", err)
	}
	return nil
}

func (r *Repo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bargain_sessions SET status = $1, updated_at = now()
		WHERE status IN ($2,$3,$4,$5,$6) AND expires_at < $7
	`, bargain.StatusExpired,
		bargain.StatusActive, bargain.StatusRound1, bargain.StatusRound2, bargain.StatusRound3, bargain.StatusAccepted,
		now)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
