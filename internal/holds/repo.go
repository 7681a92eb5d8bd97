package holds

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

func (r *Repo) Create(ctx context.Context, h bargain.Hold) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// session expiry tracks the hold so lazy expiry and the hold sweep agree
	tag, err := tx.Exec(ctx, `
		UPDATE bargain_sessions SET status = $1, expires_at = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`, bargain.StatusHeld, h.ExpiresAt, h.SessionID, bargain.StatusAccepted)
	if err != nil {
		return fmt.Errorf("hold session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session already held", bargain.ErrHoldConflict)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bargain_holds
			(id, session_id, negotiated_cents, original_cents, currency, status, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, h.ID, h.SessionID, h.NegotiatedCents, h.OriginalCents, h.Currency, h.Status, h.ExpiresAt, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert hold: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, id string) (bargain.Hold, error) {
	var h bargain.Hold
	err := r.pool.QueryRow(ctx, `
		SELECT id, session_id, negotiated_cents, original_cents, currency, status,
		       COALESCE(booking_ref, ''), expires_at, created_at
		FROM bargain_holds WHERE id = $1
	`, id).Scan(&h.ID, &h.SessionID, &h.NegotiatedCents, &h.OriginalCents, &h.Currency,
		&h.Status, &h.BookingRef, &h.ExpiresAt, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return bargain.Hold{}, bargain.ErrHoldNotFound
	}
	if err != nil {
		return bargain.Hold{}, fmt.Errorf("select hold: %w", err)
	}
	return h, nil
}

func (r *Repo) Consume(ctx context.Context, id, bookingRef string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE bargain_holds SET status = $1, booking_ref = $2
		WHERE id = $3 AND status = $4
	`, bargain.HoldConsumed, bookingRef, id, bargain.HoldActive)
	if err != nil {
		return fmt.Errorf("consume hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// lost the race; a concurrent retry with the same reference may
		// have landed first, which still counts as success
		var st bargain.HoldStatus
		var ref string
		err := tx.QueryRow(ctx, `
			SELECT status, COALESCE(booking_ref, '') FROM bargain_holds WHERE id = $1
		`, id).Scan(&st, &ref)
		if errors.Is(err, pgx.ErrNoRows) {
			return bargain.ErrHoldNotFound
		}
		if err != nil {
			return fmt.Errorf("recheck hold: %w", err)
		}
		if st == bargain.HoldConsumed && ref == bookingRef {
			return tx.Commit(ctx)
		}
		return fmt.Errorf("%w: hold no longer active", bargain.ErrHoldConflict)
	}

	_, err = tx.Exec(ctx, `
		UPDATE bargain_sessions SET status = $1, updated_at = now()
		WHERE id = (SELECT session_id FROM bargain_holds WHERE id = $2) AND status = $3
	`, bargain.StatusBooked, id, bargain.StatusHeld)
	if err != nil {
		return fmt.Errorf("book session: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *Repo) Close(ctx context.Context, id string, to bargain.HoldStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE bargain_holds SET status = $1 WHERE id = $2 AND status = $3
	`, to, id, bargain.HoldActive)
	if err != nil {
		return fmt.Errorf("close hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: hold no longer active", bargain.ErrHoldConflict)
	}

	_, err = tx.Exec(ctx, `
		UPDATE bargain_sessions SET status = $1, updated_at = now()
		WHERE id = (SELECT session_id FROM bargain_holds WHERE id = $2) AND status = $3
	`, bargain.StatusExpired, id, bargain.StatusHeld)
	if err != nil {
		return fmt.Errorf("expire session: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *Repo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE bargain_holds SET status = $1
		WHERE status = $2 AND expires_at < $3
	`, bargain.HoldExpired, bargain.HoldActive, now)
	if err != nil {
		return 0, fmt.Errorf("sweep holds: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE bargain_sessions SET status = $1, updated_at = now()
		WHERE status = $2 AND id IN (
			SELECT session_id FROM bargain_holds WHERE status = $3 AND expires_at < $4
		)
	`, bargain.StatusExpired, bargain.StatusHeld, bargain.HoldExpired, now)
	if err != nil {
		return 0, fmt.Errorf("sweep held sessions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
