package capsule

import (
	"context"
	"errors"
	"fmt"

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

// Save writes the capsule once; capsules are immutable, a second write
// for the same session is an error.
func (r *Repo) Save(ctx context.Context, c bargain.AuditCapsule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_capsules
			(session_id, final_price_cents, true_cost_cents, profit_margin_pct, signature, signed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, c.SessionID, c.FinalPriceCents, c.TrueCostCents, c.ProfitMarginPct, c.Signature, c.SignedAt)
	if err != nil {
		return fmt.Errorf("insert capsule: %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, sessionID string) (bargain.AuditCapsule, error) {
	var c bargain.AuditCapsule
	err := r.pool.QueryRow(ctx, `
		SELECT session_id, final_price_cents, true_cost_cents, profit_margin_pct, signature, signed_at
		FROM audit_capsules WHERE session_id = $1
	`, sessionID).Scan(&c.SessionID, &c.FinalPriceCents, &c.TrueCostCents, &c.ProfitMarginPct, &c.Signature, &c.SignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return bargain.AuditCapsule{}, bargain.ErrCapsuleNotFound
	}
	if err != nil {
		return bargain.AuditCapsule{}, fmt.Errorf("select capsule: %w", err)
	}
	return c, nil
}
