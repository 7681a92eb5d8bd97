package analytics

import (
	"context"
	"fmt"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Insert appends the event; the unique index on event_id makes replays
// after a missed Redis dedup a no-op.
func (r *Repo) Insert(ctx context.Context, env bargain.Envelope, raw []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bargain_events_raw (event_id, event_type, correlation_id, occurred_at, payload)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (event_id) DO NOTHING
	`, env.EventID, env.EventType, env.CorrelationID, env.OccurredAt, raw)
	if err != nil {
		return fmt.Errorf("insert raw event: %w", err)
	}
	return nil
}
