package policy

import (
	"context"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) ActivePolicies(ctx context.Context) ([]bargain.Policy, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT policy_id, rule_expression
		FROM policies
		WHERE is_active = true
		ORDER BY policy_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bargain.Policy
	for rows.Next() {
		var p bargain.Policy
		if err := rows.Scan(&p.ID, &p.Expression); err != nil {
			return nil, err
		}
		p.Active = true
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) ModuleSettings(ctx context.Context) ([]bargain.ModuleSettings, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT module, enabled, attempts, r1_timer_sec, r2_timer_sec, hold_minutes
		FROM bargain_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bargain.ModuleSettings
	for rows.Next() {
		var s bargain.ModuleSettings
		if err := rows.Scan(&s.Module, &s.Enabled, &s.Attempts, &s.R1TimerSec, &s.R2TimerSec, &s.HoldMinutes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
