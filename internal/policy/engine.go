package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/clock"
	"github.com/faredown/bargain-engine/internal/obs"
)

type Repository interface {
	ActivePolicies(ctx context.Context) ([]bargain.Policy, error)
	ModuleSettings(ctx context.Context) ([]bargain.ModuleSettings, error)
}

type Verdict struct {
	Offerable bool
	Reason    string
	PolicyID  string
}

type compiledPolicy struct {
	id       string
	expr     Expr
	parseErr error
}

// Engine evaluates active policies against a negotiation context. Policies
// and module settings are cached in memory and re-checked once the cache
// is older than the configured TTL.
type Engine struct {
	repo Repository
	clk  clock.Clock
	ttl  time.Duration

	mu       sync.RWMutex
	policies []compiledPolicy
	settings map[string]bargain.ModuleSettings
	loadedAt time.Time
}

func NewEngine(repo Repository, clk clock.Clock, ttl time.Duration) *Engine {
	return &Engine{repo: repo, clk: clk, ttl: ttl, settings: map[string]bargain.ModuleSettings{}}
}

// Refresh reloads policies and settings unconditionally.
func (e *Engine) Refresh(ctx context.Context) error {
	pols, err := e.repo.ActivePolicies(ctx)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	sets, err := e.repo.ModuleSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	compiled := make([]compiledPolicy, 0, len(pols))
	for _, p := range pols {
		cp := compiledPolicy{id: p.ID}
		cp.expr, cp.parseErr = Parse(p.Expression)
		if cp.parseErr != nil {
			obs.Logger.Error("policy failed to parse, will fail closed",
				"policy_id", p.ID, "error", cp.parseErr.Error())
		}
		compiled = append(compiled, cp)
	}
	// deterministic evaluation order
	sort.Slice(compiled, func(i, j int) bool { return compiled[i].id < compiled[j].id })

	byModule := make(map[string]bargain.ModuleSettings, len(sets))
	for _, s := range sets {
		byModule[s.Module] = s
	}

	e.mu.Lock()
	e.policies = compiled
	e.settings = byModule
	e.loadedAt = e.clk.Now()
	e.mu.Unlock()
	return nil
}

func (e *Engine) maybeRefresh(ctx context.Context) error {
	e.mu.RLock()
	fresh := !e.loadedAt.IsZero() && e.clk.Now().Sub(e.loadedAt) < e.ttl
	loaded := !e.loadedAt.IsZero()
	e.mu.RUnlock()
	if fresh {
		return nil
	}
	if err := e.Refresh(ctx); err != nil {
		if loaded {
			// keep serving the stale cache; the re-check happened
			obs.Logger.Warn("policy refresh failed, serving stale cache", "error", err.Error())
			return nil
		}
		return err
	}
	return nil
}

// Evaluate runs every active policy against evalCtx in policy-id order.
// The first failing policy short-circuits; a policy that errors during
// evaluation counts as failed (fail closed). No active policies means
// bargaining is unrestricted.
func (e *Engine) Evaluate(ctx context.Context, evalCtx map[string]any) (Verdict, error) {
	if err := e.maybeRefresh(ctx); err != nil {
		return Verdict{}, err
	}

	e.mu.RLock()
	policies := e.policies
	e.mu.RUnlock()

	if len(policies) == 0 {
		return Verdict{Offerable: true, Reason: "no active policies"}, nil
	}

	for _, p := range policies {
		if p.parseErr != nil {
			return Verdict{Offerable: false, Reason: "policy evaluation error", PolicyID: p.id}, nil
		}
		ok, err := p.expr.Eval(evalCtx)
		if err != nil {
			obs.Logger.Warn("policy evaluation error", "policy_id", p.id, "error", err.Error())
			return Verdict{Offerable: false, Reason: "policy evaluation error", PolicyID: p.id}, nil
		}
		if !ok {
			return Verdict{Offerable: false, Reason: fmt.Sprintf("policy %s failed", p.id), PolicyID: p.id}, nil
		}
	}
	return Verdict{Offerable: true, Reason: "all policies passed"}, nil
}

// Settings returns the cached per-module negotiation settings.
func (e *Engine) Settings(ctx context.Context, module string) (bargain.ModuleSettings, error) {
	if err := e.maybeRefresh(ctx); err != nil {
		return bargain.ModuleSettings{}, err
	}
	e.mu.RLock()
	s, ok := e.settings[module]
	e.mu.RUnlock()
	if !ok {
		return bargain.ModuleSettings{}, bargain.ErrSettingsNotFound
	}
	return s, nil
}
