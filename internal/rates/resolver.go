package rates

import (
	"context"
	"math"
	"time"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/clock"
	"github.com/faredown/bargain-engine/internal/obs"
)

type Source string

const (
	SourceCache    Source = "cache"
	SourceStore    Source = "store"
	SourceFallback Source = "fallback"
)

const (
	ReasonCircuitOpen  = "CIRCUIT_OPEN"
	ReasonRateNotFound = "RATE_NOT_FOUND"
	ReasonRateStale    = "RATE_STALE"
)

type Resolution struct {
	CostCents      int64
	Source         Source
	SupplierID     string
	Staleness      time.Duration
	FallbackReason string
}

type RateCache interface {
	Get(ctx context.Context, productKey string) (*bargain.SupplierRate, error)
	Set(ctx context.Context, rate bargain.SupplierRate, ttl time.Duration) error
}

type RateStore interface {
	Latest(ctx context.Context, productKey string) (*bargain.SupplierRate, error)
}

// Resolver obtains the authoritative cost for a product with a layered
// fallback chain: cache, durable store behind a circuit breaker, then a
// synthetic cost derived from the displayed price. It never returns an
// error; the Resolution is always usable and labeled with its provenance.
type Resolver struct {
	cache        RateCache
	store        RateStore
	breaker      *Breaker
	clk          clock.Clock
	sink         bargain.EventSink
	fallbackFrac float64
	maxStaleness time.Duration
	cacheTTL     time.Duration
}

func NewResolver(cache RateCache, store RateStore, breaker *Breaker, clk clock.Clock, sink bargain.EventSink, fallbackFrac float64, maxStaleness, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		cache:        cache,
		store:        store,
		breaker:      breaker,
		clk:          clk,
		sink:         sink,
		fallbackFrac: fallbackFrac,
		maxStaleness: maxStaleness,
		cacheTTL:     cacheTTL,
	}
}

func (r *Resolver) ResolveCost(ctx context.Context, productKey string, displayedCents int64) Resolution {
	now := r.clk.Now()

	if cached, err := r.cache.Get(ctx, productKey); err == nil && cached != nil {
		return Resolution{
			CostCents:  cached.CostCents,
			Source:     SourceCache,
			SupplierID: cached.SupplierID,
			Staleness:  now.Sub(cached.UpdatedAt),
		}
	}

	if !r.breaker.Allow() {
		return r.fallback(ctx, productKey, displayedCents, ReasonCircuitOpen)
	}

	rate, err := r.store.Latest(ctx, productKey)
	if err != nil {
		r.breaker.Failure()
		obs.Logger.Warn("rate store lookup failed", "product_key", productKey, "error", err.Error())
		return r.fallback(ctx, productKey, displayedCents, ReasonRateStale)
	}
	r.breaker.Success()

	if rate == nil {
		return r.fallback(ctx, productKey, displayedCents, ReasonRateNotFound)
	}

	staleness := now.Sub(rate.UpdatedAt)
	if staleness > r.maxStaleness {
		return r.fallback(ctx, productKey, displayedCents, ReasonRateStale)
	}

	_ = r.cache.Set(ctx, *rate, r.cacheTTL)
	return Resolution{
		CostCents:  rate.CostCents,
		Source:     SourceStore,
		SupplierID: rate.SupplierID,
		Staleness:  staleness,
	}
}

func (r *Resolver) fallback(ctx context.Context, productKey string, displayedCents int64, reason string) Resolution {
	cost := int64(math.Round(float64(displayedCents) * r.fallbackFrac))
	r.sink.Emit(ctx, bargain.EventRateFallback, productKey, bargain.RateFallbackPayload{
		ProductKey: productKey,
		Reason:     reason,
	})
	obs.Logger.Info("rate fallback", "product_key", productKey, "reason", reason)
	return Resolution{
		CostCents:      cost,
		Source:         SourceFallback,
		SupplierID:     "fallback",
		FallbackReason: reason,
	}
}
