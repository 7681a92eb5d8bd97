package httpx

import (
	"fmt"
	"net/http"

	"github.com/faredown/bargain-engine/internal/clock"
	"github.com/faredown/bargain-engine/internal/obs"
	"github.com/faredown/bargain-engine/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window per-identity rate limit backed by Redis.
// The identity is the X-User-Id header when present, the client IP
// otherwise. Redis being down fails open: limiting is protection, not
// correctness.
type Limiter struct {
	rdb *redis.Client
	clk clock.Clock
}

func NewLimiter(rdb *redis.Client, clk clock.Clock) *Limiter {
	return &Limiter{rdb: rdb, clk: clk}
}

func (l *Limiter) Limit(scope string, perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil || l.rdb == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := r.Header.Get("X-User-Id")
			if identity == "" {
				identity = r.RemoteAddr
			}
			key := fmt.Sprintf(redisx.KeyRateLimit, scope, identity, l.clk.Now().Unix()/60)

			n, err := l.rdb.Incr(r.Context(), key).Result()
			if err != nil {
				obs.Logger.Warn("rate limit check failed", "scope", scope, "error", err.Error())
				next.ServeHTTP(w, r)
				return
			}
			if n == 1 {
				_ = l.rdb.Expire(r.Context(), key, redisx.TTLRateLimit).Err()
			}
			if n > int64(perMinute) {
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					Error: fmt.Sprintf("rate limit exceeded for %s", scope),
					Code:  "RATE_LIMITED",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
