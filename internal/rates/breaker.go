package rates

import (
	"sync"
	"time"

	"github.com/faredown/bargain-engine/internal/clock"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Breaker guards the durable rate store. After `threshold` consecutive
// failures it opens for `cooldown`, then lets a single probe through.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	clk         clock.Clock
	state       BreakerState
	failures    int
	nextAttempt time.Time
}

func NewBreaker(threshold int, cooldown time.Duration, clk clock.Clock) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		clk:       clk,
		state:     BreakerClosed,
	}
}

// Allow reports whether a call may proceed. When the cooldown has elapsed
// on an open breaker it transitions to half-open and admits one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.clk.Now().Before(b.nextAttempt) {
			return false
		}
		b.state = BreakerHalfOpen
		return true
	}
	if b.state == BreakerHalfOpen {
		// probe already in flight this cooldown window
		return false
	}
	return true
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = BreakerClosed
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
		b.nextAttempt = b.clk.Now().Add(b.cooldown)
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
