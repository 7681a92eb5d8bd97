// Package pricing implements the counter-offer model. Acceptance is
// intentionally stochastic: the decision is a weighted random draw
// against a probability derived from the requested discount, so two
// identical offers may get different answers. Inject a seeded rand
// source to make outcomes reproducible.
package pricing

import (
	"math"
	"math/rand"
	"sync"
)

type Decision struct {
	Accepted   bool
	PriceCents int64
	Confidence float64
}

// counterFactors pull the counter price from the user offer toward the
// displayed price; later rounds concede less.
var counterFactors = [...]float64{0.10, 0.05, 0.02}

// tierFactors soften the counter for higher loyalty tiers.
var tierFactors = map[string]float64{
	"PLATINUM": 0.50,
	"GOLD":     0.75,
	"SILVER":   0.90,
}

type Model struct {
	mu           sync.Mutex
	rng          *rand.Rand
	minMarginPct float64
}

// NewModel builds a model with the given rand source. The minimum margin
// is a percentage of true cost below which no price is ever returned.
func NewModel(rng *rand.Rand, minMarginPct float64) *Model {
	return &Model{rng: rng, minMarginPct: minMarginPct}
}

// FloorCents is the lowest sellable price for a given true cost.
func (m *Model) FloorCents(trueCostCents int64) int64 {
	return FloorCents(trueCostCents, m.minMarginPct)
}

func FloorCents(trueCostCents int64, minMarginPct float64) int64 {
	return int64(math.Ceil(float64(trueCostCents) * (1 + minMarginPct/100)))
}

// AcceptanceChance returns the probability band for a requested discount
// fraction at a given round.
func AcceptanceChance(discount float64, round int) float64 {
	var chance float64
	switch {
	case discount <= 0.20:
		chance = 0.80
	case discount <= 0.30:
		chance = 0.60
	default:
		chance = 0.40
	}
	if round > 1 {
		chance *= 1 - 0.1*float64(round-1)
	}
	if chance < 0.05 {
		chance = 0.05
	}
	return chance
}

// Decide evaluates a user offer. The returned price is always at or
// above the cost floor, whatever the draw says; offers below the floor
// are never accepted.
func (m *Model) Decide(offerCents, displayedCents, trueCostCents int64, round int, userTier string) Decision {
	floor := m.FloorCents(trueCostCents)
	discount := float64(displayedCents-offerCents) / float64(displayedCents)
	chance := AcceptanceChance(discount, round)

	m.mu.Lock()
	draw := m.rng.Float64()
	m.mu.Unlock()

	if offerCents >= floor && draw < chance {
		return Decision{Accepted: true, PriceCents: offerCents, Confidence: chance}
	}

	factor := counterFactors[len(counterFactors)-1]
	if round >= 1 && round <= len(counterFactors) {
		factor = counterFactors[round-1]
	}
	if tf, ok := tierFactors[userTier]; ok {
		factor *= tf
	}

	counter := offerCents + int64(math.Round(float64(displayedCents-offerCents)*factor))
	if counter <= offerCents && displayedCents > offerCents {
		counter = offerCents + 1
	}
	if counter < floor {
		counter = floor
	}
	return Decision{Accepted: false, PriceCents: counter, Confidence: chance}
}
