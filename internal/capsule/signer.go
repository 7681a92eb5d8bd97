// Package capsule produces signed audit records for accepted prices.
// Each capsule binds the final price to the true cost at acceptance
// time; the signature makes after-the-fact tampering detectable.
package capsule

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/clock"
	"github.com/faredown/bargain-engine/internal/obs"
)

type Store interface {
	Save(ctx context.Context, c bargain.AuditCapsule) error
	Get(ctx context.Context, sessionID string) (bargain.AuditCapsule, error)
}

type Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	store Store
	clk   clock.Clock
}

// NewSigner derives the keypair from a 32-byte hex seed. An empty seed
// generates an ephemeral key; capsules then only verify within the
// process lifetime, which is fine for development but not production.
func NewSigner(hexSeed string, store Store, clk clock.Clock) (*Signer, error) {
	var priv ed25519.PrivateKey
	if hexSeed == "" {
		obs.Logger.Warn("no signing key configured, using ephemeral keypair")
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		priv = generated
	} else {
		seed, err := hex.DecodeString(hexSeed)
		if err != nil {
			return nil, fmt.Errorf("decode signing key seed: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		priv = ed25519.NewKeyFromSeed(seed)
	}
	return &Signer{
		priv:  priv,
		pub:   priv.Public().(ed25519.PublicKey),
		store: store,
		clk:   clk,
	}, nil
}

func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}

// Sign builds, signs and persists the capsule for an accepted session.
// SignedAt is truncated to microseconds before signing: timestamptz
// stores no finer, and the capsule must verify after a store round-trip.
func (s *Signer) Sign(ctx context.Context, sessionID string, finalPriceCents, trueCostCents int64) (bargain.AuditCapsule, error) {
	c := bargain.AuditCapsule{
		SessionID:       sessionID,
		FinalPriceCents: finalPriceCents,
		TrueCostCents:   trueCostCents,
		ProfitMarginPct: marginPct(finalPriceCents, trueCostCents),
		SignedAt:        s.clk.Now().Truncate(time.Microsecond),
	}
	c.Signature = hex.EncodeToString(ed25519.Sign(s.priv, canonical(c)))

	if err := s.store.Save(ctx, c); err != nil {
		return bargain.AuditCapsule{}, fmt.Errorf("persist capsule: %w", err)
	}
	return c, nil
}

// Verify re-derives the canonical form and checks the signature.
func (s *Signer) Verify(c bargain.AuditCapsule) error {
	sig, err := hex.DecodeString(c.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", bargain.ErrCapsuleTampered)
	}
	if !ed25519.Verify(s.pub, canonical(c), sig) {
		return bargain.ErrCapsuleTampered
	}
	return nil
}

func (s *Signer) Get(ctx context.Context, sessionID string) (bargain.AuditCapsule, error) {
	return s.store.Get(ctx, sessionID)
}

func marginPct(finalCents, costCents int64) float64 {
	if finalCents == 0 {
		return 0
	}
	pct := float64(finalCents-costCents) / float64(finalCents) * 100
	return math.Round(pct*100) / 100
}

// canonical serializes the signed fields as JSON with keys in sorted
// order, so the byte form is stable regardless of struct layout.
// encoding/json sorts map keys, which does the work for us.
func canonical(c bargain.AuditCapsule) []byte {
	raw, err := json.Marshal(map[string]any{
		"session_id":        c.SessionID,
		"final_price_cents": c.FinalPriceCents,
		"true_cost_cents":   c.TrueCostCents,
		"profit_margin_pct": c.ProfitMarginPct,
		"signed_at":         c.SignedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		// map of scalars cannot fail to marshal
		panic(err)
	}
	return raw
}
