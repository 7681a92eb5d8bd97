package capsule

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/clock"
)

type memStore struct {
	mu       sync.Mutex
	capsules map[string]bargain.AuditCapsule
}

func (m *memStore) Save(_ context.Context, c bargain.AuditCapsule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capsules == nil {
		m.capsules = map[string]bargain.AuditCapsule{}
	}
	if _, dup := m.capsules[c.SessionID]; dup {
		return errors.New("capsule already exists")
	}
	m.capsules[c.SessionID] = c
	return nil
}

func (m *memStore) Get(_ context.Context, sessionID string) (bargain.AuditCapsule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.capsules[sessionID]
	if !ok {
		return bargain.AuditCapsule{}, bargain.ErrCapsuleNotFound
	}
	return c, nil
}

const testSeed = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

func newTestSigner(t *testing.T) (*Signer, *memStore) {
	t.Helper()
	store := &memStore{}
	s, err := NewSigner(testSeed, store, clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s, store
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()

	s, store := newTestSigner(t)
	c, err := s.Sign(context.Background(), "s1", 13000, 9000)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if c.ProfitMarginPct != 30.77 {
		t.Fatalf("expected margin 30.77, got %v", c.ProfitMarginPct)
	}
	if err := s.Verify(c); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, ok := store.capsules["s1"]; !ok {
		t.Fatal("capsule not persisted")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	t.Parallel()

	s, _ := newTestSigner(t)
	c, err := s.Sign(context.Background(), "s1", 13000, 9000)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := map[string]func(bargain.AuditCapsule) bargain.AuditCapsule{
		"price bumped":    func(c bargain.AuditCapsule) bargain.AuditCapsule { c.FinalPriceCents = 12000; return c },
		"cost lowered":    func(c bargain.AuditCapsule) bargain.AuditCapsule { c.TrueCostCents = 1; return c },
		"margin inflated": func(c bargain.AuditCapsule) bargain.AuditCapsule { c.ProfitMarginPct = 99; return c },
		"time shifted":    func(c bargain.AuditCapsule) bargain.AuditCapsule { c.SignedAt = c.SignedAt.Add(time.Hour); return c },
		"session swapped": func(c bargain.AuditCapsule) bargain.AuditCapsule { c.SessionID = "s2"; return c },
		"garbage sig":     func(c bargain.AuditCapsule) bargain.AuditCapsule { c.Signature = "zz"; return c },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			if err := s.Verify(mutate(c)); !errors.Is(err, bargain.ErrCapsuleTampered) {
				t.Fatalf("expected ErrCapsuleTampered, got %v", err)
			}
		})
	}
}

// The store column is timestamptz, which keeps microseconds. A capsule
// signed on a nanosecond clock must still verify after the read-back
// drops the sub-microsecond part.
func TestVerifyAfterStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC))
	s, err := NewSigner(testSeed, store, clk)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	c, err := s.Sign(context.Background(), "s1", 13000, 9000)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if c.SignedAt.Nanosecond()%1000 != 0 {
		t.Fatalf("signed_at carries sub-microsecond precision: %v", c.SignedAt)
	}

	roundTripped := c
	roundTripped.SignedAt = c.SignedAt.Truncate(time.Microsecond)
	if err := s.Verify(roundTripped); err != nil {
		t.Fatalf("verify after round-trip: %v", err)
	}
}

func TestSignIsDeterministicForSameKeyAndInput(t *testing.T) {
	t.Parallel()

	a, _ := newTestSigner(t)
	b, _ := newTestSigner(t)
	ca, err := a.Sign(context.Background(), "s1", 13000, 9000)
	if err != nil {
		t.Fatalf("sign a: %v", err)
	}
	cb, err := b.Sign(context.Background(), "s1", 13000, 9000)
	if err != nil {
		t.Fatalf("sign b: %v", err)
	}
	if ca.Signature != cb.Signature {
		t.Fatal("same seed and input must produce the same signature")
	}
}

func TestNewSignerSeedValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewSigner("not-hex", &memStore{}, clock.NewSystem()); err == nil {
		t.Fatal("expected error for non-hex seed")
	}
	if _, err := NewSigner("abcd", &memStore{}, clock.NewSystem()); err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Fatalf("expected seed length error, got %v", err)
	}

	// empty seed falls back to an ephemeral key
	s, err := NewSigner("", &memStore{}, clock.NewSystem())
	if err != nil {
		t.Fatalf("ephemeral signer: %v", err)
	}
	if len(s.PublicKeyHex()) != 64 {
		t.Fatalf("unexpected public key %q", s.PublicKeyHex())
	}
}

func TestMarginPct(t *testing.T) {
	t.Parallel()

	cases := []struct {
		final, cost int64
		want        float64
	}{
		{13000, 9000, 30.77},
		{10000, 10000, 0},
		{10000, 0, 100},
		{0, 5000, 0},
	}
	for _, c := range cases {
		if got := marginPct(c.final, c.cost); got != c.want {
			t.Errorf("marginPct(%d, %d) = %v, want %v", c.final, c.cost, got, c.want)
		}
	}
}
