package holds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/clock"
)

type memStore struct {
	mu       sync.Mutex
	holds    map[string]bargain.Hold
	sessions map[string]bargain.Session

	// staleReads serves holds as still active, mimicking a reader that
	// raced past a concurrent consume before it committed
	staleReads bool
}

func newMemStore() *memStore {
	return &memStore{
		holds:    map[string]bargain.Hold{},
		sessions: map[string]bargain.Session{},
	}
}

func (m *memStore) Create(_ context.Context, h bargain.Hold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h.SessionID]
	if !ok || s.Status != bargain.StatusAccepted {
		return fmt.Errorf("%w: session already held", bargain.ErrHoldConflict)
	}
	s.Status = bargain.StatusHeld
	m.sessions[h.SessionID] = s
	m.holds[h.ID] = h
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (bargain.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok {
		return bargain.Hold{}, bargain.ErrHoldNotFound
	}
	if m.staleReads {
		h.Status = bargain.HoldActive
		h.BookingRef = ""
	}
	return h, nil
}

func (m *memStore) Consume(_ context.Context, id, bookingRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok {
		return bargain.ErrHoldNotFound
	}
	if h.Status != bargain.HoldActive {
		if h.Status == bargain.HoldConsumed && h.BookingRef == bookingRef {
			return nil
		}
		return fmt.Errorf("%w: hold no longer active", bargain.ErrHoldConflict)
	}
	h.Status = bargain.HoldConsumed
	h.BookingRef = bookingRef
	m.holds[id] = h
	if s, ok := m.sessions[h.SessionID]; ok && s.Status == bargain.StatusHeld {
		s.Status = bargain.StatusBooked
		m.sessions[h.SessionID] = s
	}
	return nil
}

func (m *memStore) Close(_ context.Context, id string, to bargain.HoldStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok || h.Status != bargain.HoldActive {
		return fmt.Errorf("%w: hold no longer active", bargain.ErrHoldConflict)
	}
	h.Status = to
	m.holds[id] = h
	if s, ok := m.sessions[h.SessionID]; ok && s.Status == bargain.StatusHeld {
		s.Status = bargain.StatusExpired
		m.sessions[h.SessionID] = s
	}
	return nil
}

func (m *memStore) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, h := range m.holds {
		if h.Status == bargain.HoldActive && now.After(h.ExpiresAt) {
			h.Status = bargain.HoldExpired
			m.holds[id] = h
			if s, ok := m.sessions[h.SessionID]; ok && s.Status == bargain.StatusHeld {
				s.Status = bargain.StatusExpired
				m.sessions[h.SessionID] = s
			}
			n++
		}
	}
	return n, nil
}

// memStore doubles as the SessionStore view.
type sessionView struct{ *memStore }

func (v sessionView) Get(_ context.Context, id string) (bargain.Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.sessions[id]
	if !ok {
		return bargain.Session{}, bargain.ErrSessionNotFound
	}
	return s, nil
}

type fakeSettings struct{ minutes int }

func (f fakeSettings) Settings(_ context.Context, module string) (bargain.ModuleSettings, error) {
	return bargain.ModuleSettings{Module: module, Enabled: true, Attempts: 3, HoldMinutes: f.minutes}, nil
}

type capturingSink struct {
	mu     sync.Mutex
	events []string
}

func (c *capturingSink) Emit(_ context.Context, eventType, _ string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, eventType)
}

func newHoldFixture(holdMinutes int) (*Service, *memStore, *clock.Fixed) {
	store := newMemStore()
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(store, sessionView{store}, fakeSettings{minutes: holdMinutes}, &capturingSink{}, clk, 15)
	return svc, store, clk
}

func acceptedSession(store *memStore, id string) {
	store.sessions[id] = bargain.Session{
		ID:              id,
		Module:          "hotels",
		Status:          bargain.StatusAccepted,
		DisplayedCents:  14550,
		FinalPriceCents: 13000,
		Currency:        "USD",
	}
}

func TestCreateHold(t *testing.T) {
	t.Parallel()

	svc, store, clk := newHoldFixture(15)
	acceptedSession(store, "s1")

	h, err := svc.Create(context.Background(), "s1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if h.NegotiatedCents != 13000 || h.OriginalCents != 14550 {
		t.Fatalf("unexpected hold prices: %+v", h)
	}
	if want := clk.Now().Add(15 * time.Minute); !h.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, h.ExpiresAt)
	}
	if store.sessions["s1"].Status != bargain.StatusHeld {
		t.Fatalf("expected session held, got %s", store.sessions["s1"].Status)
	}
}

func TestCreateHoldRequiresAcceptedSession(t *testing.T) {
	t.Parallel()

	svc, store, _ := newHoldFixture(15)
	store.sessions["s1"] = bargain.Session{ID: "s1", Status: bargain.StatusRound2}

	if _, err := svc.Create(context.Background(), "s1"); !errors.Is(err, bargain.ErrNotAccepted) {
		t.Fatalf("expected ErrNotAccepted, got %v", err)
	}
}

func TestCreateSecondHoldRejected(t *testing.T) {
	t.Parallel()

	svc, store, _ := newHoldFixture(15)
	acceptedSession(store, "s1")

	if _, err := svc.Create(context.Background(), "s1"); err != nil {
		t.Fatalf("first hold: %v", err)
	}
	if _, err := svc.Create(context.Background(), "s1"); !errors.Is(err, bargain.ErrNotAccepted) {
		t.Fatalf("expected ErrNotAccepted on held session, got %v", err)
	}
}

func TestConsumeHold(t *testing.T) {
	t.Parallel()

	svc, store, _ := newHoldFixture(15)
	acceptedSession(store, "s1")
	h, err := svc.Create(context.Background(), "s1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.Consume(context.Background(), h.ID, "BK-100")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got.Status != bargain.HoldConsumed || got.BookingRef != "BK-100" {
		t.Fatalf("unexpected hold after consume: %+v", got)
	}
	if store.sessions["s1"].Status != bargain.StatusBooked {
		t.Fatalf("expected session booked, got %s", store.sessions["s1"].Status)
	}
}

func TestConsumeIsIdempotentPerBookingRef(t *testing.T) {
	t.Parallel()

	svc, store, _ := newHoldFixture(15)
	acceptedSession(store, "s1")
	h, _ := svc.Create(context.Background(), "s1")

	if _, err := svc.Consume(context.Background(), h.ID, "BK-100"); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	got, err := svc.Consume(context.Background(), h.ID, "BK-100")
	if err != nil {
		t.Fatalf("retry with same ref must succeed, got %v", err)
	}
	if got.BookingRef != "BK-100" {
		t.Fatalf("unexpected booking ref %q", got.BookingRef)
	}

	if _, err := svc.Consume(context.Background(), h.ID, "BK-999"); !errors.Is(err, bargain.ErrHoldConflict) {
		t.Fatalf("different ref must conflict, got %v", err)
	}
}

// Two consumes with the same booking reference may race: the loser's
// conditional update matches nothing, but the store re-checks and treats
// an identical already-committed consume as success.
func TestConsumeConcurrentDuplicateSucceeds(t *testing.T) {
	t.Parallel()

	svc, store, _ := newHoldFixture(15)
	acceptedSession(store, "s1")
	h, _ := svc.Create(context.Background(), "s1")

	if _, err := svc.Consume(context.Background(), h.ID, "BK-100"); err != nil {
		t.Fatalf("first consume: %v", err)
	}

	// the retry read its snapshot before the first consume committed
	store.staleReads = true
	got, err := svc.Consume(context.Background(), h.ID, "BK-100")
	if err != nil {
		t.Fatalf("racing duplicate must succeed, got %v", err)
	}
	if got.Status != bargain.HoldConsumed || got.BookingRef != "BK-100" {
		t.Fatalf("unexpected hold after racing consume: %+v", got)
	}

	if _, err := svc.Consume(context.Background(), h.ID, "BK-999"); !errors.Is(err, bargain.ErrHoldConflict) {
		t.Fatalf("racing consume with a different ref must conflict, got %v", err)
	}
}

// A 15-minute hold consumed at minute 20 fails and the hold flips to
// expired on the spot.
func TestConsumeAfterExpiry(t *testing.T) {
	t.Parallel()

	svc, store, clk := newHoldFixture(15)
	acceptedSession(store, "s1")
	h, _ := svc.Create(context.Background(), "s1")

	clk.Advance(20 * time.Minute)
	if _, err := svc.Consume(context.Background(), h.ID, "BK-100"); !errors.Is(err, bargain.ErrHoldExpired) {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}
	if store.holds[h.ID].Status != bargain.HoldExpired {
		t.Fatalf("expected hold expired, got %s", store.holds[h.ID].Status)
	}
	if store.sessions["s1"].Status != bargain.StatusExpired {
		t.Fatalf("expected session expired, got %s", store.sessions["s1"].Status)
	}
}

func TestReleaseHold(t *testing.T) {
	t.Parallel()

	svc, store, _ := newHoldFixture(15)
	acceptedSession(store, "s1")
	h, _ := svc.Create(context.Background(), "s1")

	if err := svc.Release(context.Background(), h.ID, "user changed dates"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.holds[h.ID].Status != bargain.HoldReleased {
		t.Fatalf("expected released, got %s", store.holds[h.ID].Status)
	}
	if _, err := svc.Consume(context.Background(), h.ID, "BK-1"); !errors.Is(err, bargain.ErrHoldConflict) {
		t.Fatalf("consume after release must conflict, got %v", err)
	}
	if err := svc.Release(context.Background(), h.ID, "again"); !errors.Is(err, bargain.ErrHoldConflict) {
		t.Fatalf("double release must conflict, got %v", err)
	}
}

func TestSweepExpiredHolds(t *testing.T) {
	t.Parallel()

	svc, store, clk := newHoldFixture(15)
	acceptedSession(store, "s1")
	acceptedSession(store, "s2")
	if _, err := svc.Create(context.Background(), "s1"); err != nil {
		t.Fatalf("create s1: %v", err)
	}
	if _, err := svc.Create(context.Background(), "s2"); err != nil {
		t.Fatalf("create s2: %v", err)
	}

	clk.Advance(16 * time.Minute)
	n, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 swept holds, got %d", n)
	}
	if store.sessions["s1"].Status != bargain.StatusExpired {
		t.Fatalf("expected session expired, got %s", store.sessions["s1"].Status)
	}
}
