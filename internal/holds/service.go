package holds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/clock"
	"github.com/faredown/bargain-engine/internal/obs"
	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts the hold and moves its session accepted -> held in
	// one transaction; the conditional session update is what prevents
	// two holds on the same session.
	Create(ctx context.Context, h bargain.Hold) error
	Get(ctx context.Context, id string) (bargain.Hold, error)
	// Consume marks the hold consumed with a booking reference and moves
	// the session held -> booked, transactionally.
	Consume(ctx context.Context, id, bookingRef string) error
	// Close releases or expires the hold and moves the session held ->
	// expired.
	Close(ctx context.Context, id string, to bargain.HoldStatus) error
	// SweepExpired expires overdue active holds and their sessions,
	// returning how many were closed.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

type SessionStore interface {
	Get(ctx context.Context, id string) (bargain.Session, error)
}

type SettingsSource interface {
	Settings(ctx context.Context, module string) (bargain.ModuleSettings, error)
}

type Service struct {
	repo        Repository
	sessions    SessionStore
	settings    SettingsSource
	sink        bargain.EventSink
	clk         clock.Clock
	holdMinutes int
}

// NewService wires the hold workflow. holdMinutes is the fallback TTL
// when a module's settings do not specify one.
func NewService(repo Repository, sessions SessionStore, settings SettingsSource, sink bargain.EventSink, clk clock.Clock, holdMinutes int) *Service {
	return &Service{
		repo:        repo,
		sessions:    sessions,
		settings:    settings,
		sink:        sink,
		clk:         clk,
		holdMinutes: holdMinutes,
	}
}

func (s *Service) Create(ctx context.Context, sessionID string) (bargain.Hold, error) {
	if sessionID == "" {
		return bargain.Hold{}, fmt.Errorf("%w: session_id is required", bargain.ErrValidation)
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return bargain.Hold{}, err
	}
	if sess.Status != bargain.StatusAccepted {
		return bargain.Hold{}, fmt.Errorf("%w: session is %s", bargain.ErrNotAccepted, sess.Status)
	}

	minutes := s.holdMinutes
	if st, err := s.settings.Settings(ctx, sess.Module); err == nil && st.HoldMinutes > 0 {
		minutes = st.HoldMinutes
	}

	now := s.clk.Now()
	h := bargain.Hold{
		ID:              uuid.NewString(),
		SessionID:       sess.ID,
		NegotiatedCents: sess.FinalPriceCents,
		OriginalCents:   sess.DisplayedCents,
		Currency:        sess.Currency,
		Status:          bargain.HoldActive,
		ExpiresAt:       now.Add(time.Duration(minutes) * time.Minute),
		CreatedAt:       now,
	}
	if err := s.repo.Create(ctx, h); err != nil {
		return bargain.Hold{}, err
	}

	s.sink.Emit(ctx, bargain.EventHoldCreated, sess.ID, bargain.HoldEventPayload{
		HoldID:          h.ID,
		SessionID:       sess.ID,
		NegotiatedCents: h.NegotiatedCents,
	})
	return h, nil
}

// Consume books the held price. Retrying with the same booking reference
// is idempotent; a different reference on a consumed hold is a conflict.
func (s *Service) Consume(ctx context.Context, holdID, bookingRef string) (bargain.Hold, error) {
	if holdID == "" || bookingRef == "" {
		return bargain.Hold{}, fmt.Errorf("%w: hold_id and booking_ref are required", bargain.ErrValidation)
	}
	h, err := s.repo.Get(ctx, holdID)
	if err != nil {
		return bargain.Hold{}, err
	}

	switch h.Status {
	case bargain.HoldConsumed:
		if h.BookingRef == bookingRef {
			return h, nil
		}
		return bargain.Hold{}, fmt.Errorf("%w: already consumed by %s", bargain.ErrHoldConflict, h.BookingRef)
	case bargain.HoldReleased, bargain.HoldExpired:
		return bargain.Hold{}, fmt.Errorf("%w: hold is %s", bargain.ErrHoldConflict, h.Status)
	}

	if s.clk.Now().After(h.ExpiresAt) {
		if err := s.repo.Close(ctx, h.ID, bargain.HoldExpired); err != nil && !errors.Is(err, bargain.ErrHoldConflict) {
			obs.Logger.Warn("expiring overdue hold failed", "hold_id", h.ID, "error", err.Error())
		}
		return bargain.Hold{}, bargain.ErrHoldExpired
	}

	if err := s.repo.Consume(ctx, h.ID, bookingRef); err != nil {
		return bargain.Hold{}, err
	}
	h.Status = bargain.HoldConsumed
	h.BookingRef = bookingRef

	s.sink.Emit(ctx, bargain.EventHoldConsumed, h.SessionID, bargain.HoldEventPayload{
		HoldID:          h.ID,
		SessionID:       h.SessionID,
		NegotiatedCents: h.NegotiatedCents,
		BookingRef:      bookingRef,
	})
	return h, nil
}

func (s *Service) Release(ctx context.Context, holdID, reason string) error {
	if holdID == "" {
		return fmt.Errorf("%w: hold_id is required", bargain.ErrValidation)
	}
	h, err := s.repo.Get(ctx, holdID)
	if err != nil {
		return err
	}
	if h.Status != bargain.HoldActive {
		return fmt.Errorf("%w: hold is %s", bargain.ErrHoldConflict, h.Status)
	}
	if err := s.repo.Close(ctx, h.ID, bargain.HoldReleased); err != nil {
		return err
	}
	s.sink.Emit(ctx, bargain.EventHoldReleased, h.SessionID, bargain.HoldEventPayload{
		HoldID:          h.ID,
		SessionID:       h.SessionID,
		NegotiatedCents: h.NegotiatedCents,
		Reason:          reason,
	})
	return nil
}

func (s *Service) Get(ctx context.Context, holdID string) (bargain.Hold, error) {
	return s.repo.Get(ctx, holdID)
}

func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.SweepExpired(ctx, s.clk.Now())
}
