package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/clock"
	"github.com/faredown/bargain-engine/internal/obs"
	"github.com/faredown/bargain-engine/internal/policy"
	"github.com/faredown/bargain-engine/internal/pricing"
	"github.com/faredown/bargain-engine/internal/rates"
	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s bargain.Session) error
	Get(ctx context.Context, id string) (bargain.Session, error)
	// RecordRound writes the offer event and advances the session in one
	// transaction, conditional on the session still being in `from`.
	RecordRound(ctx context.Context, ev bargain.OfferEvent, from, to bargain.SessionStatus, newExpiry time.Time) error
	UpdateStatus(ctx context.Context, id string, from, to bargain.SessionStatus) error
	Accept(ctx context.Context, id string, from bargain.SessionStatus, finalCents int64, newExpiry time.Time) error
	OfferEvent(ctx context.Context, sessionID string, round int) (bargain.OfferEvent, error)
	// ExpireHolds expires any active hold owned by the session, so a held
	// session lapsing through the lazy check does not strand its hold.
	ExpireHolds(ctx context.Context, sessionID string) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type SnapshotCache interface {
	Get(ctx context.Context, id string) (*bargain.Session, error)
	Set(ctx context.Context, s bargain.Session) error
	Delete(ctx context.Context, id string) error
}

type CostResolver interface {
	ResolveCost(ctx context.Context, productKey string, displayedCents int64) rates.Resolution
}

type Offerability interface {
	Evaluate(ctx context.Context, evalCtx map[string]any) (policy.Verdict, error)
	Settings(ctx context.Context, module string) (bargain.ModuleSettings, error)
}

type Pricer interface {
	Decide(offerCents, displayedCents, trueCostCents int64, round int, userTier string) pricing.Decision
	FloorCents(trueCostCents int64) int64
}

type CapsuleSigner interface {
	Sign(ctx context.Context, sessionID string, finalPriceCents, trueCostCents int64) (bargain.AuditCapsule, error)
}

type Service struct {
	repo     Repository
	cache    SnapshotCache
	resolver CostResolver
	policies Offerability
	pricer   Pricer
	signer   CapsuleSigner
	sink     bargain.EventSink
	clk      clock.Clock
	ttl      time.Duration
}

func NewService(repo Repository, cache SnapshotCache, resolver CostResolver, policies Offerability, pricer Pricer, signer CapsuleSigner, sink bargain.EventSink, clk clock.Clock, sessionTTL time.Duration) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		resolver: resolver,
		policies: policies,
		pricer:   pricer,
		signer:   signer,
		sink:     sink,
		clk:      clk,
		ttl:      sessionTTL,
	}
}

type StartInput struct {
	UserID         string
	Module         string
	ProductKey     string
	DisplayedCents int64
	Currency       string
	UserTier       string
}

type StartResult struct {
	Session    bargain.Session
	MaxRounds  int
	R1TimerSec int
	R2TimerSec int
}

func (s *Service) Start(ctx context.Context, in StartInput) (StartResult, error) {
	if in.UserID == "" || in.Module == "" || in.ProductKey == "" {
		return StartResult{}, fmt.Errorf("%w: user_id, module and product_key are required", bargain.ErrValidation)
	}
	if in.DisplayedCents <= 0 {
		return StartResult{}, fmt.Errorf("%w: displayed_cents must be positive", bargain.ErrValidation)
	}
	if in.Currency == "" {
		in.Currency = "USD"
	}

	settings, err := s.policies.Settings(ctx, in.Module)
	if err != nil {
		if errors.Is(err, bargain.ErrSettingsNotFound) {
			return StartResult{}, fmt.Errorf("%w: unknown module %q", bargain.ErrValidation, in.Module)
		}
		return StartResult{}, err
	}
	if !settings.Enabled {
		return StartResult{}, fmt.Errorf("%w: bargaining disabled for module %s", bargain.ErrPolicyRejected, in.Module)
	}

	// Cost is resolved exactly once per session, here. It is stored on
	// the session row and never re-queried mid-negotiation.
	res := s.resolver.ResolveCost(ctx, in.ProductKey, in.DisplayedCents)

	verdict, err := s.policies.Evaluate(ctx, map[string]any{
		"module":          in.Module,
		"user_tier":       in.UserTier,
		"displayed_cents": in.DisplayedCents,
		"currency":        in.Currency,
		"rate_source":     string(res.Source),
		"round":           1,
	})
	if err != nil {
		return StartResult{}, err
	}
	if !verdict.Offerable {
		// rejected sessions are never persisted
		return StartResult{}, fmt.Errorf("%w: %s", bargain.ErrPolicyRejected, verdict.Reason)
	}

	now := s.clk.Now()
	sess := bargain.Session{
		ID:                uuid.NewString(),
		UserID:            in.UserID,
		Module:            in.Module,
		ProductKey:        in.ProductKey,
		DisplayedCents:    in.DisplayedCents,
		ResolvedCostCents: res.CostCents,
		RateSource:        string(res.Source),
		Currency:          in.Currency,
		UserTier:          in.UserTier,
		Status:            bargain.StatusActive,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.ttl),
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return StartResult{}, err
	}
	_ = s.cache.Set(ctx, sess)

	s.sink.Emit(ctx, bargain.EventSessionStarted, sess.ID, bargain.SessionStartedPayload{
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		Module:         sess.Module,
		ProductKey:     sess.ProductKey,
		DisplayedCents: sess.DisplayedCents,
		RateSource:     sess.RateSource,
		Currency:       sess.Currency,
	})

	return StartResult{
		Session:    sess,
		MaxRounds:  settings.Attempts,
		R1TimerSec: settings.R1TimerSec,
		R2TimerSec: settings.R2TimerSec,
	}, nil
}

type OfferResult struct {
	SessionID  string
	Round      int
	Decision   string
	PriceCents int64
	Confidence float64
	TimerSec   int
	RoundsLeft int
}

func (s *Service) Offer(ctx context.Context, sessionID string, offerCents int64) (OfferResult, error) {
	started := s.clk.Now()

	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return OfferResult{}, err
	}
	if offerCents <= 0 {
		return OfferResult{}, fmt.Errorf("%w: offer_cents must be positive", bargain.ErrValidation)
	}
	if offerCents > sess.DisplayedCents {
		return OfferResult{}, fmt.Errorf("%w: offer above displayed price", bargain.ErrValidation)
	}

	settings, err := s.policies.Settings(ctx, sess.Module)
	if err != nil {
		return OfferResult{}, err
	}

	round := sess.Round + 1
	maxRounds := settings.Attempts
	if maxRounds > 3 {
		maxRounds = 3
	}
	if round > maxRounds {
		return OfferResult{}, fmt.Errorf("%w: module %s allows %d rounds", bargain.ErrRoundLimit, sess.Module, maxRounds)
	}
	to, err := bargain.RoundStatus(round)
	if err != nil {
		return OfferResult{}, fmt.Errorf("%w: %v", bargain.ErrRoundLimit, err)
	}
	if !bargain.CanTransition(sess.Status, to) {
		return OfferResult{}, fmt.Errorf("%w: cannot submit round %d from %s", bargain.ErrSessionConflict, round, sess.Status)
	}

	decision := s.pricer.Decide(offerCents, sess.DisplayedCents, sess.ResolvedCostCents, round, sess.UserTier)
	decisionName := bargain.DecisionCountered
	if decision.Accepted {
		decisionName = bargain.DecisionAccepted
	}

	timerSec := settings.R1TimerSec
	if round > 1 {
		timerSec = settings.R2TimerSec
	}
	now := s.clk.Now()
	newExpiry := now.Add(time.Duration(timerSec) * time.Second)

	ev := bargain.OfferEvent{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		Round:          round,
		UserOfferCents: offerCents,
		CounterCents:   decision.PriceCents,
		Decision:       decisionName,
		Confidence:     decision.Confidence,
		LatencyMs:      now.Sub(started).Milliseconds(),
		CreatedAt:      now,
	}
	if err := s.repo.RecordRound(ctx, ev, sess.Status, to, newExpiry); err != nil {
		return OfferResult{}, err
	}

	sess.Status = to
	sess.Round = round
	sess.ExpiresAt = newExpiry
	sess.UpdatedAt = now
	_ = s.cache.Set(ctx, sess)

	s.sink.Emit(ctx, bargain.EventRoundPlayed, sess.ID, bargain.RoundPlayedPayload{
		SessionID:      sess.ID,
		Round:          round,
		UserOfferCents: offerCents,
		CounterCents:   decision.PriceCents,
		Decision:       decisionName,
		Confidence:     decision.Confidence,
		LatencyMs:      ev.LatencyMs,
	})

	return OfferResult{
		SessionID:  sess.ID,
		Round:      round,
		Decision:   decisionName,
		PriceCents: decision.PriceCents,
		Confidence: decision.Confidence,
		TimerSec:   timerSec,
		RoundsLeft: maxRounds - round,
	}, nil
}

type AcceptResult struct {
	SessionID       string
	FinalPriceCents int64
	Round           int
	Capsule         bargain.AuditCapsule
}

// Accept locks in the price of a played round ("r1".."r3", or the latest
// round when empty). This is the authoritative never-loss gate: a price
// below the cost floor is rejected outright, never adjusted.
func (s *Service) Accept(ctx context.Context, sessionID, selection string) (AcceptResult, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return AcceptResult{}, err
	}

	round := sess.Round
	switch selection {
	case "":
	case "r1":
		round = 1
	case "r2":
		round = 2
	case "r3":
		round = 3
	default:
		return AcceptResult{}, fmt.Errorf("%w: selection must be r1, r2 or r3", bargain.ErrValidation)
	}
	if round < 1 || round > sess.Round {
		return AcceptResult{}, bargain.ErrRoundNotPlayed
	}
	if !bargain.CanTransition(sess.Status, bargain.StatusAccepted) {
		return AcceptResult{}, fmt.Errorf("%w: cannot accept from %s", bargain.ErrSessionConflict, sess.Status)
	}

	ev, err := s.repo.OfferEvent(ctx, sess.ID, round)
	if err != nil {
		return AcceptResult{}, err
	}
	final := ev.CounterCents

	floor := s.pricer.FloorCents(sess.ResolvedCostCents)
	if final < floor {
		obs.Logger.Error("never-loss violation rejected",
			"session_id", sess.ID, "attempted_cents", final, "floor_cents", floor)
		s.sink.Emit(ctx, bargain.EventNeverLossRejected, sess.ID, bargain.NeverLossRejectedPayload{
			SessionID:      sess.ID,
			AttemptedCents: final,
			FloorCents:     floor,
		})
		return AcceptResult{}, bargain.ErrNeverLoss
	}

	// accepting reopens the clock so the user has the full TTL to book
	now := s.clk.Now()
	newExpiry := now.Add(s.ttl)
	if err := s.repo.Accept(ctx, sess.ID, sess.Status, final, newExpiry); err != nil {
		return AcceptResult{}, err
	}

	capsule, err := s.signer.Sign(ctx, sess.ID, final, sess.ResolvedCostCents)
	if err != nil {
		return AcceptResult{}, err
	}

	sess.Status = bargain.StatusAccepted
	sess.FinalPriceCents = final
	sess.ExpiresAt = newExpiry
	sess.UpdatedAt = now
	_ = s.cache.Set(ctx, sess)

	s.sink.Emit(ctx, bargain.EventSessionAccepted, sess.ID, bargain.SessionAcceptedPayload{
		SessionID:       sess.ID,
		FinalPriceCents: final,
		ProfitMarginPct: capsule.ProfitMarginPct,
		Round:           round,
	})

	return AcceptResult{
		SessionID:       sess.ID,
		FinalPriceCents: final,
		Round:           round,
		Capsule:         capsule,
	}, nil
}

func (s *Service) Abandon(ctx context.Context, sessionID, reason string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if !bargain.CanTransition(sess.Status, bargain.StatusAbandoned) {
		return fmt.Errorf("%w: cannot abandon from %s", bargain.ErrSessionConflict, sess.Status)
	}
	if err := s.repo.UpdateStatus(ctx, sess.ID, sess.Status, bargain.StatusAbandoned); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, sess.ID)
	s.sink.Emit(ctx, bargain.EventSessionClosed, sess.ID, bargain.SessionClosedPayload{
		SessionID: sess.ID,
		Outcome:   "abandoned",
		Reason:    reason,
	})
	return nil
}

// Status returns the session after applying lazy expiry.
func (s *Service) Status(ctx context.Context, sessionID string) (bargain.Session, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		var expired *ExpiredError
		if errors.As(err, &expired) {
			return expired.Session, nil
		}
		return bargain.Session{}, err
	}
	return sess, nil
}

// SweepExpired flips stale non-terminal sessions to expired; housekeeping
// only, the lazy check on access is the real guard.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.ExpireStale(ctx, s.clk.Now())
}

// ExpiredError carries the expired session so Status can still report it.
type ExpiredError struct{ Session bargain.Session }

func (e *ExpiredError) Error() string { return bargain.ErrSessionExpired.Error() }

func (e *ExpiredError) Unwrap() error { return bargain.ErrSessionExpired }

// load fetches a session (cache first, store as truth) and applies the
// lazy expiry check.
func (s *Service) load(ctx context.Context, sessionID string) (bargain.Session, error) {
	if sessionID == "" {
		return bargain.Session{}, fmt.Errorf("%w: session_id is required", bargain.ErrValidation)
	}

	var sess bargain.Session
	if cached, err := s.cache.Get(ctx, sessionID); err == nil && cached != nil {
		sess = *cached
	} else {
		sess, err = s.repo.Get(ctx, sessionID)
		if err != nil {
			return bargain.Session{}, err
		}
		_ = s.cache.Set(ctx, sess)
	}

	if !bargain.Terminal(sess.Status) && s.clk.Now().After(sess.ExpiresAt) {
		if err := s.repo.UpdateStatus(ctx, sess.ID, sess.Status, bargain.StatusExpired); err == nil {
			if sess.Status == bargain.StatusHeld {
				if err := s.repo.ExpireHolds(ctx, sess.ID); err != nil {
					obs.Logger.Warn("expiring hold for lapsed session failed", "session_id", sess.ID, "error", err.Error())
				}
			}
			s.sink.Emit(ctx, bargain.EventSessionClosed, sess.ID, bargain.SessionClosedPayload{
				SessionID: sess.ID,
				Outcome:   "expired",
			})
		}
		sess.Status = bargain.StatusExpired
		_ = s.cache.Delete(ctx, sess.ID)
		return bargain.Session{}, &ExpiredError{Session: sess}
	}
	return sess, nil
}
