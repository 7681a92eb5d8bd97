package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/session"
	"github.com/go-chi/chi/v5"
)

type SessionService interface {
	Start(ctx context.Context, in session.StartInput) (session.StartResult, error)
	Offer(ctx context.Context, sessionID string, offerCents int64) (session.OfferResult, error)
	Accept(ctx context.Context, sessionID, selection string) (session.AcceptResult, error)
	Abandon(ctx context.Context, sessionID, reason string) error
	Status(ctx context.Context, sessionID string) (bargain.Session, error)
}

type HoldService interface {
	Create(ctx context.Context, sessionID string) (bargain.Hold, error)
	Consume(ctx context.Context, holdID, bookingRef string) (bargain.Hold, error)
	Release(ctx context.Context, holdID, reason string) error
}

type AuditService interface {
	Get(ctx context.Context, sessionID string) (bargain.AuditCapsule, error)
	Verify(c bargain.AuditCapsule) error
	PublicKeyHex() string
}

type BargainHandler struct {
	Sessions       SessionService
	Holds          HoldService
	Audit          AuditService
	Limiter        *Limiter
	StartPerMinute int
	OfferPerMinute int
}

func (h *BargainHandler) Register(r *chi.Mux) {
	r.With(h.Limiter.Limit("start", h.StartPerMinute)).Post("/session/start", h.startSession)
	r.With(h.Limiter.Limit("offer", h.OfferPerMinute)).Post("/session/offer", h.submitOffer)
	r.Post("/session/accept", h.acceptSession)
	r.Post("/session/abandon", h.abandonSession)
	r.Get("/session/{id}/status", h.sessionStatus)
	r.Post("/bargain/hold", h.createHold)
	r.Post("/bargain/consume-hold", h.consumeHold)
	r.Post("/bargain/release-hold", h.releaseHold)
	r.Get("/audit/capsule/{id}", h.auditCapsule)
}

type startReq struct {
	UserID         string `json:"user_id"`
	Module         string `json:"module"`
	ProductKey     string `json:"product_key"`
	DisplayedCents int64  `json:"displayed_cents"`
	Currency       string `json:"currency"`
	UserTier       string `json:"user_tier"`
}

type startResp struct {
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	DisplayedCents int64     `json:"displayed_cents"`
	Currency       string    `json:"currency"`
	MaxRounds      int       `json:"max_rounds"`
	R1TimerSec     int       `json:"r1_timer_sec"`
	R2TimerSec     int       `json:"r2_timer_sec"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (h *BargainHandler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "VALIDATION_ERROR"})
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get("X-User-Id")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Sessions.Start(ctx, session.StartInput{
		UserID:         req.UserID,
		Module:         req.Module,
		ProductKey:     req.ProductKey,
		DisplayedCents: req.DisplayedCents,
		Currency:       req.Currency,
		UserTier:       req.UserTier,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResp{
		SessionID:      res.Session.ID,
		Status:         string(res.Session.Status),
		DisplayedCents: res.Session.DisplayedCents,
		Currency:       res.Session.Currency,
		MaxRounds:      res.MaxRounds,
		R1TimerSec:     res.R1TimerSec,
		R2TimerSec:     res.R2TimerSec,
		ExpiresAt:      res.Session.ExpiresAt,
	})
}

type offerReq struct {
	SessionID  string `json:"session_id"`
	OfferCents int64  `json:"offer_cents"`
}

type offerResp struct {
	SessionID  string  `json:"session_id"`
	Round      int     `json:"round"`
	Decision   string  `json:"decision"`
	PriceCents int64   `json:"price_cents"`
	Confidence float64 `json:"confidence"`
	TimerSec   int     `json:"timer_sec"`
	RoundsLeft int     `json:"rounds_left"`
}

func (h *BargainHandler) submitOffer(w http.ResponseWriter, r *http.Request) {
	var req offerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "VALIDATION_ERROR"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Sessions.Offer(ctx, req.SessionID, req.OfferCents)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offerResp{
		SessionID:  res.SessionID,
		Round:      res.Round,
		Decision:   res.Decision,
		PriceCents: res.PriceCents,
		Confidence: res.Confidence,
		TimerSec:   res.TimerSec,
		RoundsLeft: res.RoundsLeft,
	})
}

type acceptReq struct {
	SessionID string `json:"session_id"`
	Selection string `json:"selection"` // r1 | r2 | r3, empty means latest
}

type acceptResp struct {
	SessionID       string    `json:"session_id"`
	FinalPriceCents int64     `json:"final_price_cents"`
	Round           int       `json:"round"`
	Signature       string    `json:"signature"`
	SignedAt        time.Time `json:"signed_at"`
}

func (h *BargainHandler) acceptSession(w http.ResponseWriter, r *http.Request) {
	var req acceptReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "VALIDATION_ERROR"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Sessions.Accept(ctx, req.SessionID, req.Selection)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResp{
		SessionID:       res.SessionID,
		FinalPriceCents: res.FinalPriceCents,
		Round:           res.Round,
		Signature:       res.Capsule.Signature,
		SignedAt:        res.Capsule.SignedAt,
	})
}

type abandonReq struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (h *BargainHandler) abandonSession(w http.ResponseWriter, r *http.Request) {
	var req abandonReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "VALIDATION_ERROR"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Sessions.Abandon(ctx, req.SessionID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(bargain.StatusAbandoned)})
}

// statusResp deliberately carries no cost or margin fields; the resolved
// cost never leaves the server.
type statusResp struct {
	SessionID       string    `json:"session_id"`
	Status          string    `json:"status"`
	Round           int       `json:"round"`
	Module          string    `json:"module"`
	ProductKey      string    `json:"product_key"`
	DisplayedCents  int64     `json:"displayed_cents"`
	FinalPriceCents int64     `json:"final_price_cents,omitempty"`
	Currency        string    `json:"currency"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func (h *BargainHandler) sessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing id", Code: "VALIDATION_ERROR"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s, err := h.Sessions.Status(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{
		SessionID:       s.ID,
		Status:          string(s.Status),
		Round:           s.Round,
		Module:          s.Module,
		ProductKey:      s.ProductKey,
		DisplayedCents:  s.DisplayedCents,
		FinalPriceCents: s.FinalPriceCents,
		Currency:        s.Currency,
		CreatedAt:       s.CreatedAt,
		ExpiresAt:       s.ExpiresAt,
	})
}

type holdReq struct {
	SessionID string `json:"session_id"`
}

type holdResp struct {
	HoldID          string    `json:"hold_id"`
	SessionID       string    `json:"session_id"`
	NegotiatedCents int64     `json:"negotiated_cents"`
	OriginalCents   int64     `json:"original_cents"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	BookingRef      string    `json:"booking_ref,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func toHoldResp(h bargain.Hold) holdResp {
	return holdResp{
		HoldID:          h.ID,
		SessionID:       h.SessionID,
		NegotiatedCents: h.NegotiatedCents,
		OriginalCents:   h.OriginalCents,
		Currency:        h.Currency,
		Status:          string(h.Status),
		BookingRef:      h.BookingRef,
		ExpiresAt:       h.ExpiresAt,
	}
}

func (h *BargainHandler) createHold(w http.ResponseWriter, r *http.Request) {
	var req holdReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "VALIDATION_ERROR"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	hold, err := h.Holds.Create(ctx, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHoldResp(hold))
}

type consumeReq struct {
	HoldID     string `json:"hold_id"`
	BookingRef string `json:"booking_ref"`
}

func (h *BargainHandler) consumeHold(w http.ResponseWriter, r *http.Request) {
	var req consumeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "VALIDATION_ERROR"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	hold, err := h.Holds.Consume(ctx, req.HoldID, req.BookingRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHoldResp(hold))
}

type releaseReq struct {
	HoldID string `json:"hold_id"`
	Reason string `json:"reason"`
}

func (h *BargainHandler) releaseHold(w http.ResponseWriter, r *http.Request) {
	var req releaseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "VALIDATION_ERROR"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Holds.Release(ctx, req.HoldID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(bargain.HoldReleased)})
}

// capsuleResp omits the true cost and margin; those stay server-side
// even in the audit receipt.
type capsuleResp struct {
	SessionID       string    `json:"session_id"`
	FinalPriceCents int64     `json:"final_price_cents"`
	Signature       string    `json:"signature"`
	SignedAt        time.Time `json:"signed_at"`
	PublicKey       string    `json:"public_key"`
	Valid           bool      `json:"valid"`
}

func (h *BargainHandler) auditCapsule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing id", Code: "VALIDATION_ERROR"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Audit.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, capsuleResp{
		SessionID:       c.SessionID,
		FinalPriceCents: c.FinalPriceCents,
		Signature:       c.Signature,
		SignedAt:        c.SignedAt,
		PublicKey:       h.Audit.PublicKeyHex(),
		Valid:           h.Audit.Verify(c) == nil,
	})
}
