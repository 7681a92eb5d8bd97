package bargain

import (
	"encoding/json"
	"time"
)

const (
	EventSessionStarted    = "SessionStarted"
	EventRoundPlayed       = "RoundPlayed"
	EventSessionAccepted   = "SessionAccepted"
	EventSessionClosed     = "SessionClosed" // expired or abandoned
	EventNeverLossRejected = "NeverLossRejected"
	EventRateFallback      = "RateFallback"
	EventHoldCreated       = "HoldCreated"
	EventHoldConsumed      = "HoldConsumed"
	EventHoldReleased      = "HoldReleased"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // session_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload types per event ----

type SessionStartedPayload struct {
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	Module         string `json:"module"`
	ProductKey     string `json:"product_key"`
	DisplayedCents int64  `json:"displayed_cents"`
	RateSource     string `json:"rate_source"`
	Currency       string `json:"currency"`
}

type RoundPlayedPayload struct {
	SessionID      string  `json:"session_id"`
	Round          int     `json:"round"`
	UserOfferCents int64   `json:"user_offer_cents"`
	CounterCents   int64   `json:"counter_cents"`
	Decision       string  `json:"decision"`
	Confidence     float64 `json:"confidence"`
	LatencyMs      int64   `json:"latency_ms"`
}

type SessionAcceptedPayload struct {
	SessionID       string  `json:"session_id"`
	FinalPriceCents int64   `json:"final_price_cents"`
	ProfitMarginPct float64 `json:"profit_margin_pct"`
	Round           int     `json:"round"`
}

type SessionClosedPayload struct {
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome"` // expired | abandoned
	Reason    string `json:"reason,omitempty"`
}

type NeverLossRejectedPayload struct {
	SessionID      string `json:"session_id"`
	AttemptedCents int64  `json:"attempted_cents"`
	FloorCents     int64  `json:"floor_cents"`
}

type RateFallbackPayload struct {
	ProductKey string `json:"product_key"`
	Reason     string `json:"reason"` // CIRCUIT_OPEN | RATE_NOT_FOUND | RATE_STALE
}

type HoldEventPayload struct {
	HoldID          string `json:"hold_id"`
	SessionID       string `json:"session_id"`
	NegotiatedCents int64  `json:"negotiated_cents"`
	BookingRef      string `json:"booking_ref,omitempty"`
	Reason          string `json:"reason,omitempty"`
}
