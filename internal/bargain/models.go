package bargain

import "time"

// All money is carried as integer minor units (cents) end to end.

type Session struct {
	ID                string
	UserID            string
	Module            string
	ProductKey        string
	DisplayedCents    int64
	ResolvedCostCents int64 // true cost, set once at start, never exposed to clients
	RateSource        string
	Currency          string
	UserTier          string
	Status            SessionStatus
	Round             int
	FinalPriceCents   int64
	CreatedAt         time.Time
	ExpiresAt         time.Time
	UpdatedAt         time.Time
}

type OfferEvent struct {
	ID             string
	SessionID      string
	Round          int
	UserOfferCents int64
	CounterCents   int64 // equals UserOfferCents when Decision == "accepted"
	Decision       string
	Confidence     float64
	LatencyMs      int64
	CreatedAt      time.Time
}

const (
	DecisionAccepted  = "accepted"
	DecisionCountered = "countered"
)

type HoldStatus string

const (
	HoldActive   HoldStatus = "active"
	HoldConsumed HoldStatus = "consumed"
	HoldReleased HoldStatus = "released"
	HoldExpired  HoldStatus = "expired"
)

type Hold struct {
	ID              string
	SessionID       string
	NegotiatedCents int64
	OriginalCents   int64
	Currency        string
	Status          HoldStatus
	BookingRef      string
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

type AuditCapsule struct {
	SessionID       string
	FinalPriceCents int64
	TrueCostCents   int64
	ProfitMarginPct float64
	Signature       string // hex-encoded ed25519 signature over the canonical capsule
	SignedAt        time.Time
}

type Policy struct {
	ID         string
	Expression string
	Active     bool
	LoadedAt   time.Time
}

// ModuleSettings is per-module configuration read by the engine,
// maintained externally (admin panel writes it, we only read).
type ModuleSettings struct {
	Module      string
	Enabled     bool
	Attempts    int // max negotiation rounds
	R1TimerSec  int
	R2TimerSec  int
	HoldMinutes int
}

type SupplierRate struct {
	ProductKey string
	CostCents  int64
	SupplierID string
	UpdatedAt  time.Time
}
