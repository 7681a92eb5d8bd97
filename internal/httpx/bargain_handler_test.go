package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/session"
)

type fakeSessions struct {
	startErr  error
	offerErr  error
	acceptErr error
	statusErr error
	session   bargain.Session
}

func (f *fakeSessions) Start(_ context.Context, in session.StartInput) (session.StartResult, error) {
	if f.startErr != nil {
		return session.StartResult{}, f.startErr
	}
	return session.StartResult{
		Session: bargain.Session{
			ID:             "sess-1",
			Status:         bargain.StatusActive,
			DisplayedCents: in.DisplayedCents,
			Currency:       in.Currency,
		},
		MaxRounds:  3,
		R1TimerSec: 30,
		R2TimerSec: 30,
	}, nil
}

func (f *fakeSessions) Offer(_ context.Context, sessionID string, offerCents int64) (session.OfferResult, error) {
	if f.offerErr != nil {
		return session.OfferResult{}, f.offerErr
	}
	return session.OfferResult{
		SessionID:  sessionID,
		Round:      1,
		Decision:   bargain.DecisionCountered,
		PriceCents: offerCents + 500,
		Confidence: 0.80,
		TimerSec:   30,
		RoundsLeft: 2,
	}, nil
}

func (f *fakeSessions) Accept(_ context.Context, sessionID, _ string) (session.AcceptResult, error) {
	if f.acceptErr != nil {
		return session.AcceptResult{}, f.acceptErr
	}
	return session.AcceptResult{
		SessionID:       sessionID,
		FinalPriceCents: 13000,
		Round:           1,
		Capsule:         bargain.AuditCapsule{Signature: "cafe"},
	}, nil
}

func (f *fakeSessions) Abandon(context.Context, string, string) error { return nil }

func (f *fakeSessions) Status(_ context.Context, _ string) (bargain.Session, error) {
	if f.statusErr != nil {
		return bargain.Session{}, f.statusErr
	}
	return f.session, nil
}

type fakeHolds struct {
	createErr  error
	consumeErr error
	hold       bargain.Hold
}

func (f *fakeHolds) Create(context.Context, string) (bargain.Hold, error) {
	if f.createErr != nil {
		return bargain.Hold{}, f.createErr
	}
	return f.hold, nil
}

func (f *fakeHolds) Consume(_ context.Context, _, bookingRef string) (bargain.Hold, error) {
	if f.consumeErr != nil {
		return bargain.Hold{}, f.consumeErr
	}
	h := f.hold
	h.Status = bargain.HoldConsumed
	h.BookingRef = bookingRef
	return h, nil
}

func (f *fakeHolds) Release(context.Context, string, string) error { return nil }

type fakeAudit struct {
	capsule bargain.AuditCapsule
	getErr  error
	tampErr error
}

func (f *fakeAudit) Get(context.Context, string) (bargain.AuditCapsule, error) {
	if f.getErr != nil {
		return bargain.AuditCapsule{}, f.getErr
	}
	return f.capsule, nil
}

func (f *fakeAudit) Verify(bargain.AuditCapsule) error { return f.tampErr }
func (f *fakeAudit) PublicKeyHex() string              { return "ab" }

func newTestServer(sessions *fakeSessions, holds *fakeHolds) *httptest.Server {
	return newTestServerAudit(sessions, holds, &fakeAudit{})
}

func newTestServerAudit(sessions *fakeSessions, holds *fakeHolds, audit *fakeAudit) *httptest.Server {
	r := NewRouter()
	h := &BargainHandler{Sessions: sessions, Holds: holds, Audit: audit}
	h.Register(r)
	return httptest.NewServer(r)
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestStartSession(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeSessions{}, &fakeHolds{})
	defer srv.Close()

	resp := post(t, srv.URL+"/session/start", map[string]any{
		"user_id": "u1", "module": "hotels", "product_key": "h1",
		"displayed_cents": 14550, "currency": "USD",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body startResp
	decodeBody(t, resp, &body)
	if body.SessionID != "sess-1" || body.MaxRounds != 3 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestStartInvalidJSON(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeSessions{}, &fakeHolds{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/session/start", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body errorBody
	decodeBody(t, resp, &body)
	if body.Code != "VALIDATION_ERROR" {
		t.Fatalf("unexpected code %q", body.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		sessions   *fakeSessions
		holds      *fakeHolds
		call       func(srv *httptest.Server, t *testing.T) *http.Response
		wantStatus int
		wantCode   string
	}{
		{
			name:     "policy rejected",
			sessions: &fakeSessions{startErr: fmt.Errorf("%w: tier not eligible", bargain.ErrPolicyRejected)},
			call: func(srv *httptest.Server, t *testing.T) *http.Response {
				return post(t, srv.URL+"/session/start", map[string]any{"user_id": "u1"})
			},
			wantStatus: http.StatusForbidden,
			wantCode:   "POLICY_REJECTED",
		},
		{
			name:     "never loss",
			sessions: &fakeSessions{acceptErr: bargain.ErrNeverLoss},
			call: func(srv *httptest.Server, t *testing.T) *http.Response {
				return post(t, srv.URL+"/session/accept", map[string]any{"session_id": "s1"})
			},
			wantStatus: http.StatusConflict,
			wantCode:   "NEVER_LOSS_VIOLATION",
		},
		{
			name:     "session expired via wrapper",
			sessions: &fakeSessions{offerErr: &session.ExpiredError{}},
			call: func(srv *httptest.Server, t *testing.T) *http.Response {
				return post(t, srv.URL+"/session/offer", map[string]any{"session_id": "s1", "offer_cents": 100})
			},
			wantStatus: http.StatusGone,
			wantCode:   "SESSION_EXPIRED",
		},
		{
			name:     "session not found",
			sessions: &fakeSessions{statusErr: bargain.ErrSessionNotFound},
			call: func(srv *httptest.Server, t *testing.T) *http.Response {
				resp, err := http.Get(srv.URL + "/session/nope/status")
				if err != nil {
					t.Fatalf("get: %v", err)
				}
				return resp
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "SESSION_NOT_FOUND",
		},
		{
			name:  "hold expired",
			holds: &fakeHolds{consumeErr: bargain.ErrHoldExpired},
			call: func(srv *httptest.Server, t *testing.T) *http.Response {
				return post(t, srv.URL+"/bargain/consume-hold", map[string]any{"hold_id": "h1", "booking_ref": "BK-1"})
			},
			wantStatus: http.StatusGone,
			wantCode:   "HOLD_EXPIRED",
		},
		{
			name:  "hold conflict",
			holds: &fakeHolds{createErr: fmt.Errorf("%w: session already held", bargain.ErrHoldConflict)},
			call: func(srv *httptest.Server, t *testing.T) *http.Response {
				return post(t, srv.URL+"/bargain/hold", map[string]any{"session_id": "s1"})
			},
			wantStatus: http.StatusConflict,
			wantCode:   "HOLD_CONFLICT",
		},
		{
			name:     "internal error is opaque",
			sessions: &fakeSessions{startErr: fmt.Errorf("pgx: connection refused")},
			call: func(srv *httptest.Server, t *testing.T) *http.Response {
				return post(t, srv.URL+"/session/start", map[string]any{"user_id": "u1"})
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sessions := c.sessions
			if sessions == nil {
				sessions = &fakeSessions{}
			}
			holds := c.holds
			if holds == nil {
				holds = &fakeHolds{}
			}
			srv := newTestServer(sessions, holds)
			defer srv.Close()

			resp := c.call(srv, t)
			if resp.StatusCode != c.wantStatus {
				t.Fatalf("expected %d, got %d", c.wantStatus, resp.StatusCode)
			}
			var body errorBody
			decodeBody(t, resp, &body)
			if body.Code != c.wantCode {
				t.Fatalf("expected code %q, got %q", c.wantCode, body.Code)
			}
			if c.wantCode == "INTERNAL_ERROR" && body.Error != "internal error" {
				t.Fatalf("internal detail leaked: %q", body.Error)
			}
		})
	}
}

func TestSessionStatusRedactsCost(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeSessions{session: bargain.Session{
		ID:                "s1",
		Status:            bargain.StatusRound1,
		Round:             1,
		Module:            "hotels",
		DisplayedCents:    14550,
		ResolvedCostCents: 9000,
		Currency:          "USD",
	}}, &fakeHolds{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/session/s1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for key := range raw {
		switch key {
		case "resolved_cost_cents", "cost_cents", "true_cost_cents", "profit_margin_pct":
			t.Fatalf("cost field %q leaked in status response", key)
		}
	}
	if raw["displayed_cents"].(float64) != 14550 {
		t.Fatalf("unexpected displayed_cents: %v", raw["displayed_cents"])
	}
}

func TestAuditCapsuleRedactsCost(t *testing.T) {
	t.Parallel()

	srv := newTestServerAudit(&fakeSessions{}, &fakeHolds{}, &fakeAudit{capsule: bargain.AuditCapsule{
		SessionID:       "s1",
		FinalPriceCents: 13000,
		TrueCostCents:   9000,
		ProfitMarginPct: 30.77,
		Signature:       "cafe",
	}})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/audit/capsule/s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for key := range raw {
		switch key {
		case "true_cost_cents", "profit_margin_pct":
			t.Fatalf("cost field %q leaked in capsule response", key)
		}
	}
	if raw["signature"] != "cafe" || raw["valid"] != true {
		t.Fatalf("unexpected body: %v", raw)
	}
}

func TestAuditCapsuleNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServerAudit(&fakeSessions{}, &fakeHolds{}, &fakeAudit{getErr: bargain.ErrCapsuleNotFound})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/audit/capsule/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body errorBody
	decodeBody(t, resp, &body)
	if body.Code != "CAPSULE_NOT_FOUND" {
		t.Fatalf("unexpected code %q", body.Code)
	}
}

func TestConsumeHold(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeSessions{}, &fakeHolds{hold: bargain.Hold{
		ID: "h1", SessionID: "s1", NegotiatedCents: 13000, Status: bargain.HoldActive,
	}})
	defer srv.Close()

	resp := post(t, srv.URL+"/bargain/consume-hold", map[string]any{"hold_id": "h1", "booking_ref": "BK-7"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body holdResp
	decodeBody(t, resp, &body)
	if body.Status != string(bargain.HoldConsumed) || body.BookingRef != "BK-7" {
		t.Fatalf("unexpected body: %+v", body)
	}
}
