package bargain

import "errors"

var (
	ErrValidation       = errors.New("invalid input")
	ErrPolicyRejected   = errors.New("bargaining not permitted")
	ErrNeverLoss        = errors.New("price below cost floor")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrSessionConflict  = errors.New("concurrent session update")
	ErrRoundLimit       = errors.New("max rounds reached")
	ErrRoundNotPlayed   = errors.New("no offer recorded for round")
	ErrNotAccepted      = errors.New("session not in accepted state")
	ErrHoldNotFound     = errors.New("hold not found")
	ErrHoldExpired      = errors.New("hold expired")
	ErrHoldConflict     = errors.New("hold already finalized")
	ErrCapsuleNotFound  = errors.New("audit capsule not found")
	ErrCapsuleTampered  = errors.New("audit capsule signature mismatch")
	ErrSettingsNotFound = errors.New("module settings not found")
)
