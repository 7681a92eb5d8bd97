package httpx

import (
	"errors"
	"net/http"

	"github.com/faredown/bargain-engine/internal/bargain"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps domain sentinels to stable error codes. Internal
// detail stays out of 5xx bodies.
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, bargain.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, bargain.ErrPolicyRejected):
		status, code = http.StatusForbidden, "POLICY_REJECTED"
	case errors.Is(err, bargain.ErrNeverLoss):
		status, code = http.StatusConflict, "NEVER_LOSS_VIOLATION"
	case errors.Is(err, bargain.ErrSessionNotFound):
		status, code = http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, bargain.ErrSessionExpired):
		status, code = http.StatusGone, "SESSION_EXPIRED"
	case errors.Is(err, bargain.ErrRoundLimit):
		status, code = http.StatusConflict, "ROUND_LIMIT"
	case errors.Is(err, bargain.ErrRoundNotPlayed):
		status, code = http.StatusConflict, "ROUND_NOT_PLAYED"
	case errors.Is(err, bargain.ErrNotAccepted):
		status, code = http.StatusConflict, "NOT_ACCEPTED"
	case errors.Is(err, bargain.ErrSessionConflict):
		status, code = http.StatusConflict, "SESSION_CONFLICT"
	case errors.Is(err, bargain.ErrHoldNotFound):
		status, code = http.StatusNotFound, "HOLD_NOT_FOUND"
	case errors.Is(err, bargain.ErrHoldExpired):
		status, code = http.StatusGone, "HOLD_EXPIRED"
	case errors.Is(err, bargain.ErrHoldConflict):
		status, code = http.StatusConflict, "HOLD_CONFLICT"
	case errors.Is(err, bargain.ErrCapsuleNotFound):
		status, code = http.StatusNotFound, "CAPSULE_NOT_FOUND"
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
