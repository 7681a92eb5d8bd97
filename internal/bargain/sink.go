package bargain

import "context"

// EventSink receives domain events for the analytics stream. Emission is
// best-effort and must never block or fail a request path.
type EventSink interface {
	Emit(ctx context.Context, eventType, correlationID string, payload any)
}
