// Package analytics consumes the bargain event stream into a raw event
// table for offline analysis. It is a separate binary so a slow insert
// never sits on the negotiation path.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/obs"
	"github.com/faredown/bargain-engine/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type EventStore interface {
	Insert(ctx context.Context, env bargain.Envelope, raw []byte) error
}

type Service struct {
	Store EventStore
	Redis *redis.Client // optional, dedup only
}

// HandleEvent is the consumer handler. Returning nil commits the offset,
// so only malformed messages are swallowed; store errors propagate for
// redelivery.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env bargain.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		obs.Logger.Warn("dropping malformed event", "error", err.Error())
		return nil
	}
	if env.EventID == "" {
		obs.Logger.Warn("dropping event without id", "event_type", env.EventType)
		return nil
	}

	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, "analytics", env.EventID)
		if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
			return nil
		}
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	if err := s.Store.Insert(ctx, env, m.Value); err != nil {
		return fmt.Errorf("store event %s: %w", env.EventID, err)
	}
	obs.Logger.Debug("event stored",
		"event_type", env.EventType, "correlation_id", env.CorrelationID)
	return nil
}
