package appointment

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/navimed/navimed/internal/platform/websocket"
)

// Topic is the websocket topic for a tenant's appointment changes.
func Topic(tenantID string) string {
	return "appointments/" + tenantID
}

// ForwardToHub relays every change seen on n to websocket clients of the
// change's tenant.
func ForwardToHub(n Notifier, pub websocket.EventPublisher, logger zerolog.Logger) func() {
	return n.Subscribe(func(c Change) {
		data, err := json.Marshal(c)
		if err != nil {
			logger.Error().Err(err).Str("change", c.Type).Msg("failed to encode change for websocket")
			return
		}
		event := websocket.Event{
			Type:      c.Type,
			Topic:     Topic(c.TenantID),
			Key:       c.Key,
			Timestamp: c.Timestamp,
			Data:      data,
		}
		if err := pub.Publish(context.Background(), event); err != nil {
			logger.Warn().Err(err).Str("topic", event.Topic).Msg("failed to forward change")
		}
	})
}
