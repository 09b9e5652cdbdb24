package events

import (
	"context"

	"go.uber.org/zap"
)

// Notify publishes an event for a change that is already committed. A
// failure is logged and swallowed: the store stays the source of truth.
func Notify(ctx context.Context, pub Publisher, log *zap.Logger, eventType string, payload map[string]interface{}) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, eventType, payload); err != nil {
		log.Warn("Event not published",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
