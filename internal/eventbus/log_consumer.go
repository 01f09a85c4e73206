package eventbus

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentroll/internal/types"
)

// LogConsumer logs every notification for observability.
type LogConsumer struct {
	log zerolog.Logger
}

func NewLogConsumer(log zerolog.Logger) *LogConsumer {
	return &LogConsumer{log: log.With().Str("component", "notifications").Logger()}
}

func (c *LogConsumer) HandleNotification(_ context.Context, n types.Notification) error {
	entities := make([]string, len(n.Refs))
	for i, ref := range n.Refs {
		id := ref.EntityID
		if len(id) > 8 {
			id = id[:8]
		}
		entities[i] = ref.EntityType + ":" + id
	}
	c.log.Info().
		Str("type", n.Type).
		Str("organization_id", n.OrganizationID).
		Strs("entities", entities).
		Msg(n.Subject)
	return nil
}
