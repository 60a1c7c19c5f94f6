package notify

import (
	"context"
	"log/slog"

	"marketplace/models"
)

// LogChannel stands in for a real gateway integration; it just records the
// send. Production deployments swap in concrete push/email/sms adapters.
type LogChannel struct {
	name   string
	logger *slog.Logger
}

func NewLogChannel(name string, logger *slog.Logger) *LogChannel {
	return &LogChannel{name: name, logger: logger}
}

func (c *LogChannel) Name() string { return c.name }

func (c *LogChannel) Send(ctx context.Context, n *models.Notification) error {
	c.logger.Debug("notification sent",
		"channel", c.name, "user_id", n.UserID, "event_type", n.EventType, "priority", n.Priority)
	return nil
}
