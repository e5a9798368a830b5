package amqp

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/core"
)

// Notifier publishes household notifications to a topic exchange, one
// routing key per household.
type Notifier struct {
	client *Client
}

func NewNotifier(c *Client) *Notifier {
	return &Notifier{client: c}
}

// Publish implements services.Dispatcher.
func (n *Notifier) Publish(ctx context.Context, topic string, notification core.Notification) error {
	msg := NewNotificationMessage(topic, notification)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.client.publish(ctx, topic, msg.ID, body); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Published notification",
		"component", "amqp",
		"topic", topic,
		"title", notification.Title,
		"message_id", msg.ID)
	return nil
}

// PublishChange sends a change message routed by its entity. The operator
// CLI uses it to replay document writes.
func (c *Client) PublishChange(ctx context.Context, msg *ChangeMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, string(msg.Entity), msg.ID, body); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published change message",
		"component", "amqp",
		"entity", msg.Entity,
		"message_id", msg.ID,
		"exchange", c.exchangeName)
	return nil
}
