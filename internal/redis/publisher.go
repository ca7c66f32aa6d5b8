package redisclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/notification"
)

// Publisher pushes notifications onto per-recipient pub/sub channels so that
// connected clients can pick them up.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Channel is the pub/sub channel for one recipient.
func Channel(recipientType notification.RecipientType, recipientID fmt.Stringer) string {
	return fmt.Sprintf("notifications:%s:%s", recipientType, recipientID)
}

func (p *Publisher) Deliver(ctx context.Context, n notification.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(n.RecipientType, n.RecipientID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification %s: %w", n.ID, err)
	}
	return nil
}
