package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rwandacancerrelief/notify-api/internal/model"
	"github.com/rwandacancerrelief/notify-api/pkg/messaging"
)

const inAppTopic = "notifications"

// InAppChannel publishes notifications to the realtime broker; the socket
// layer subscribed to the topic fans them out to connected clients.
type InAppChannel struct {
	broker messaging.Broker
}

func NewInAppChannel(broker messaging.Broker) *InAppChannel {
	return &InAppChannel{broker: broker}
}

func (c *InAppChannel) Name() model.DeliveryChannel {
	return model.ChannelInApp
}

type inAppEvent struct {
	NotificationID string          `json:"notification_id"`
	RecipientID    string          `json:"recipient_id"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (c *InAppChannel) Send(ctx context.Context, n *model.Notification, recipient *model.User) error {
	event := inAppEvent{
		NotificationID: n.ID.String(),
		RecipientID:    recipient.ID.String(),
		Kind:           string(n.Kind),
		Payload:        n.Payload,
		CreatedAt:      time.Now(),
	}

	if err := c.broker.Publish(ctx, inAppTopic, event); err != nil {
		return fmt.Errorf("failed to publish in-app notification: %w", err)
	}
	return nil
}
