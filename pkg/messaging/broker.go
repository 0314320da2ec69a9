package messaging

import (
	"context"
)

// Broker defines the interface for message brokers. The in-app delivery
// channel publishes notification events through it so the realtime socket
// layer can fan them out to connected clients.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
