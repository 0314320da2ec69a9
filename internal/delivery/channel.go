package delivery

import (
	"context"
	"fmt"

	"github.com/rwandacancerrelief/notify-api/internal/model"
)

// Channel delivers one notification to its recipient over a concrete
// transport (SMTP, realtime socket fan-out, ...).
type Channel interface {
	Name() model.DeliveryChannel
	Send(ctx context.Context, n *model.Notification, recipient *model.User) error
}

// Registry maps channel names to implementations.
type Registry struct {
	channels map[model.DeliveryChannel]Channel
}

func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[model.DeliveryChannel]Channel)}
	for _, ch := range channels {
		r.channels[ch.Name()] = ch
	}
	return r
}

func (r *Registry) Get(name model.DeliveryChannel) (Channel, error) {
	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("unsupported delivery channel: %s", name)
	}
	return ch, nil
}
