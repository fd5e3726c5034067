package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Tsinling0525/weir/plugin"
)

// Publisher is the part of *nats.Conn the bus needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Bus publishes every lifecycle event as a JSON object.
type Bus struct {
	pub    Publisher
	prefix string
	now    func() time.Time
}

func NewBus(pub Publisher, prefix string) *Bus {
	return &Bus{pub: pub, prefix: prefix, now: time.Now}
}

// Event is the published payload.
type Event struct {
	Event  string         `json:"event"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields,omitempty"`
}

func (b *Bus) Emit(_ context.Context, event string, fields map[string]any) error {
	data, err := json.Marshal(Event{Event: event, Time: b.now().UTC(), Fields: fields})
	if err != nil {
		return fmt.Errorf("natsbus: encode %s: %w", event, err)
	}
	if err := b.pub.Publish(EventSubject(b.prefix, event), data); err != nil {
		return fmt.Errorf("natsbus: publish %s: %w", event, err)
	}
	return nil
}

var _ plugin.EventBus = (*Bus)(nil)
