package nats

import (
	"context"
	"encoding/json"
	"fmt"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/walletrt-go/core/events"
)

type EventPublisherConfig struct {
	Connect       Connector
	SubjectPrefix string // e.g. "walletrt" -> walletrt.events.<type>
}

// EventPublisher is an [events.Sink] publishing every event as JSON to
// <prefix>.events.<type>.
type EventPublisher struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	prefix  string
}

func NewEventPublisher(cfg EventPublisherConfig) (*EventPublisher, error) {
	connect := cfg.Connect
	if connect == nil {
		connect = ConnectDefault()
	}
	nc, closeNc, err := connect()
	if err != nil {
		return nil, err
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "walletrt"
	}
	return &EventPublisher{nc: nc, closeNc: closeNc, prefix: prefix}, nil
}

// Subject returns the subject events of type t are published to.
func (p *EventPublisher) Subject(t events.Type) string {
	return p.prefix + ".events." + string(t)
}

func (p *EventPublisher) Publish(ctx context.Context, evt events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(evt.Type), data); err != nil {
		return fmt.Errorf("nats: publish event: %w", err)
	}
	return nil
}

// Close flushes pending events and releases the connection.
func (p *EventPublisher) Close() {
	_ = p.nc.Flush()
	p.closeNc()
}

var _ events.Sink = (*EventPublisher)(nil)
