package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/walletrt-go/core/envelope"
	"github.com/codewandler/walletrt-go/core/runtime"
)

// Sender is what BindingServer serves, usually an *app.App.
type Sender interface {
	SendMessage(msg []byte, cb runtime.Callback) (string, error)
}

type BindingConfig struct {
	Connect       Connector
	Log           *slog.Logger
	SubjectPrefix string // e.g. "walletrt" -> walletrt.messages
	// QueueGroup lets several servers share the subject. Default "walletrt".
	QueueGroup string
}

func messagesSubject(prefix string) string {
	if prefix == "" {
		prefix = "walletrt"
	}
	return prefix + ".messages"
}

// BindingServer answers wallet messages received over NATS. The request
// body is a textual message; the reply is the response frame, or an error
// frame for messages rejected synchronously.
type BindingServer struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	log     *slog.Logger
	sub     *natsgo.Subscription
	once    sync.Once
}

func NewBindingServer(cfg BindingConfig, sender Sender) (*BindingServer, error) {
	connect := cfg.Connect
	if connect == nil {
		connect = ConnectDefault()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	queue := cfg.QueueGroup
	if queue == "" {
		queue = "walletrt"
	}

	nc, closeNc, err := connect()
	if err != nil {
		return nil, err
	}
	s := &BindingServer{
		nc:      nc,
		closeNc: closeNc,
		log:     log.With(slog.String("transport", "nats")),
	}

	s.sub, err = nc.QueueSubscribe(messagesSubject(cfg.SubjectPrefix), queue, func(msg *natsgo.Msg) {
		if msg.Reply == "" {
			s.log.Warn("dropping message without reply subject")
			return
		}
		_, err := sender.SendMessage(msg.Data, func(res runtime.Result) {
			if err := msg.Respond(res.Encode()); err != nil {
				s.log.Error("failed to publish reply", slog.Any("error", err))
			}
		})
		if err != nil {
			if err := msg.Respond(envelope.EncodeError(string(runtime.KindOf(err)), err.Error())); err != nil {
				s.log.Error("failed to publish reply", slog.Any("error", err))
			}
		}
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("nats: subscribe messages: %w", err)
	}
	return s, nil
}

// Close stops receiving messages. Replies of pending messages are still
// published until the connection drains.
func (s *BindingServer) Close() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Drain()
		s.closeNc()
	})
	return err
}

// BindingClient sends wallet messages to a BindingServer.
type BindingClient struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	subject string
}

func NewBindingClient(cfg BindingConfig) (*BindingClient, error) {
	connect := cfg.Connect
	if connect == nil {
		connect = ConnectDefault()
	}
	nc, closeNc, err := connect()
	if err != nil {
		return nil, err
	}
	return &BindingClient{nc: nc, closeNc: closeNc, subject: messagesSubject(cfg.SubjectPrefix)}, nil
}

// Send submits message and waits for its response frame.
func (c *BindingClient) Send(ctx context.Context, message string) (string, error) {
	msg, err := c.nc.RequestWithContext(ctx, c.subject, []byte(message))
	if err != nil {
		if errors.Is(err, natsgo.ErrNoResponders) {
			return "", fmt.Errorf("no wallet is serving %s: %w", c.subject, err)
		}
		return "", fmt.Errorf("nats: request: %w", err)
	}
	return string(msg.Data), nil
}

func (c *BindingClient) Close() { c.closeNc() }
