package http

import (
	"log/slog"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codewandler/walletrt-go/core/events"
	"github.com/codewandler/walletrt-go/internal/codec"
)

const (
	eventBuffer  = 256
	writeTimeout = 5 * time.Second
)

// EventSource is what /events streams from, usually an *app.App.
type EventSource interface {
	Listen(t events.Type, l events.Listener) (unsubscribe func())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// origins are checked by the CORS middleware
	CheckOrigin: func(r *nethttp.Request) bool { return true },
}

// handleEvents streams events as JSON text frames. The types to stream are
// given as repeated ?type= parameters; none means all. A client that does
// not keep up is disconnected.
func (s *server) handleEvents(w nethttp.ResponseWriter, r *nethttp.Request) {
	types := events.Types()
	if names := r.URL.Query()["type"]; len(names) > 0 {
		types = types[:0]
		for _, name := range names {
			t, err := events.ParseType(name)
			if err != nil {
				nethttp.Error(w, err.Error(), nethttp.StatusBadRequest)
				return
			}
			types = append(types, t)
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	var (
		out    = make(chan []byte, eventBuffer)
		closed = make(chan struct{})
		slow   = make(chan struct{}, 1)
	)
	listener := func(evt events.Event) {
		data, err := codec.JSON.Marshal(evt)
		if err != nil {
			s.log.Error("failed to encode event", slog.String("event_type", string(evt.Type)), slog.Any("error", err))
			return
		}
		select {
		case out <- data:
		default:
			select {
			case slow <- struct{}{}:
			default:
			}
		}
	}
	for _, t := range types {
		unsubscribe := s.events.Listen(t, listener)
		defer unsubscribe()
	}

	// the read loop only notices the client going away
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug("event stream closed", slog.Any("error", err))
				}
				return
			}
		}
	}()

	for {
		select {
		case data := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-slow:
			s.log.Warn("event stream client too slow, disconnecting")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"),
				time.Now().Add(writeTimeout))
			return
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
