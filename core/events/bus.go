package events

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/walletrt-go/core/perkey"
)

type BusOptions struct {
	Logger *slog.Logger
	// Sinks receive every published event in addition to listeners.
	Sinks []Sink
	// SinkTimeout bounds a single Sink.Publish call (default 5s).
	SinkTimeout time.Duration
	// BufferSize is the per-listener delivery queue length (default 256).
	BufferSize int
	Clock      func() time.Time
}

// Bus fans events out to listeners. Delivery is asynchronous and ordered per
// listener; a slow listener only delays itself. Publish never blocks: when a
// listener or sink falls BufferSize events behind, further events for it are
// dropped and logged.
type Bus struct {
	log         *slog.Logger
	sinks       []Sink
	sinkTimeout time.Duration
	clock       func() time.Time
	exec        *perkey.Scheduler[string]

	mu        sync.RWMutex
	listeners map[Type]map[string]Listener
	closed    bool
}

func NewBus(opts BusOptions) *Bus {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 5 * time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	log := opts.Logger.With(slog.String("component", "events"))
	return &Bus{
		log:         log,
		sinks:       opts.Sinks,
		sinkTimeout: opts.SinkTimeout,
		clock:       opts.Clock,
		exec:        perkey.New[string](perkey.WithBufferSize(opts.BufferSize), perkey.WithLogger(log)),
		listeners:   make(map[Type]map[string]Listener),
	}
}

// Listen registers l for events of type t. The returned function removes it;
// events already queued for l are still delivered.
func (b *Bus) Listen(t Type, l Listener) (unsubscribe func()) {
	id := gonanoid.Must()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	if b.listeners[t] == nil {
		b.listeners[t] = make(map[string]Listener)
	}
	b.listeners[t][id] = l

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.listeners[t][id]; !ok {
			return
		}
		delete(b.listeners[t], id)
		if len(b.listeners[t]) == 0 {
			delete(b.listeners, t)
		}
		b.exec.Forget(listenerKey(id))
	}
}

// Publish stamps evt and queues it for every listener of its type and every sink.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.clock()
	}

	// held while submitting so an unsubscribe can't race a delivery
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for id, l := range b.listeners[evt.Type] {
		b.submit(listenerKey(id), evt, func() error {
			l(evt)
			return nil
		})
	}
	for i, s := range b.sinks {
		b.submit("sink/"+strconv.Itoa(i), evt, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), b.sinkTimeout)
			defer cancel()
			return s.Publish(ctx, evt)
		})
	}
}

func (b *Bus) submit(key string, evt Event, fn func() error) {
	if err := b.exec.Submit(key, fn); err != nil {
		b.log.Warn("event dropped",
			slog.String("target", key),
			slog.String("type", string(evt.Type)),
			slog.String("account_id", evt.AccountID),
			slog.Any("error", err),
		)
	}
}

func listenerKey(id string) string { return "listener/" + id }

// Close stops accepting events and waits until queued deliveries finished.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.listeners = make(map[Type]map[string]Listener)
	b.mu.Unlock()

	b.exec.Close()
}
