// Package binding is the process-wide entry point of the wallet, shaped
// after a foreign-function binding: Init once, then SendMessage with a
// textual message and a callback that receives the textual response.
//
//	if err := binding.Init(); err != nil { ... }
//	err := binding.SendMessage(`{"type":"ListAccounts"}`, func(resp string) {
//	    fmt.Println(resp)
//	})
//
// Structural failures (not initialized, malformed message, backpressure)
// are returned synchronously and the callback is never invoked. Every
// accepted message gets exactly one callback, with either a response frame
// or an "Error" frame.
package binding

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codewandler/walletrt-go/core/app"
	"github.com/codewandler/walletrt-go/core/events"
	"github.com/codewandler/walletrt-go/core/runtime"
	"github.com/codewandler/walletrt-go/internal/codec"
	"github.com/codewandler/walletrt-go/ports/kv"
	"github.com/codewandler/walletrt-go/ports/ledger"
)

// Callback receives the textual outcome of one message.
type Callback func(response string)

type Option func(*app.Config)

func WithConfig(cfg app.Config) Option { return func(c *app.Config) { *c = cfg } }

func WithLogger(log *slog.Logger) Option { return func(c *app.Config) { c.Log = log } }

func WithStore(store kv.Store) Option { return func(c *app.Config) { c.Store = store } }

func WithLedger(client ledger.Client) Option {
	return func(c *app.Config) { c.Ledger.Client = client }
}

func WithMetrics(m runtime.Metrics) Option { return func(c *app.Config) { c.Metrics = m } }

func WithEventSinks(sinks ...events.Sink) Option {
	return func(c *app.Config) { c.EventSinks = append(c.EventSinks, sinks...) }
}

func WithWorkers(n int) Option { return func(c *app.Config) { c.Runtime.Workers = n } }

// WithMailboxSize bounds the unfinished messages per actor; beyond it
// SendMessage fails with runtime.ErrBackpressure.
func WithMailboxSize(n int) Option { return func(c *app.Config) { c.Runtime.MailboxSize = n } }

func WithShutdownTimeout(d time.Duration) Option {
	return func(c *app.Config) { c.Runtime.ShutdownTimeout = d }
}

// WithStrictInit makes a second Init fail with runtime.ErrAlreadyInitialized.
func WithStrictInit() Option { return func(c *app.Config) { c.Runtime.StrictInit = true } }

var (
	mu      sync.RWMutex
	current *app.App
)

// Init creates and starts the process-wide wallet on first use. Later calls
// are no-ops (options are ignored) unless strict init was requested. After
// Shutdown, Init fails with runtime.ErrAlreadyShutdown.
func Init(opts ...Option) error {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return current.Run()
	}

	var cfg app.Config
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := app.Run(cfg)
	if err != nil {
		return err
	}
	current = a
	return nil
}

// SendMessage submits message. The returned error is one of the runtime's
// synchronous errors; on nil, cb will be called exactly once.
func SendMessage(message string, cb Callback) error {
	a, err := running()
	if err != nil {
		return err
	}
	_, err = a.SendMessage([]byte(message), func(res runtime.Result) {
		cb(string(res.Encode()))
	})
	return err
}

// Listen registers cb for events named eventType, e.g. "BalanceChange". Each
// event is passed as JSON.
func Listen(eventType string, cb func(event string)) (unsubscribe func(), err error) {
	t, err := events.ParseType(eventType)
	if err != nil {
		return nil, err
	}
	a, err := running()
	if err != nil {
		return nil, err
	}
	log := slog.Default()
	return a.Listen(t, func(evt events.Event) {
		data, err := codec.JSON.Marshal(evt)
		if err != nil {
			log.Error("failed to encode event", slog.String("event_type", string(evt.Type)), slog.Any("error", err))
			return
		}
		cb(string(data))
	}), nil
}

// Shutdown drains pending messages, bounded by ctx, and stops the wallet.
func Shutdown(ctx context.Context) error {
	mu.RLock()
	a := current
	mu.RUnlock()
	if a == nil {
		return runtime.ErrNotInitialized
	}
	return a.Shutdown(ctx)
}

// App exposes the process-wide app, e.g. to serve it over NATS or HTTP. It
// is nil before Init.
func App() *app.App {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func running() (*app.App, error) {
	mu.RLock()
	defer mu.RUnlock()
	switch {
	case current == nil:
		return nil, runtime.ErrNotInitialized
	case !current.Runtime().Initialized():
		return nil, runtime.ErrAlreadyShutdown
	}
	return current, nil
}
