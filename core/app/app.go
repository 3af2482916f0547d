package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codewandler/walletrt-go/core/envelope"
	"github.com/codewandler/walletrt-go/core/events"
	"github.com/codewandler/walletrt-go/core/metrics"
	"github.com/codewandler/walletrt-go/core/runtime"
	"github.com/codewandler/walletrt-go/core/wallet"
	"github.com/codewandler/walletrt-go/ports/kv"
	"github.com/codewandler/walletrt-go/ports/ledger"
)

type RuntimeConfig struct {
	Workers         int
	MailboxSize     int
	ShutdownTimeout time.Duration
	StrictInit      bool
	// VersionConstraint, if set, rejects messages whose "version" doesn't
	// satisfy it, e.g. ">= 1.0, < 2".
	VersionConstraint string
}

type LedgerConfig struct {
	// Client is the ledger the wallet talks to (default: in-memory ledger).
	Client      ledger.Client
	CacheSize   int
	CacheTTL    time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
	// Timer measures ledger calls by operation.
	Timer func(op string) metrics.Timer
}

type Config struct {
	Context context.Context
	Log     *slog.Logger
	Runtime RuntimeConfig
	Ledger  LedgerConfig
	// Store holds account snapshots (default: in-memory store).
	Store   kv.Store
	Metrics runtime.Metrics
	// EventSinks receive every event in addition to listeners.
	EventSinks []events.Sink
	// IOTimeout bounds every storage and ledger call of an actor.
	IOTimeout time.Duration
}

// App wires a wallet service: the runtime with the wallet actors, the event
// bus, the guarded ledger client and the account store.
type App struct {
	ctx       context.Context
	log       *slog.Logger
	cancelCtx context.CancelFunc

	runtime *runtime.Runtime
	bus     *events.Bus
	ledger  *ledger.Guard
	store   kv.Store

	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

func New(config Config) (app *App, err error) {
	app = &App{done: make(chan struct{})}

	// === logger ===
	if config.Log == nil {
		config.Log = slog.Default()
	}
	app.log = config.Log

	// === context ===
	if config.Context == nil {
		config.Context = context.Background()
	}
	app.ctx, app.cancelCtx = context.WithCancel(config.Context)

	// === messages ===
	var regOpts []envelope.RegistryOption
	if c := config.Runtime.VersionConstraint; c != "" {
		regOpts = append(regOpts, envelope.WithVersionConstraint(c))
	}
	messages, err := wallet.NewMessageRegistry(regOpts...)
	if err != nil {
		app.cancelCtx()
		return nil, fmt.Errorf("create message registry: %w", err)
	}

	// === storage & ledger ===
	app.store = config.Store
	if app.store == nil {
		app.store = kv.NewMemStore()
	}
	ledgerClient := config.Ledger.Client
	if ledgerClient == nil {
		app.log.Warn("no ledger configured, using in-memory ledger")
		ledgerClient = ledger.NewMemLedger(ledger.MemLedgerOptions{})
	}
	app.ledger = ledger.NewGuard(ledgerClient, ledger.GuardOptions{
		Logger:      app.log,
		CacheSize:   config.Ledger.CacheSize,
		CacheTTL:    config.Ledger.CacheTTL,
		MaxFailures: config.Ledger.MaxFailures,
		OpenTimeout: config.Ledger.OpenTimeout,
		Timer:       config.Ledger.Timer,
	})

	// === events ===
	app.bus = events.NewBus(events.BusOptions{
		Logger: app.log,
		Sinks:  config.EventSinks,
	})

	app.log.Debug("creating app",
		slog.Int("workers", config.Runtime.Workers),
		slog.Int("mailbox_size", config.Runtime.MailboxSize),
	)

	app.runtime = runtime.New(runtime.Options{
		Logger:          app.log,
		Metrics:         config.Metrics,
		Messages:        messages,
		Workers:         config.Runtime.Workers,
		MailboxSize:     config.Runtime.MailboxSize,
		ShutdownTimeout: config.Runtime.ShutdownTimeout,
		StrictInit:      config.Runtime.StrictInit,
		Emit:            app.bus.Publish,
	}, wallet.Factory(wallet.Deps{
		Store:     app.store,
		Ledger:    app.ledger,
		Logger:    app.log,
		IOTimeout: config.IOTimeout,
	}))

	// cancelling the parent context stops the app
	go func() {
		select {
		case <-app.ctx.Done():
			app.Stop()
		case <-app.done:
		}
	}()

	return app, nil
}

func (a *App) Runtime() *runtime.Runtime { return a.runtime }
func (a *App) Events() *events.Bus        { return a.bus }
func (a *App) Ledger() *ledger.Guard      { return a.ledger }
func (a *App) Store() kv.Store            { return a.store }

// Run initializes the runtime. It is safe to call more than once unless the
// runtime runs with StrictInit.
func (a *App) Run() error {
	if err := a.runtime.Init(); err != nil {
		return err
	}
	if a.started.CompareAndSwap(false, true) {
		a.log.Info("app started")
	}
	return nil
}

// SendMessage submits a textual message to the wallet.
func (a *App) SendMessage(msg []byte, cb runtime.Callback) (string, error) {
	return a.runtime.SendMessage(msg, cb)
}

// Cancel fails the pending message correlationID with runtime.ErrCancelled.
func (a *App) Cancel(correlationID string) bool { return a.runtime.Cancel(correlationID) }

// Initialized reports whether the app accepts messages.
func (a *App) Initialized() bool { return a.runtime.Initialized() }

// Listen registers l for events of type t.
func (a *App) Listen(t events.Type, l events.Listener) (unsubscribe func()) {
	return a.bus.Listen(t, l)
}

// Shutdown drains the runtime, then stops event delivery. Calling it twice
// returns runtime.ErrAlreadyShutdown.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.runtime.Shutdown(ctx)
	if errors.Is(err, runtime.ErrAlreadyShutdown) {
		return err
	}
	a.Stop()
	return err
}

// Stop releases everything without draining. It is idempotent.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = a.runtime.Shutdown(ctx)
		cancel()
		a.bus.Close()
		a.ledger.Close()
		a.cancelCtx()
		close(a.done)
		a.log.Info("app stopped")
	})
}

// Done is closed once the app has stopped.
func (a *App) Done() <-chan struct{} { return a.done }

func Run(config Config) (app *App, err error) {
	app, err = New(config)
	if err != nil {
		return nil, err
	}

	err = app.Run()
	if err != nil {
		app.Stop()
		return nil, err
	}

	return app, nil
}
