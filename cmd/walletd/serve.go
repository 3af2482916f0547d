package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/codewandler/walletrt-go/adapters/http"
	"github.com/codewandler/walletrt-go/adapters/nats"
	promadapter "github.com/codewandler/walletrt-go/adapters/prometheus"
	"github.com/codewandler/walletrt-go/core/app"
	"github.com/codewandler/walletrt-go/ports/ledger"
)

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the wallet runtime with its HTTP and NATS bindings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(c.v)
			if err != nil {
				return err
			}
			return c.serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address (overrides http.addr)")
	cmd.Flags().String("nats-url", "", "NATS server URL (overrides nats.url)")
	_ = c.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	_ = c.v.BindPFlag("nats.url", cmd.Flags().Lookup("nats-url"))
	return cmd
}

func (c *cli) serve(ctx context.Context, cfg config) error {
	log := c.log

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := promadapter.NewAllMetrics(reg)

	appCfg := app.Config{
		Log: log,
		Runtime: app.RuntimeConfig{
			Workers:           cfg.Runtime.Workers,
			MailboxSize:       cfg.Runtime.MailboxSize,
			ShutdownTimeout:   cfg.Runtime.ShutdownTimeout,
			StrictInit:        cfg.Runtime.StrictInit,
			VersionConstraint: cfg.Runtime.VersionConstraint,
		},
		Ledger: app.LedgerConfig{
			CacheSize:   cfg.Ledger.CacheSize,
			CacheTTL:    cfg.Ledger.CacheTTL,
			MaxFailures: cfg.Ledger.MaxFailures,
			OpenTimeout: cfg.Ledger.OpenTimeout,
			Timer:       m.Ledger.Timer,
		},
		Metrics:   m.Runtime,
		IOTimeout: cfg.IOTimeout,
	}

	var (
		closers []func()
		connect nats.Connector
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	if cfg.NATS.URL != "" {
		connect = nats.ReuseConnection(nats.ConnectURL(cfg.NATS.URL))

		store, err := nats.NewKvStore(nats.KvConfig{Connect: connect, Bucket: cfg.NATS.Bucket})
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		closers = append(closers, store.Close)
		appCfg.Store = store

		if cfg.NATS.ServeLedger {
			ledgerCtx, stopLedger := context.WithCancel(context.Background())
			closers = append(closers, stopLedger)
			if _, err := nats.ServeLedger(ledgerCtx, nats.LedgerConfig{
				Connect:       connect,
				Log:           log,
				SubjectPrefix: cfg.NATS.Prefix,
			}, ledger.NewMemLedger(ledger.MemLedgerOptions{})); err != nil {
				return fmt.Errorf("serve ledger: %w", err)
			}
			log.Warn("serving an in-memory ledger on nats, do not use in production")
		}

		if cfg.Ledger.Backend == "nats" {
			client, err := nats.NewLedgerClient(nats.LedgerConfig{Connect: connect, Log: log, SubjectPrefix: cfg.NATS.Prefix})
			if err != nil {
				return fmt.Errorf("nats ledger: %w", err)
			}
			closers = append(closers, client.Close)
			appCfg.Ledger.Client = client
		}

		if cfg.NATS.Events {
			pub, err := nats.NewEventPublisher(nats.EventPublisherConfig{Connect: connect, SubjectPrefix: cfg.NATS.Prefix})
			if err != nil {
				return fmt.Errorf("nats events: %w", err)
			}
			closers = append(closers, pub.Close)
			appCfg.EventSinks = append(appCfg.EventSinks, pub)
		}
	}

	a, err := app.Run(appCfg)
	if err != nil {
		return err
	}
	closers = append(closers, a.Stop)

	if connect != nil {
		bs, err := nats.NewBindingServer(nats.BindingConfig{Connect: connect, Log: log, SubjectPrefix: cfg.NATS.Prefix}, a)
		if err != nil {
			return fmt.Errorf("nats binding: %w", err)
		}
		closers = append(closers, func() { _ = bs.Close() })
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpadapter.Handler(a, httpadapter.Config{
			Log:      log,
			Version:  version,
			Timeout:  cfg.HTTP.Timeout,
			Gatherer: reg,
			Events:   a,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("walletd launched",
		slog.String("version", version),
		slog.String("addr", srv.Addr),
		slog.Bool("nats", connect != nil),
		slog.String("ledger", cfg.Ledger.Backend),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownTimeout+5*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if serr := a.Shutdown(shutdownCtx); serr != nil {
			err = errors.Join(err, serr)
		}
		log.Info("walletd stopped")
		return err
	})

	return g.Wait()
}
