// Package http serves the wallet binding over HTTP.
//
//	POST /messages   body: textual message, reply: response frame
//	GET  /healthz    version, uptime and runtime state
//	GET  /events     websocket stream of wallet events, when a source is configured
//	GET  /metrics    Prometheus metrics, when a gatherer is configured
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	nethttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/codewandler/walletrt-go/core/envelope"
	"github.com/codewandler/walletrt-go/core/runtime"
)

const (
	defaultTimeout = 30 * time.Second
	maxMessageSize = 1 << 20
)

// Sender is what the handler serves, usually an *app.App.
type Sender interface {
	SendMessage(msg []byte, cb runtime.Callback) (string, error)
	Cancel(correlationID string) bool
	Initialized() bool
}

type Config struct {
	Log     *slog.Logger
	Version string
	// Timeout bounds the wait for a response; the message is cancelled
	// afterwards. Default 30s.
	Timeout time.Duration
	// Gatherer enables /metrics.
	Gatherer prometheus.Gatherer
	// Events enables /events.
	Events EventSource
	// CORS defaults to allowing every origin.
	CORS *cors.Options
}

type server struct {
	sender  Sender
	events  EventSource
	log     *slog.Logger
	version string
	timeout time.Duration
	started time.Time
}

// Handler returns the HTTP handler for sender.
func Handler(sender Sender, cfg Config) nethttp.Handler {
	s := &server{
		sender:  sender,
		events:  cfg.Events,
		log:     cfg.Log,
		version: cfg.Version,
		timeout: cfg.Timeout,
		started: time.Now(),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With(slog.String("transport", "http"))
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}

	c := cors.AllowAll()
	if cfg.CORS != nil {
		c = cors.New(*cfg.CORS)
	}

	m := chi.NewMux()
	m.Use(middleware.RealIP)
	m.Use(middleware.Recoverer)
	m.Use(c.Handler)

	m.Post("/messages", s.handleMessage)
	m.Get("/healthz", s.handleHealth)
	if cfg.Events != nil {
		m.Get("/events", s.handleEvents)
	}
	if cfg.Gatherer != nil {
		m.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return m
}

func (s *server) handleMessage(w nethttp.ResponseWriter, r *nethttp.Request) {
	body, err := io.ReadAll(nethttp.MaxBytesReader(w, r.Body, maxMessageSize))
	if err != nil {
		writeFrame(w, nethttp.StatusRequestEntityTooLarge,
			envelope.EncodeError(runtime.KindMalformedMessage.String(), err.Error()))
		return
	}

	results := make(chan runtime.Result, 1)
	id, err := s.sender.SendMessage(body, func(res runtime.Result) { results <- res })
	if err != nil {
		kind := runtime.KindOf(err)
		writeFrame(w, statusOf(kind), envelope.EncodeError(kind.String(), err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	select {
	case res := <-results:
		writeFrame(w, statusOf(res.Kind()), res.Encode())
	case <-ctx.Done():
		// the callback still fires, with Cancelled, into the buffered channel
		s.sender.Cancel(id)
		s.log.Debug("message cancelled",
			slog.String("correlation_id", id),
			slog.Any("error", ctx.Err()),
		)
		status := nethttp.StatusGatewayTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			status = 499
		}
		writeFrame(w, status, envelope.EncodeError(runtime.KindCancelled.String(), ctx.Err().Error()))
	}
}

func (s *server) handleHealth(w nethttp.ResponseWriter, _ *nethttp.Request) {
	status := nethttp.StatusOK
	if !s.sender.Initialized() {
		status = nethttp.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"version":     s.version,
		"uptime":      time.Since(s.started).String(),
		"initialized": status == nethttp.StatusOK,
	})
}

func statusOf(kind runtime.Kind) int {
	switch kind {
	case runtime.KindNone:
		return nethttp.StatusOK
	case runtime.KindMalformedMessage:
		return nethttp.StatusBadRequest
	case runtime.KindBackpressure:
		return nethttp.StatusTooManyRequests
	case runtime.KindNotInitialized, runtime.KindAlreadyShutdown, runtime.KindCancelled:
		return nethttp.StatusServiceUnavailable
	case runtime.KindOperationFailed:
		return nethttp.StatusUnprocessableEntity
	default:
		return nethttp.StatusInternalServerError
	}
}

func writeFrame(w nethttp.ResponseWriter, status int, frame []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(frame)
}
