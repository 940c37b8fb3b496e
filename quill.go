// Package quill is a concurrent multi-session chat streaming engine.
// It runs at most one model response stream per session, any number of
// sessions in parallel up to a global bound, and keeps a bounded cache
// of per-session UI view state that replays in-flight streams on
// attach.
//
// The Client ties the pieces together for embedders; the underlying
// packages (stream, session, persistence, events) remain usable on
// their own.
package quill

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/quillchat/quill/config"
	"github.com/quillchat/quill/events"
	"github.com/quillchat/quill/internal/metrics"
	"github.com/quillchat/quill/llm"
	"github.com/quillchat/quill/persistence"
	"github.com/quillchat/quill/prompt"
	"github.com/quillchat/quill/session"
	"github.com/quillchat/quill/stream"
	"github.com/quillchat/quill/types"
)

// Client is the assembled engine: transcript store, stream
// orchestrator, event bus, and session view cache.
type Client struct {
	cfg     config.Config
	store   persistence.TranscriptStore
	bus     *events.Bus
	streams *stream.Orchestrator
	views   *session.ViewCache
	logger  *zap.Logger
}

// Options override pieces of the default assembly.
type Options struct {
	// Provider produces model responses. Required.
	Provider llm.Provider

	// Store overrides the backend built from cfg.Persistence.
	Store persistence.TranscriptStore

	// Registry receives the engine's Prometheus metrics. Nil keeps them
	// on a private registry.
	Registry prometheus.Registerer

	// Logger defaults to a logger built from cfg.Log.
	Logger *zap.Logger
}

// New assembles a Client from the configuration.
func New(cfg config.Config, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = config.NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = persistence.New(cfg.Persistence, logger)
		if err != nil {
			return nil, err
		}
	}

	collector := metrics.NewCollector("quill", opts.Registry)
	bus := events.NewBus(cfg.Events.BufferSize, logger)

	builder := prompt.NewBuilder(
		cfg.Prompt.SystemPrompt,
		cfg.Prompt.TokenBudget,
		prompt.NewTiktokenCounter(cfg.Prompt.Encoding, logger),
	)

	streams, err := stream.NewOrchestrator(cfg.Stream, stream.Deps{
		Provider: opts.Provider,
		Store:    store,
		Events:   bus,
		Prompt:   builder,
		Metrics:  collector,
		Logger:   logger,
	})
	if err != nil {
		bus.Stop()
		return nil, err
	}

	views, err := session.NewViewCache(
		cfg.Cache.Capacity, cfg.Cache.HistoryLimit,
		streams, store, collector, logger)
	if err != nil {
		streams.Shutdown()
		bus.Stop()
		return nil, err
	}

	return &Client{
		cfg:     cfg,
		store:   store,
		bus:     bus,
		streams: streams,
		views:   views,
		logger:  logger.With(zap.String("component", "client")),
	}, nil
}

// SendMessage starts one exchange for the session and returns the
// thread ID of the stream. types.ErrSessionBusy and
// types.ErrCapacityExceeded are expected rejections.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (string, error) {
	return c.streams.SendMessage(ctx, sessionID, text)
}

// StopStream cancels the session's active stream, if any.
func (c *Client) StopStream(sessionID string) {
	c.streams.StopStream(sessionID)
}

// ActiveThread returns the session's live stream handle, or nil.
func (c *Client) ActiveThread(sessionID string) *stream.Handle {
	return c.streams.ActiveThread(sessionID)
}

// SessionView returns the cached view state for the session, creating
// and hydrating it on first use.
func (c *Client) SessionView(ctx context.Context, sessionID string) (*session.ViewState, error) {
	return c.views.GetOrCreate(ctx, sessionID)
}

// SwitchToSession makes the session the active one and attaches its
// view to any in-flight stream.
func (c *Client) SwitchToSession(ctx context.Context, sessionID string) (*session.ViewState, error) {
	return c.views.SwitchToSession(ctx, sessionID)
}

// CloseSession stops the session's stream and drops its cached view.
func (c *Client) CloseSession(sessionID string) {
	c.views.CloseSession(sessionID)
}

// Diagnostics returns the view cache snapshot.
func (c *Client) Diagnostics() session.Diagnostics {
	return c.views.Diagnostics()
}

// Events exposes the notification bus for subscribers.
func (c *Client) Events() *events.Bus {
	return c.bus
}

// Shutdown stops streams, the view cache, the event bus, and the
// transcript store, in dependency order.
func (c *Client) Shutdown() error {
	c.views.Shutdown()
	c.bus.Stop()
	if err := c.store.Close(); err != nil {
		c.logger.Warn("transcript store close failed", zap.Error(err))
		return err
	}
	c.logger.Info("client shut down")
	return nil
}

// IsBusy reports whether err is the per-session single-stream
// rejection.
func IsBusy(err error) bool { return types.IsCode(err, types.CodeSessionBusy) }

// IsCapacity reports whether err is the global concurrency rejection.
func IsCapacity(err error) bool { return types.IsCode(err, types.CodeCapacityExceeded) }
