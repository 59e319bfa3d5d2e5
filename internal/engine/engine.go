// Package engine is the central orchestrator of the relay.
//
// It wires together all subsystems:
//
//  1. The chat feed streams message events from the gateway and spawns
//     one tracked task per event.
//  2. The processor classifies each event against stored message state,
//     extracts signals and reply actions (manual parse first, AI model
//     as fallback), and persists the outcome in one transaction.
//  3. The distributor expands committed signals into per-setup trades
//     and fans them out to client session queues.
//  4. A janitor sweeps dead session tokens out of the queue indexes.
//
// The HTTP polling surface runs beside the engine and reads the same
// repository and queue store; the engine only feeds the queues.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"signal-relay/internal/ai"
	"signal-relay/internal/api"
	"signal-relay/internal/chatfeed"
	"signal-relay/internal/config"
	"signal-relay/internal/distribute"
	"signal-relay/internal/extract"
	"signal-relay/internal/process"
	"signal-relay/internal/queue"
	"signal-relay/internal/repo"
	"signal-relay/internal/tasks"
)

// shutdownTimeout bounds how long Stop waits for in-flight event tasks.
const shutdownTimeout = 10 * time.Second

// Engine orchestrates all components of the relay. It owns the storage
// handles and the lifecycle of every background goroutine.
type Engine struct {
	cfg     *config.Config
	repo    *repo.Repository
	store   *queue.Store
	feed    *chatfeed.Feed
	janitor *queue.Janitor
	tracker *tasks.Tracker
	logger  *slog.Logger

	startedAt time.Time
}

// New creates and wires all engine components.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	r, err := repo.New(context.Background(), cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	store := queue.New(cfg.Queue, logger)

	aiClient := ai.NewClient(cfg.AI, logger)
	extractor := extract.New(aiClient, cfg.Extract.MaxErrorsForAI, logger)
	dist := distribute.New(r, store, logger)
	proc := process.New(r, extractor, dist, logger)

	tracker := tasks.NewTracker(logger)

	state, err := chatfeed.OpenState(cfg.Feed.StateDir)
	if err != nil {
		store.Close()
		r.Close()
		return nil, err
	}

	feed, err := chatfeed.New(cfg.Feed, state, tracker, proc.HandleEvent, logger)
	if err != nil {
		store.Close()
		r.Close()
		return nil, err
	}

	janitor := queue.NewJanitor(store, cfg.Queue.JanitorInterval, logger)

	return &Engine{
		cfg:     cfg,
		repo:    r,
		store:   store,
		feed:    feed,
		janitor: janitor,
		tracker: tracker,
		logger:  logger.With("component", "engine"),
	}, nil
}

// Start prepares storage and launches the background tasks.
func (e *Engine) Start() error {
	if e.cfg.Database.CreateTablesOnStartup {
		if err := e.repo.Migrate(); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		e.logger.Info("schema migrations applied")
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.repo.Ping(pingCtx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := e.store.Ping(pingCtx); err != nil {
		return fmt.Errorf("queue store ping: %w", err)
	}

	e.startedAt = time.Now()

	e.tracker.Spawn("chat-feed", func(ctx context.Context) {
		if err := e.feed.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("chat feed stopped", "error", err)
		}
	})
	e.tracker.Spawn("queue-janitor", e.janitor.Run)

	e.logger.Info("engine started",
		"production", e.cfg.Production,
		"feed_url", e.cfg.Feed.URL,
	)

	return nil
}

// Stop gracefully shuts down: cancels background tasks, drains in-flight
// event work, and closes the storage handles.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	if err := e.tracker.Shutdown(shutdownTimeout); err != nil {
		e.logger.Error("background tasks did not drain", "error", err)
	}

	e.feed.Close()
	if err := e.store.Close(); err != nil {
		e.logger.Error("queue store close failed", "error", err)
	}
	e.repo.Close()

	e.logger.Info("shutdown complete")
}

// Status reports the runtime snapshot served by the admin endpoint.
func (e *Engine) Status(ctx context.Context) (api.Status, error) {
	stats, err := e.repo.GetStats(ctx)
	if err != nil {
		return api.Status{}, fmt.Errorf("read table stats: %w", err)
	}

	return api.Status{
		UptimeSec:     int64(time.Since(e.startedAt).Seconds()),
		Production:    e.cfg.Production,
		FeedConnected: e.feed.Connected(),
		FeedCursor:    e.feed.Cursor(),
		Tasks:         e.tracker.Names(),
		Store:         stats,
	}, nil
}

// Repo exposes the repository for the API handlers.
func (e *Engine) Repo() *repo.Repository { return e.repo }

// Queue exposes the session/queue store for the API handlers.
func (e *Engine) Queue() *queue.Store { return e.store }
