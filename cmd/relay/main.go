// Signal Relay — ingests trade signals from chat rooms, extracts them into
// structured form, and fans them out to copier clients over a polling API.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine + API server, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires feed → processor → distributor, owns all lifecycles
//	chatfeed/feed.go     — WebSocket client for the chat gateway with auto-reconnect and resume cursor
//	process/process.go   — per-event pipeline: classify, extract, persist in one tx, then distribute
//	extract/             — manual signal/reply parsers with a per-room AI fallback
//	ai/client.go         — OpenAI chat-completion client (retries, rate limit, circuit breaker)
//	distribute/          — expands signals into per-setup trades, enqueues to client sessions
//	queue/               — Redis session store and per-client pending queues with TTL
//	repo/                — pgx repository: rooms, messages, signals, replies, setups, trades
//	api/                 — HTTP polling surface for copier clients plus ops endpoints
//
// The relay never talks to a broker. Copier clients poll /poll with a
// rotating refresh token, place the trades on their own platform, and
// report state back; the server's job is extraction fidelity and
// reliable fan-out.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"signal-relay/internal/api"
	"signal-relay/internal/config"
	"signal-relay/internal/engine"
)

func main() {
	// Optional .env for local runs; real deployments set the environment.
	_ = godotenv.Load()

	// The YAML file is optional; a pure-environment deployment runs with
	// defaults plus env overrides.
	cfgPath := os.Getenv("RELAY_CONFIG")
	if cfgPath == "" {
		if _, err := os.Stat("configs/config.yaml"); err == nil {
			cfgPath = "configs/config.yaml"
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Create and start engine
	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	// Polling API; migrations already ran inside engine Start.
	handlers := api.NewHandlers(eng.Repo(), eng.Queue(), eng, cfg.Server, logger)
	server := api.NewServer(cfg.Server, handlers, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()

	logger.Info("signal relay started",
		"port", cfg.Server.Port,
		"production", cfg.Production,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop the API first so polls stop mutating queues mid-drain
	if err := server.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
