package api

import (
	"context"

	"signal-relay/internal/repo"
)

// StatusProvider exposes the engine's runtime state to the admin endpoint.
type StatusProvider interface {
	Status(ctx context.Context) (Status, error)
}

// Status is the runtime snapshot returned by GET /admin/status.
type Status struct {
	UptimeSec     int64      `json:"uptime_sec"`
	Production    bool       `json:"production"`
	FeedConnected bool       `json:"feed_connected"`
	FeedCursor    int64      `json:"feed_cursor"`
	Tasks         []string   `json:"tasks"`
	Store         repo.Stats `json:"store"`
}
