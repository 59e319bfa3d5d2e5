package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"signal-relay/internal/metrics"
)

// Janitor periodically prunes dead refresh tokens from the copy-setup
// reverse index. Session keys expire on their own; set members do not,
// so without sweeps the index would grow with every token rotation.
type Janitor struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger
}

// NewJanitor creates a janitor sweeping at the given interval.
func NewJanitor(store *Store, interval time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "janitor"),
	}
}

// Run starts the sweep loop. Blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	// Sweep immediately on startup
	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	sets, removed, err := j.store.PruneSetupIndexes(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		j.logger.Error("sweep failed", "error", err)
		return
	}
	if removed > 0 {
		metrics.AddSessionsPruned(removed)
		j.logger.Info("pruned dead session tokens", "sets", sets, "removed", removed)
	}
}

// PruneSetupIndexes walks every copy-setup reverse index and removes
// members whose session key no longer exists. Returns the number of sets
// visited and tokens removed.
func (s *Store) PruneSetupIndexes(ctx context.Context) (sets, removed int, err error) {
	pattern := s.ns + "copysetup_sessions:*"

	var cursor uint64
	for {
		var keys []string
		err := s.withRetry(ctx, "scan setup indexes", func() error {
			var err error
			keys, cursor, err = s.rdb.Scan(ctx, cursor, pattern, s.scanCount).Result()
			return err
		})
		if err != nil {
			return sets, removed, fmt.Errorf("scan setup indexes: %w", err)
		}

		for _, setKey := range keys {
			n, err := s.pruneSet(ctx, setKey)
			if err != nil {
				return sets, removed, err
			}
			sets++
			removed += n
		}

		if cursor == 0 {
			return sets, removed, nil
		}
	}
}

// pruneSet removes all dead tokens from one reverse-index set.
func (s *Store) pruneSet(ctx context.Context, setKey string) (int, error) {
	var tokens []string
	err := s.withRetry(ctx, "read setup index", func() error {
		var err error
		tokens, err = s.rdb.SMembers(ctx, setKey).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read %q: %w", setKey, err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = s.sessionKey(token)
	}
	vals, err := s.mgetBatched(ctx, keys)
	if err != nil {
		return 0, err
	}

	var dead []interface{}
	for i, raw := range vals {
		if raw == "" {
			dead = append(dead, tokens[i])
		}
	}
	if len(dead) == 0 {
		return 0, nil
	}

	err = s.withRetry(ctx, "prune setup index", func() error {
		return s.rdb.SRem(ctx, setKey, dead...).Err()
	})
	if err != nil {
		return 0, fmt.Errorf("prune %q: %w", setKey, err)
	}
	return len(dead), nil
}
