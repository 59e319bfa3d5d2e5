// Package queue implements the delivery store on Redis: client sessions
// keyed by rotating refresh token, and per-client pending trades and
// signal replies awaiting pickup.
//
// Key patterns (namespace prefix applied when configured):
//
//	session:{refresh_token}                      session record, TTL
//	client_session:{client_instance_id}          client → current token
//	copysetup_sessions:{copy_setup_id}           set of tokens (reverse index)
//	pending:{client_instance_id}:trades:{id}     one pending trade, TTL
//	pending:{client_instance_id}:signal_replies:{id}
//
// Every operation retries transient failures with exponential backoff and
// jitter; cancellation and key misses are never retried. Bulk reads use
// SCAN plus batched MGET so large keyspaces never block the server.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"signal-relay/internal/config"
	"signal-relay/internal/metrics"
)

// ErrSessionNotFound is returned when a refresh token or client pointer
// resolves to nothing.
var ErrSessionNotFound = errors.New("queue: session not found")

// jitterMax pads each retry backoff with up to this much extra sleep.
const jitterMax = 50 * time.Millisecond

// Store is the Redis-backed session and pending-delivery store.
type Store struct {
	rdb       *redis.Client
	ns        string
	ttl       time.Duration
	retries   int
	backoff   time.Duration
	scanCount int64
	mgetBatch int
	logger    *slog.Logger
}

// New builds a Store from config. The connection is lazy; call Ping to
// fail fast on a misconfigured address.
func New(cfg config.QueueConfig, logger *slog.Logger) *Store {
	ns := ""
	if cfg.Namespace != "" {
		ns = cfg.Namespace + ":"
	}

	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ns:        ns,
		ttl:       cfg.SessionTTL,
		retries:   cfg.Retries,
		backoff:   cfg.RetryBackoff,
		scanCount: cfg.ScanCount,
		mgetBatch: cfg.MGetBatch,
		logger:    logger.With("component", "queue"),
	}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.withRetry(ctx, "ping", func() error {
		return s.rdb.Ping(ctx).Err()
	})
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// SessionTTL reports the configured session lifetime.
func (s *Store) SessionTTL() time.Duration {
	return s.ttl
}

// ————————————————————————————————————————————————————————————————————————
// Key builders
// ————————————————————————————————————————————————————————————————————————

func (s *Store) sessionKey(token string) string {
	return s.ns + "session:" + token
}

func (s *Store) clientSessionKey(clientInstanceID string) string {
	return s.ns + "client_session:" + clientInstanceID
}

func (s *Store) setupSessionsKey(copySetupID int64) string {
	return fmt.Sprintf("%scopysetup_sessions:%d", s.ns, copySetupID)
}

func (s *Store) tradeKey(clientInstanceID string, id int64) string {
	return fmt.Sprintf("%spending:%s:trades:%d", s.ns, clientInstanceID, id)
}

func (s *Store) replyKey(clientInstanceID string, id int64) string {
	return fmt.Sprintf("%spending:%s:signal_replies:%d", s.ns, clientInstanceID, id)
}

func (s *Store) tradePattern(clientInstanceID string) string {
	return s.ns + "pending:" + clientInstanceID + ":trades:*"
}

func (s *Store) replyPattern(clientInstanceID string) string {
	return s.ns + "pending:" + clientInstanceID + ":signal_replies:*"
}

// ————————————————————————————————————————————————————————————————————————
// Retry and bulk-read plumbing
// ————————————————————————————————————————————————————————————————————————

// withRetry runs op up to s.retries times with exponential backoff plus
// jitter. redis.Nil (key miss) and context cancellation return
// immediately.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var last error
	for attempt := 1; attempt <= s.retries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		last = err

		if attempt < s.retries {
			metrics.IncQueueRetry()
			sleep := s.backoff*time.Duration(1<<(attempt-1)) +
				time.Duration(rand.Float64()*float64(jitterMax))
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	s.logger.Error("queue operation failed after retries", "op", op, "error", last)
	return last
}

// mgetBatched fetches values for keys in MGET batches, preserving order.
// Missing keys come back as empty strings.
func (s *Store) mgetBatched(ctx context.Context, keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	for start := 0; start < len(keys); start += s.mgetBatch {
		end := start + s.mgetBatch
		if end > len(keys) {
			end = len(keys)
		}

		var vals []interface{}
		err := s.withRetry(ctx, "mget", func() error {
			var err error
			vals, err = s.rdb.MGet(ctx, keys[start:end]...).Result()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("mget batch: %w", err)
		}

		for _, v := range vals {
			raw, _ := v.(string)
			out = append(out, raw)
		}
	}
	return out, nil
}

// collect returns the raw values of every key matching pattern, stopping
// early once limit non-empty values are gathered (limit <= 0 means all).
func (s *Store) collect(ctx context.Context, pattern string, limit int) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		var keys []string
		err := s.withRetry(ctx, "scan", func() error {
			var err error
			keys, cursor, err = s.rdb.Scan(ctx, cursor, pattern, s.scanCount).Result()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", pattern, err)
		}

		if len(keys) > 0 {
			vals, err := s.mgetBatched(ctx, keys)
			if err != nil {
				return nil, err
			}
			for _, raw := range vals {
				if raw == "" {
					continue // expired between SCAN and MGET
				}
				out = append(out, raw)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}

		if cursor == 0 {
			return out, nil
		}
	}
}
