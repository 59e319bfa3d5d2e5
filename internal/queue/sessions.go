package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"signal-relay/pkg/types"
)

// AddSession stores a session under its refresh token with the configured
// TTL and writes both secondary indexes in one transaction: the client →
// token pointer and the copy-setup reverse index.
func (s *Store) AddSession(ctx context.Context, sess types.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	return s.withRetry(ctx, "add session", func() error {
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.sessionKey(sess.RefreshToken), payload, s.ttl)
			pipe.Set(ctx, s.clientSessionKey(sess.ClientInstanceID), sess.RefreshToken, s.ttl)
			pipe.SAdd(ctx, s.setupSessionsKey(sess.CopySetupID), sess.RefreshToken)
			return nil
		})
		return err
	})
}

// RotateSession replaces oldToken with the new session record in one
// transaction. The old key and its reverse-index entry go away, the new
// ones arrive, and the TTL restarts.
func (s *Store) RotateSession(ctx context.Context, oldToken string, sess types.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	return s.withRetry(ctx, "rotate session", func() error {
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.sessionKey(oldToken))
			pipe.SRem(ctx, s.setupSessionsKey(sess.CopySetupID), oldToken)
			pipe.Set(ctx, s.sessionKey(sess.RefreshToken), payload, s.ttl)
			pipe.Set(ctx, s.clientSessionKey(sess.ClientInstanceID), sess.RefreshToken, s.ttl)
			pipe.SAdd(ctx, s.setupSessionsKey(sess.CopySetupID), sess.RefreshToken)
			return nil
		})
		return err
	})
}

// DeleteSession removes a session and both of its index entries.
func (s *Store) DeleteSession(ctx context.Context, sess types.Session) error {
	return s.withRetry(ctx, "delete session", func() error {
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.sessionKey(sess.RefreshToken))
			pipe.Del(ctx, s.clientSessionKey(sess.ClientInstanceID))
			pipe.SRem(ctx, s.setupSessionsKey(sess.CopySetupID), sess.RefreshToken)
			return nil
		})
		return err
	})
}

// GetSession resolves a refresh token, or ErrSessionNotFound if the token
// is unknown or expired.
func (s *Store) GetSession(ctx context.Context, token string) (*types.Session, error) {
	var raw string
	err := s.withRetry(ctx, "get session", func() error {
		var err error
		raw, err = s.rdb.Get(ctx, s.sessionKey(token)).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess types.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// GetSessionByClient resolves the current session of a client instance,
// following the client → token pointer. A dangling pointer (session
// expired first) reports ErrSessionNotFound.
func (s *Store) GetSessionByClient(ctx context.Context, clientInstanceID string) (*types.Session, error) {
	var token string
	err := s.withRetry(ctx, "get client session", func() error {
		var err error
		token, err = s.rdb.Get(ctx, s.clientSessionKey(clientInstanceID)).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client session: %w", err)
	}
	return s.GetSession(ctx, token)
}

// SessionsByCopySetup returns up to limit live sessions subscribed to a
// copy setup (limit <= 0 means all), reading the reverse index and
// resolving tokens in MGET batches. Dead tokens are skipped here; the
// janitor removes them.
func (s *Store) SessionsByCopySetup(ctx context.Context, copySetupID int64, limit int) ([]types.Session, error) {
	var tokens []string
	err := s.withRetry(ctx, "setup sessions", func() error {
		var err error
		tokens, err = s.rdb.SMembers(ctx, s.setupSessionsKey(copySetupID)).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read setup index: %w", err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = s.sessionKey(token)
	}
	vals, err := s.mgetBatched(ctx, keys)
	if err != nil {
		return nil, err
	}

	return decodeSessions(vals, limit, s.logger), nil
}

// decodeSessions parses raw session payloads, skipping expired holes and
// anything that fails to parse. The limit counts parsed sessions, not raw
// payloads (limit <= 0 means all).
func decodeSessions(vals []string, limit int, logger *slog.Logger) []types.Session {
	var out []types.Session
	for _, raw := range vals {
		if raw == "" {
			continue
		}
		var sess types.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			logger.Warn("skipping undecodable session payload", "error", err)
			continue
		}
		out = append(out, sess)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
