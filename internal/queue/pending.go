package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"signal-relay/pkg/types"
)

// AddPendingTrades enqueues trades for a client, one key per trade so
// acks can delete them individually. Each key carries the session TTL;
// trades nobody picks up evaporate with the session. Returns the number
// of trades written.
func (s *Store) AddPendingTrades(ctx context.Context, clientInstanceID string, trades []types.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	// Writes are pipelined in trade order, entry index first then tp index,
	// so the queue preserves the expansion order across retries.
	keys := make([]string, len(trades))
	payloads := make([][]byte, len(trades))
	for i, t := range trades {
		raw, err := json.Marshal(t)
		if err != nil {
			return 0, fmt.Errorf("encode trade %d: %w", t.ID, err)
		}
		keys[i] = s.tradeKey(clientInstanceID, t.ID)
		payloads[i] = raw
	}

	err := s.withRetry(ctx, "add pending trades", func() error {
		_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, key := range keys {
				pipe.Set(ctx, key, payloads[i], s.ttl)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(trades), nil
}

// PendingTrades returns up to limit pending trades for a client
// (limit <= 0 means all).
func (s *Store) PendingTrades(ctx context.Context, clientInstanceID string, limit int) ([]types.Trade, error) {
	raws, err := s.collect(ctx, s.tradePattern(clientInstanceID), limit)
	if err != nil {
		return nil, err
	}

	var out []types.Trade
	for _, raw := range raws {
		var t types.Trade
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			s.logger.Warn("skipping undecodable pending trade", "error", err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// DeletePendingTrades removes acked trades by id. Returns the number of
// keys actually deleted.
func (s *Store) DeletePendingTrades(ctx context.Context, clientInstanceID string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.tradeKey(clientInstanceID, id)
	}

	var deleted int64
	err := s.withRetry(ctx, "delete pending trades", func() error {
		var err error
		deleted, err = s.rdb.Del(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

// AddPendingReplies enqueues signal replies for a client, one key per
// reply with the session TTL. Returns the number of replies written.
func (s *Store) AddPendingReplies(ctx context.Context, clientInstanceID string, replies []types.SignalReply) (int, error) {
	if len(replies) == 0 {
		return 0, nil
	}

	keys := make([]string, len(replies))
	payloads := make([][]byte, len(replies))
	for i, reply := range replies {
		raw, err := json.Marshal(reply)
		if err != nil {
			return 0, fmt.Errorf("encode signal reply %d: %w", reply.ID, err)
		}
		keys[i] = s.replyKey(clientInstanceID, reply.ID)
		payloads[i] = raw
	}

	err := s.withRetry(ctx, "add pending replies", func() error {
		_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, key := range keys {
				pipe.Set(ctx, key, payloads[i], s.ttl)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(replies), nil
}

// PendingReplies returns up to limit pending signal replies for a client
// (limit <= 0 means all).
func (s *Store) PendingReplies(ctx context.Context, clientInstanceID string, limit int) ([]types.SignalReply, error) {
	raws, err := s.collect(ctx, s.replyPattern(clientInstanceID), limit)
	if err != nil {
		return nil, err
	}

	var out []types.SignalReply
	for _, raw := range raws {
		var reply types.SignalReply
		if err := json.Unmarshal([]byte(raw), &reply); err != nil {
			s.logger.Warn("skipping undecodable pending reply", "error", err)
			continue
		}
		out = append(out, reply)
	}
	return out, nil
}

// DeletePendingReplies removes acked signal replies by id. Returns the
// number of keys actually deleted.
func (s *Store) DeletePendingReplies(ctx context.Context, clientInstanceID string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.replyKey(clientInstanceID, id)
	}

	var deleted int64
	err := s.withRetry(ctx, "delete pending replies", func() error {
		var err error
		deleted, err = s.rdb.Del(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}
