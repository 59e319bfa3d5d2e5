// Package distribute fans persisted signals and signal replies out to the
// pending queues of connected client sessions.
//
// Fan-out walks the chat's copy setups sequentially. For a signal, each
// setup re-filters the price layers under its own config caps, expands the
// surviving (entry, tp) grid into persisted trade rows, and enqueues the
// rows to every session of that setup. A reply needs no expansion: one
// scheme goes to every session. Failures are isolated per copy setup and
// per session; one bad setup never blocks its peers.
package distribute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"signal-relay/internal/extract"
	"signal-relay/internal/metrics"
	"signal-relay/internal/repo"
	"signal-relay/pkg/types"
)

// Repository is the slice of the relational store fan-out reads and writes.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetSignalContext(ctx context.Context, db repo.Querier, signalID int64) (*repo.SignalContext, error)
	InsertTrade(ctx context.Context, db repo.Querier, t *types.Trade) error
	Pool() repo.Querier
}

// SessionStore is the queue surface fan-out enqueues into.
type SessionStore interface {
	SessionsByCopySetup(ctx context.Context, copySetupID int64, limit int) ([]types.Session, error)
	AddPendingTrades(ctx context.Context, clientInstanceID string, trades []types.Trade) (int, error)
	AddPendingReplies(ctx context.Context, clientInstanceID string, replies []types.SignalReply) (int, error)
}

// Distributor connects committed signals and replies to client queues.
type Distributor struct {
	repo   Repository
	store  SessionStore
	logger *slog.Logger
}

func New(r Repository, store SessionStore, logger *slog.Logger) *Distributor {
	return &Distributor{
		repo:   r,
		store:  store,
		logger: logger.With("component", "distribute"),
	}
}

// loadContext eager-loads the signal with its message, chat room, and the
// chat's active copy setups in one transaction, so fan-out works from a
// consistent snapshot.
func (d *Distributor) loadContext(ctx context.Context, signalID int64) (*repo.SignalContext, error) {
	var sc *repo.SignalContext
	err := d.repo.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		sc, err = d.repo.GetSignalContext(ctx, tx, signalID)
		return err
	})
	return sc, err
}

// DistributeSignal expands a committed signal and queues the resulting
// trades. It runs after the producing transaction commits; a failure here
// is reported to the caller for logging but never unwinds persisted state.
func (d *Distributor) DistributeSignal(ctx context.Context, signalID int64) error {
	sc, err := d.loadContext(ctx, signalID)
	if err != nil {
		return fmt.Errorf("load signal context: %w", err)
	}
	if len(sc.Setups) == 0 {
		d.logger.Info("no copy setups attached to chat, nothing to distribute",
			"signal_id", signalID,
			"chat_id", sc.ChatRoom.ID,
		)
		return nil
	}

	for _, cs := range sc.Setups {
		if err := d.signalToSetup(ctx, sc, cs); err != nil {
			d.logger.Error("signal distribution failed for copy setup",
				"signal_id", signalID,
				"copy_setup_id", cs.ID,
				"error", err,
			)
		}
	}
	return nil
}

// signalToSetup generates this setup's trades and queues them to each of
// its sessions.
func (d *Distributor) signalToSetup(ctx context.Context, sc *repo.SignalContext, cs types.CopySetup) error {
	trades := d.generateTrades(ctx, cs, sc.Signal, sc.Message.PostTime)
	if len(trades) == 0 {
		return nil
	}

	sessions, err := d.store.SessionsByCopySetup(ctx, cs.ID, 0)
	if err != nil {
		return fmt.Errorf("look up sessions: %w", err)
	}
	if len(sessions) == 0 {
		d.logger.Debug("no active sessions for copy setup",
			"signal_id", sc.Signal.ID,
			"copy_setup_id", cs.ID,
		)
		return nil
	}

	queued := 0
	for _, sess := range sessions {
		n, err := d.store.AddPendingTrades(ctx, sess.ClientInstanceID, trades)
		if err != nil {
			d.logger.Error("failed to enqueue trades for session",
				"signal_id", sc.Signal.ID,
				"copy_setup_id", cs.ID,
				"client_instance_id", sess.ClientInstanceID,
				"error", err,
			)
			continue
		}
		queued += n
	}

	metrics.AddTradesDistributed(queued)
	d.logger.Info("distributed trades",
		"signal_id", sc.Signal.ID,
		"copy_setup_id", cs.ID,
		"trades", len(trades),
		"sessions", len(sessions),
	)
	return nil
}

// DistributeReply queues a committed signal reply to every session of every
// copy setup attached to the originating chat. Which actions a client acts
// on is its own config-driven decision; the server delivers everything.
func (d *Distributor) DistributeReply(ctx context.Context, reply types.SignalReply) error {
	sc, err := d.loadContext(ctx, reply.SignalID)
	if err != nil {
		return fmt.Errorf("load reply context: %w", err)
	}
	if len(sc.Setups) == 0 {
		d.logger.Info("no copy setups attached to chat, nothing to distribute",
			"signal_reply_id", reply.ID,
			"chat_id", sc.ChatRoom.ID,
		)
		return nil
	}

	payload := []types.SignalReply{reply}
	for _, cs := range sc.Setups {
		sessions, err := d.store.SessionsByCopySetup(ctx, cs.ID, 0)
		if err != nil {
			d.logger.Error("failed to look up sessions",
				"signal_reply_id", reply.ID,
				"copy_setup_id", cs.ID,
				"error", err,
			)
			continue
		}
		if len(sessions) == 0 {
			d.logger.Debug("no active sessions for copy setup",
				"signal_reply_id", reply.ID,
				"copy_setup_id", cs.ID,
			)
			continue
		}

		queued := 0
		for _, sess := range sessions {
			if _, err := d.store.AddPendingReplies(ctx, sess.ClientInstanceID, payload); err != nil {
				d.logger.Error("failed to enqueue reply for session",
					"signal_reply_id", reply.ID,
					"copy_setup_id", cs.ID,
					"client_instance_id", sess.ClientInstanceID,
					"error", err,
				)
				continue
			}
			queued++
		}

		metrics.AddRepliesDistributed(queued)
		d.logger.Info("distributed signal reply",
			"signal_reply_id", reply.ID,
			"copy_setup_id", cs.ID,
			"sessions", queued,
		)
	}
	return nil
}

// generateTrades persists the expanded candidates one at a time so a bad
// row cannot sink its siblings. Returned trades carry their assigned ids.
func (d *Distributor) generateTrades(ctx context.Context, cs types.CopySetup, sig types.Signal, postTime time.Time) []types.Trade {
	candidates, err := expandTrades(cs, sig, postTime)
	if err != nil {
		d.logger.Info("skipped signal for copy setup, prices rejected by config",
			"signal_id", sig.ID,
			"copy_setup_id", cs.ID,
			"error", err,
		)
		return nil
	}
	if len(candidates) == 0 {
		d.logger.Debug("no trades generated for copy setup",
			"signal_id", sig.ID,
			"copy_setup_id", cs.ID,
		)
		return nil
	}

	trades := make([]types.Trade, 0, len(candidates))
	for i := range candidates {
		if err := d.repo.InsertTrade(ctx, d.repo.Pool(), &candidates[i]); err != nil {
			d.logger.Error("failed to persist trade candidate",
				"signal_id", sig.ID,
				"copy_setup_id", cs.ID,
				"error", err,
			)
			continue
		}
		trades = append(trades, candidates[i])
	}
	return trades
}

// expandTrades re-filters the signal's price layers under the setup config
// and expands the surviving grid into trade rows, entry index ascending
// then tp index ascending. Pure; persistence happens in generateTrades.
func expandTrades(cs types.CopySetup, sig types.Signal, postTime time.Time) ([]types.Trade, error) {
	cfg := cs.Config
	if cfg == nil {
		return nil, errors.New("copy setup has no config")
	}

	entries, tps, err := extract.FilterPrices(sig.Side, sig.SL, sig.Entries, sig.TPs, extract.FilterOptions{
		MaxEntries:    cfg.MaxEntryPrices,
		MaxTPs:        cfg.MaxTPPrices,
		IgnoreInvalid: cfg.IgnoreInvalidPrices,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 || len(tps) == 0 {
		return nil, nil
	}

	trades := make([]types.Trade, 0, len(entries)*len(tps))
	for ei := range entries {
		for ti := range tps {
			entry, tp, sl := entries[ei], tps[ti], sig.SL
			eIdx, tIdx := ei, ti
			post := postTime
			trades = append(trades, types.Trade{
				SignalID:           sig.ID,
				CopySetupID:        cs.ID,
				Symbol:             sig.Symbol,
				Side:               sig.Side,
				State:              types.TradePendingQueue,
				EntryPrice:         &entry,
				SLPrice:            &sl,
				TPPrice:            &tp,
				SignalPostDatetime: &post,
				SignalEntriesIdx:   &eIdx,
				SignalTPsIdx:       &tIdx,
			})
		}
	}
	return trades, nil
}
