package repo

import (
	"context"
	"fmt"

	"signal-relay/pkg/types"
)

// InsertSignal stores a parsed signal and fills in its row id.
func (r *Repository) InsertSignal(ctx context.Context, db Querier, sig *types.Signal) error {
	const q = `
INSERT INTO signals (symbol, side, entry_prices, tp_prices, sl_price)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

	err := db.QueryRow(ctx, q, sig.Symbol, sig.Side, sig.Entries, sig.TPs, sig.SL).Scan(&sig.ID)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// UpdateSignal rewrites an existing signal in place, preserving its id so
// attached trades and replies stay linked across message edits.
func (r *Repository) UpdateSignal(ctx context.Context, db Querier, sig *types.Signal) error {
	const q = `
UPDATE signals
SET symbol = $2, side = $3, entry_prices = $4, tp_prices = $5, sl_price = $6,
    updated_at = (now() AT TIME ZONE 'utc')
WHERE id = $1`

	tag, err := db.Exec(ctx, q, sig.ID, sig.Symbol, sig.Side, sig.Entries, sig.TPs, sig.SL)
	if err != nil {
		return fmt.Errorf("update signal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSignal fetches a signal by id.
func (r *Repository) GetSignal(ctx context.Context, db Querier, id int64) (*types.Signal, error) {
	const q = `SELECT id, symbol, side, entry_prices, tp_prices, sl_price FROM signals WHERE id = $1`

	var sig types.Signal
	err := db.QueryRow(ctx, q, id).Scan(&sig.ID, &sig.Symbol, &sig.Side, &sig.Entries, &sig.TPs, &sig.SL)
	if err != nil {
		return nil, notFound(err)
	}
	return &sig, nil
}

// InsertSignalReply stores a reply action and fills in its row id.
func (r *Repository) InsertSignalReply(ctx context.Context, db Querier, reply *types.SignalReply) error {
	const q = `
INSERT INTO signal_replies (action, generated_by, info_message, new_sl_price, original_signal_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

	err := db.QueryRow(ctx, q,
		reply.Action, reply.GeneratedBy, reply.InfoMessage, reply.NewSLPrice, reply.SignalID,
	).Scan(&reply.ID)
	if err != nil {
		return fmt.Errorf("insert signal reply: %w", err)
	}
	return nil
}

// SignalContext bundles everything fan-out needs for one signal: the
// signal itself, the message that carried it, the room it appeared in,
// and the room's active copy setups with configs.
type SignalContext struct {
	Signal   types.Signal
	Message  types.Message
	ChatRoom types.ChatRoom
	Setups   []types.CopySetup
}

// GetSignalContext eager-loads the fan-out context for a signal.
func (r *Repository) GetSignalContext(ctx context.Context, db Querier, signalID int64) (*SignalContext, error) {
	sig, err := r.GetSignal(ctx, db, signalID)
	if err != nil {
		return nil, fmt.Errorf("load signal %d: %w", signalID, err)
	}

	msg, err := r.getMessageBySignal(ctx, db, signalID)
	if err != nil {
		return nil, fmt.Errorf("load message for signal %d: %w", signalID, err)
	}

	room, err := r.getChatRoom(ctx, db, msg.ChatRoomID)
	if err != nil {
		return nil, fmt.Errorf("load chat room %d: %w", msg.ChatRoomID, err)
	}

	setups, err := r.GetActiveCopySetupsByChat(ctx, db, room.ID)
	if err != nil {
		return nil, err
	}

	return &SignalContext{
		Signal:   *sig,
		Message:  *msg,
		ChatRoom: *room,
		Setups:   setups,
	}, nil
}
