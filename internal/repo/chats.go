package repo

import (
	"context"
	"fmt"

	"signal-relay/pkg/types"
)

// UpsertChatRoom creates or refreshes a room keyed by its external chat id
// and fills in the row id. Title, handle, and kind follow the latest event
// so renamed rooms stay current.
func (r *Repository) UpsertChatRoom(ctx context.Context, db Querier, room *types.ChatRoom) error {
	const q = `
INSERT INTO chat_rooms (external_id, kind, title, handle)
VALUES ($1, $2, $3, $4)
ON CONFLICT (external_id) DO UPDATE
SET kind = EXCLUDED.kind,
    title = EXCLUDED.title,
    handle = EXCLUDED.handle,
    updated_at = (now() AT TIME ZONE 'utc')
RETURNING id`

	err := db.QueryRow(ctx, q, room.ExternalID, room.Kind, room.Title, room.Handle).Scan(&room.ID)
	if err != nil {
		return fmt.Errorf("upsert chat room: %w", err)
	}
	return nil
}

// GetChatRoomByExternalID fetches a room by its external chat id.
func (r *Repository) GetChatRoomByExternalID(ctx context.Context, db Querier, externalID int64) (*types.ChatRoom, error) {
	const q = `SELECT id, external_id, kind, title, handle FROM chat_rooms WHERE external_id = $1`

	var room types.ChatRoom
	err := db.QueryRow(ctx, q, externalID).Scan(&room.ID, &room.ExternalID, &room.Kind, &room.Title, &room.Handle)
	if err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

func (r *Repository) getChatRoom(ctx context.Context, db Querier, id int64) (*types.ChatRoom, error) {
	const q = `SELECT id, external_id, kind, title, handle FROM chat_rooms WHERE id = $1`

	var room types.ChatRoom
	err := db.QueryRow(ctx, q, id).Scan(&room.ID, &room.ExternalID, &room.Kind, &room.Title, &room.Handle)
	if err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

// setupWithConfigColumns is the shared select list for copy setups joined
// to their config. Keep in sync with scanSetupWithConfig.
const setupWithConfigColumns = `
cs.id, cs.token, cs.active, cs.config_id,
c.id, c.name, c.allowed_symbols, c.symbol_synonyms, c.lot_mode, c.fixed_lot,
c.max_price_range_perc, c.max_risk_perc_from_equity_per_signal,
c.max_entry_prices, c.max_tp_prices, c.multiple_tp_mode, c.multiple_entry_mode,
c.ignore_invalid_prices, c.close_on_signal_reply, c.modify_on_signal_reply,
c.close_on_msg_delete, c.breakeven_on_tp_layer,
c.close_trades_before_everyday_swap, c.close_trades_before_wednesday_swap,
c.close_trades_before_weekend, c.trailingstop_on_tps,
c.tradeprofit_percent_from_balans_for_breakeven,
c.expire_minutes_pending_trade, c.expire_minutes_active_trade,
c.expire_at_tp_hit_before_entry, c.follow_tp_and_sl_hits_from_others`

func scanSetupWithConfig(row rowScanner) (types.CopySetup, error) {
	var (
		setup types.CopySetup
		cfg   types.CopySetupConfig
	)
	err := row.Scan(
		&setup.ID, &setup.Token, &setup.Active, &setup.ConfigID,
		&cfg.ID, &cfg.Name, &cfg.AllowedSymbols, &cfg.SymbolSynonyms, &cfg.LotMode, &cfg.FixedLot,
		&cfg.MaxPriceRangePerc, &cfg.MaxRiskPercFromEquityPerSignal,
		&cfg.MaxEntryPrices, &cfg.MaxTPPrices, &cfg.MultipleTPMode, &cfg.MultipleEntryMode,
		&cfg.IgnoreInvalidPrices, &cfg.CloseOnSignalReply, &cfg.ModifyOnSignalReply,
		&cfg.CloseOnMsgDelete, &cfg.BreakevenOnTPLayer,
		&cfg.CloseTradesBeforeEverydaySwap, &cfg.CloseTradesBeforeWednesdaySwap,
		&cfg.CloseTradesBeforeWeekend, &cfg.TrailingstopOnTPs,
		&cfg.TradeprofitPercentFromBalansForBreakeven,
		&cfg.ExpireMinutesPendingTrade, &cfg.ExpireMinutesActiveTrade,
		&cfg.ExpireAtTPHitBeforeEntry, &cfg.FollowTPAndSLHitsFromOthers,
	)
	if err != nil {
		return types.CopySetup{}, err
	}
	setup.Config = &cfg
	return setup, nil
}

// GetActiveCopySetupsByChat returns every active copy setup linked to a
// room, configs populated, ordered by id.
func (r *Repository) GetActiveCopySetupsByChat(ctx context.Context, db Querier, chatRoomID int64) ([]types.CopySetup, error) {
	q := `
SELECT ` + setupWithConfigColumns + `
FROM copy_setups cs
JOIN copy_setup_chat_links l ON l.copy_setup_id = cs.id
JOIN copy_setup_configs c ON c.id = cs.config_id
WHERE l.chat_room_id = $1 AND cs.active
ORDER BY cs.id`

	rows, err := db.Query(ctx, q, chatRoomID)
	if err != nil {
		return nil, fmt.Errorf("query copy setups for chat %d: %w", chatRoomID, err)
	}
	defer rows.Close()

	var setups []types.CopySetup
	for rows.Next() {
		setup, err := scanSetupWithConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan copy setup: %w", err)
		}
		setups = append(setups, setup)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate copy setups: %w", err)
	}
	return setups, nil
}

// GetCopySetupByToken resolves the opaque token clients present on init.
// The config is always populated.
func (r *Repository) GetCopySetupByToken(ctx context.Context, db Querier, token string) (*types.CopySetup, error) {
	q := `
SELECT ` + setupWithConfigColumns + `
FROM copy_setups cs
JOIN copy_setup_configs c ON c.id = cs.config_id
WHERE cs.token = $1`

	setup, err := scanSetupWithConfig(db.QueryRow(ctx, q, token))
	if err != nil {
		return nil, notFound(err)
	}
	return &setup, nil
}
