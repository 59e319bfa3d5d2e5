package repo

import (
	"context"
	"fmt"

	"signal-relay/pkg/types"
)

// InsertTrade stores one expanded trade candidate and fills in its row id.
// Fan-out inserts candidates one at a time so a bad row cannot sink its
// siblings.
func (r *Repository) InsertTrade(ctx context.Context, db Querier, t *types.Trade) error {
	const q = `
INSERT INTO trades (signal_id, copy_setup_id, symbol, side, state,
                    entry_price, sl_price, tp_price,
                    signal_post_datetime, signal_tps_idx, signal_entries_idx)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`

	err := db.QueryRow(ctx, q,
		t.SignalID, t.CopySetupID, t.Symbol, t.Side, t.State,
		t.EntryPrice, t.SLPrice, t.TPPrice,
		t.SignalPostDatetime, t.SignalTPsIdx, t.SignalEntriesIdx,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// ApplyTradeUpdate persists client-reported execution state onto a trade
// row. The copy-setup id scopes the write so a client can only touch rows
// of its own setup; anything else reports ErrNotFound.
func (r *Repository) ApplyTradeUpdate(ctx context.Context, db Querier, copySetupID int64, t types.Trade) error {
	const q = `
UPDATE trades
SET ticket = $3, state = $4,
    open_price = $5, modified_sl = $6, close_price = $7,
    open_datetime = $8, close_datetime = $9,
    close_reason = $10, expire_reason = $11,
    volume = $12, pnl = $13, swap = $14, commission = $15, fee = $16,
    updated_at = (now() AT TIME ZONE 'utc')
WHERE id = $1 AND copy_setup_id = $2`

	tag, err := db.Exec(ctx, q,
		t.ID, copySetupID, t.Ticket, t.State,
		t.OpenPrice, t.ModifiedSL, t.ClosePrice,
		t.OpenDatetime, t.CloseDatetime,
		t.CloseReason, t.ExpireReason,
		t.Volume, t.PnL, t.Swap, t.Commission, t.Fee,
	)
	if err != nil {
		return fmt.Errorf("apply trade update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
