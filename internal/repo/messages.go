package repo

import (
	"context"
	"fmt"

	"signal-relay/pkg/types"
)

const messageColumns = `id, chat_room_id, external_message_id, text, post_datetime,
reply_to_external_id, signal_id, signal_reply_id`

func scanMessage(row rowScanner) (*types.Message, error) {
	var msg types.Message
	err := row.Scan(
		&msg.ID, &msg.ChatRoomID, &msg.ExternalMessageID, &msg.Text, &msg.PostTime,
		&msg.ReplyToExternalID, &msg.SignalID, &msg.SignalReplyID,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessageByExternal fetches a message by its (room, external id) pair —
// the key chat events arrive under.
func (r *Repository) GetMessageByExternal(ctx context.Context, db Querier, chatRoomID, externalMessageID int64) (*types.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages
WHERE chat_room_id = $1 AND external_message_id = $2`

	msg, err := scanMessage(db.QueryRow(ctx, q, chatRoomID, externalMessageID))
	if err != nil {
		return nil, notFound(err)
	}
	return msg, nil
}

func (r *Repository) getMessageBySignal(ctx context.Context, db Querier, signalID int64) (*types.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE signal_id = $1 LIMIT 1`

	msg, err := scanMessage(db.QueryRow(ctx, q, signalID))
	if err != nil {
		return nil, notFound(err)
	}
	return msg, nil
}

// InsertMessage stores a newly observed message and fills in its row id.
// A redelivered event folds into the existing row instead of failing the
// unique key.
func (r *Repository) InsertMessage(ctx context.Context, db Querier, msg *types.Message) error {
	const q = `
INSERT INTO messages (chat_room_id, external_message_id, text, post_datetime, reply_to_external_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (chat_room_id, external_message_id) DO UPDATE
SET text = EXCLUDED.text,
    updated_at = (now() AT TIME ZONE 'utc')
RETURNING id`

	err := db.QueryRow(ctx, q,
		msg.ChatRoomID, msg.ExternalMessageID, msg.Text, msg.PostTime, msg.ReplyToExternalID,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// UpdateMessageText applies an edit to an existing message. The original
// post_datetime is kept; only the text moves.
func (r *Repository) UpdateMessageText(ctx context.Context, db Querier, id int64, text string) error {
	const q = `UPDATE messages SET text = $2, updated_at = (now() AT TIME ZONE 'utc') WHERE id = $1`

	tag, err := db.Exec(ctx, q, id, text)
	if err != nil {
		return fmt.Errorf("update message text: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkMessageSignal records that extraction produced a signal for the
// message.
func (r *Repository) LinkMessageSignal(ctx context.Context, db Querier, messageID, signalID int64) error {
	const q = `UPDATE messages SET signal_id = $2, updated_at = (now() AT TIME ZONE 'utc') WHERE id = $1`

	tag, err := db.Exec(ctx, q, messageID, signalID)
	if err != nil {
		return fmt.Errorf("link message to signal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkMessageReply records that the message carried a reply action.
func (r *Repository) LinkMessageReply(ctx context.Context, db Querier, messageID, signalReplyID int64) error {
	const q = `UPDATE messages SET signal_reply_id = $2, updated_at = (now() AT TIME ZONE 'utc') WHERE id = $1`

	tag, err := db.Exec(ctx, q, messageID, signalReplyID)
	if err != nil {
		return fmt.Errorf("link message to reply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
