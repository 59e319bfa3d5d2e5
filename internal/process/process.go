// Package process is the message lifecycle processor: one chat event in,
// at most one Signal or SignalReply out, plus the distribution hand-off.
//
// Reads and extraction run against the pool first; a model-assisted
// extraction can take seconds and must never pin an open transaction.
// Every write derived from the event then commits in one transaction,
// and distribution runs strictly after that commit. Distribution
// failures are logged, never rolled back.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"signal-relay/internal/extract"
	"signal-relay/internal/metrics"
	"signal-relay/internal/repo"
	"signal-relay/pkg/types"
)

// Repository is the slice of the relational store the lifecycle drives.
type Repository interface {
	UpsertChatRoom(ctx context.Context, db repo.Querier, room *types.ChatRoom) error
	GetChatRoomByExternalID(ctx context.Context, db repo.Querier, externalID int64) (*types.ChatRoom, error)
	GetActiveCopySetupsByChat(ctx context.Context, db repo.Querier, chatRoomID int64) ([]types.CopySetup, error)
	GetMessageByExternal(ctx context.Context, db repo.Querier, chatRoomID, externalMessageID int64) (*types.Message, error)
	InsertMessage(ctx context.Context, db repo.Querier, msg *types.Message) error
	UpdateMessageText(ctx context.Context, db repo.Querier, id int64, text string) error
	LinkMessageSignal(ctx context.Context, db repo.Querier, messageID, signalID int64) error
	LinkMessageReply(ctx context.Context, db repo.Querier, messageID, signalReplyID int64) error
	InsertSignal(ctx context.Context, db repo.Querier, sig *types.Signal) error
	UpdateSignal(ctx context.Context, db repo.Querier, sig *types.Signal) error
	GetSignal(ctx context.Context, db repo.Querier, id int64) (*types.Signal, error)
	InsertSignalReply(ctx context.Context, db repo.Querier, reply *types.SignalReply) error
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	Pool() repo.Querier
}

// Distributor fans committed signals and replies out to client sessions.
type Distributor interface {
	DistributeSignal(ctx context.Context, signalID int64) error
	DistributeReply(ctx context.Context, reply types.SignalReply) error
}

// Processor drives the per-message state machine.
type Processor struct {
	repo      Repository
	extractor *extract.Extractor
	dist      Distributor
	logger    *slog.Logger
}

// New wires a Processor over its store and pipeline stages.
func New(r Repository, ex *extract.Extractor, dist Distributor, logger *slog.Logger) *Processor {
	return &Processor{
		repo:      r,
		extractor: ex,
		dist:      dist,
		logger:    logger.With("component", "process"),
	}
}

// outcome is the distribution work one committed event produced.
type outcome struct {
	signalID int64              // created or rewritten signal to fan out
	reply    *types.SignalReply // recorded action to fan out
}

// HandleEvent runs one chat event end to end: state machine, commit, then
// distribution. It is the body of the feed's per-event tasks, so failures
// land in the log instead of a return value.
func (p *Processor) HandleEvent(ctx context.Context, evt types.MessageEvent) {
	metrics.IncChatEvent(string(evt.Kind))

	if evt.ChatExternalID == 0 {
		p.logger.Debug("event carries no chat id", "kind", evt.Kind, "message_id", evt.MessageExternalID)
		return
	}

	var (
		out outcome
		err error
	)
	switch evt.Kind {
	case types.EventNew, types.EventEdited:
		out, err = p.handleMessage(ctx, evt)
	case types.EventDeleted:
		out, err = p.handleDeleted(ctx, evt)
	default:
		p.logger.Warn("unknown event kind", "kind", evt.Kind, "chat_id", evt.ChatExternalID)
		return
	}
	if err != nil {
		p.logger.Error("event processing failed",
			"kind", evt.Kind,
			"chat_id", evt.ChatExternalID,
			"message_id", evt.MessageExternalID,
			"error", err,
			"error_type", errType(err))
		return
	}

	p.dispatch(ctx, out)
}

// handleMessage serves new and edited events. Which path runs is decided
// by the stored state of the message, not the event kind, so redelivered
// events fold idempotently.
func (p *Processor) handleMessage(ctx context.Context, evt types.MessageEvent) (outcome, error) {
	text, ok := FilterText(evt.Text)
	if !ok {
		p.logger.Debug("message text filtered out",
			"chat_id", evt.ChatExternalID, "message_id", evt.MessageExternalID)
		return outcome{}, nil
	}

	room := roomFromEvent(evt)
	if err := p.repo.UpsertChatRoom(ctx, p.repo.Pool(), &room); err != nil {
		return outcome{}, fmt.Errorf("upsert chat room: %w", err)
	}

	setups, err := p.repo.GetActiveCopySetupsByChat(ctx, p.repo.Pool(), room.ID)
	if err != nil {
		return outcome{}, fmt.Errorf("load copy setups: %w", err)
	}
	if len(setups) == 0 {
		p.logger.Debug("chat has no active copy setups", "chat_id", evt.ChatExternalID)
		return outcome{}, nil
	}

	existing, err := p.repo.GetMessageByExternal(ctx, p.repo.Pool(), room.ID, evt.MessageExternalID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return outcome{}, fmt.Errorf("load message: %w", err)
	}

	switch {
	case existing != nil && existing.SignalReplyID != nil:
		// Terminal state: the message already resolved to an action.
		p.logger.Debug("message already carries a reply action",
			"chat_id", evt.ChatExternalID,
			"message_id", evt.MessageExternalID,
			"signal_reply_id", *existing.SignalReplyID)
		return outcome{}, nil
	case existing != nil && existing.SignalID != nil:
		return p.reprocessLinked(ctx, evt, setups, existing, text)
	default:
		return p.processFresh(ctx, evt, room, setups, text)
	}
}

// processFresh runs the new-message path. It also serves edits of
// messages that never produced anything: the stored row folds into the
// upsert and the text gets a fresh extraction run.
func (p *Processor) processFresh(ctx context.Context, evt types.MessageEvent, room types.ChatRoom, setups []types.CopySetup, text string) (outcome, error) {
	// Reply path requires the quoted message to exist and carry a signal.
	if evt.ReplyToExternalID != nil {
		parent, err := p.repo.GetMessageByExternal(ctx, p.repo.Pool(), room.ID, *evt.ReplyToExternalID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return outcome{}, fmt.Errorf("load quoted message: %w", err)
		}
		if parent != nil && parent.SignalID != nil {
			return p.processReply(ctx, evt, room, *parent.SignalID, text)
		}
		p.logger.Debug("quoted message has no signal, trying signal extraction",
			"chat_id", evt.ChatExternalID, "message_id", evt.MessageExternalID)
	}
	return p.processSignal(ctx, evt, room, setups, text)
}

// processSignal extracts a trade signal and persists message, signal, and
// link in one transaction. A message whose text yields nothing is still
// stored so later edits and replies can find it.
func (p *Processor) processSignal(ctx context.Context, evt types.MessageEvent, room types.ChatRoom, setups []types.CopySetup, text string) (outcome, error) {
	res := p.extractor.Signal(ctx, text, extract.BuildSymbolMap(setups))

	msg := messageRow(evt, room.ID, text)
	var out outcome
	err := p.repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := p.repo.InsertMessage(ctx, tx, msg); err != nil {
			return err
		}
		if res.Signal == nil {
			return nil
		}
		sig := signalRow(res.Signal)
		if err := p.repo.InsertSignal(ctx, tx, sig); err != nil {
			return err
		}
		if err := p.repo.LinkMessageSignal(ctx, tx, msg.ID, sig.ID); err != nil {
			return err
		}
		out.signalID = sig.ID
		return nil
	})
	if err != nil {
		return outcome{}, err
	}

	if res.Signal == nil {
		metrics.IncExtraction("signal", "none")
		p.logger.Info("no signal found in message",
			"chat_id", evt.ChatExternalID, "message_id", evt.MessageExternalID)
		return outcome{}, nil
	}
	metrics.IncExtraction("signal", "ok")
	p.logger.Info("signal created from message",
		"chat_id", evt.ChatExternalID,
		"message_id", evt.MessageExternalID,
		"signal_id", out.signalID,
		"symbol", res.Signal.Symbol,
		"side", res.Signal.Side)
	return out, nil
}

// processReply classifies the reply text against the quoted signal and
// persists message, reply, and link in one transaction. Chatter under a
// signal that carries no action still persists the message.
func (p *Processor) processReply(ctx context.Context, evt types.MessageEvent, room types.ChatRoom, signalID int64, text string) (outcome, error) {
	original, err := p.repo.GetSignal(ctx, p.repo.Pool(), signalID)
	if err != nil {
		return outcome{}, fmt.Errorf("load quoted signal: %w", err)
	}

	res := p.extractor.ReplyAction(ctx, text, original)

	msg := messageRow(evt, room.ID, text)
	var out outcome
	err = p.repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := p.repo.InsertMessage(ctx, tx, msg); err != nil {
			return err
		}
		if res.Reply == nil {
			return nil
		}
		reply := replyRow(res.Reply, original.ID)
		if err := p.repo.InsertSignalReply(ctx, tx, reply); err != nil {
			return err
		}
		if err := p.repo.LinkMessageReply(ctx, tx, msg.ID, reply.ID); err != nil {
			return err
		}
		out.reply = reply
		return nil
	})
	if err != nil {
		return outcome{}, err
	}

	if res.Reply == nil {
		metrics.IncExtraction("reply", "none")
		p.logger.Info("reply carries no action",
			"chat_id", evt.ChatExternalID,
			"message_id", evt.MessageExternalID,
			"signal_id", original.ID)
		return outcome{}, nil
	}
	metrics.IncExtraction("reply", "ok")
	p.logger.Info("signal reply recorded",
		"chat_id", evt.ChatExternalID,
		"message_id", evt.MessageExternalID,
		"signal_id", original.ID,
		"signal_reply_id", out.reply.ID,
		"action", out.reply.Action)
	return out, nil
}

// reprocessLinked handles events for a message that already produced a
// signal. Re-extraction feeds the existing signal row so attached trades
// and replies keep their identity; when the new text reads as an action
// on the signal instead, it becomes an UPDATE-generated reply.
func (p *Processor) reprocessLinked(ctx context.Context, evt types.MessageEvent, setups []types.CopySetup, existing *types.Message, text string) (outcome, error) {
	res := p.extractor.Signal(ctx, text, extract.BuildSymbolMap(setups))

	if res.Signal != nil {
		sig := signalRow(res.Signal)
		sig.ID = *existing.SignalID
		var out outcome
		err := p.repo.WithTx(ctx, func(tx pgx.Tx) error {
			if err := p.repo.UpdateMessageText(ctx, tx, existing.ID, text); err != nil {
				return err
			}
			if err := p.repo.UpdateSignal(ctx, tx, sig); err != nil {
				return err
			}
			out.signalID = sig.ID
			return nil
		})
		if err != nil {
			return outcome{}, err
		}
		metrics.IncExtraction("signal", "ok")
		p.logger.Info("signal updated from edited message",
			"chat_id", evt.ChatExternalID,
			"message_id", evt.MessageExternalID,
			"signal_id", sig.ID)
		return out, nil
	}

	// The edit may have turned the signal text into an instruction on its
	// own trade ("close this", "sl to entry").
	original, err := p.repo.GetSignal(ctx, p.repo.Pool(), *existing.SignalID)
	if err != nil {
		return outcome{}, fmt.Errorf("load linked signal: %w", err)
	}
	replyRes := p.extractor.ReplyAction(ctx, text, original)
	if replyRes.Reply == nil {
		if err := p.repo.UpdateMessageText(ctx, p.repo.Pool(), existing.ID, text); err != nil {
			return outcome{}, fmt.Errorf("apply edit: %w", err)
		}
		metrics.IncExtraction("signal", "none")
		p.logger.Debug("edited message no longer parses, keeping existing signal",
			"chat_id", evt.ChatExternalID,
			"message_id", evt.MessageExternalID,
			"signal_id", original.ID)
		return outcome{}, nil
	}

	reply := replyRow(replyRes.Reply, original.ID)
	reply.GeneratedBy = types.GeneratedByUpdate
	var out outcome
	err = p.repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := p.repo.UpdateMessageText(ctx, tx, existing.ID, text); err != nil {
			return err
		}
		if err := p.repo.InsertSignalReply(ctx, tx, reply); err != nil {
			return err
		}
		if err := p.repo.LinkMessageReply(ctx, tx, existing.ID, reply.ID); err != nil {
			return err
		}
		out.reply = reply
		return nil
	})
	if err != nil {
		return outcome{}, err
	}
	metrics.IncExtraction("reply", "ok")
	p.logger.Info("edit recorded as signal reply",
		"chat_id", evt.ChatExternalID,
		"message_id", evt.MessageExternalID,
		"signal_id", original.ID,
		"signal_reply_id", reply.ID,
		"action", reply.Action)
	return out, nil
}

// handleDeleted closes the signal of a deleted message by synthesizing a
// CLOSE reply. Deletions of anything else are acknowledged and dropped.
func (p *Processor) handleDeleted(ctx context.Context, evt types.MessageEvent) (outcome, error) {
	room, err := p.repo.GetChatRoomByExternalID(ctx, p.repo.Pool(), evt.ChatExternalID)
	if errors.Is(err, repo.ErrNotFound) {
		p.logger.Debug("delete event for unknown chat", "chat_id", evt.ChatExternalID)
		return outcome{}, nil
	}
	if err != nil {
		return outcome{}, fmt.Errorf("load chat room: %w", err)
	}

	msg, err := p.repo.GetMessageByExternal(ctx, p.repo.Pool(), room.ID, evt.MessageExternalID)
	if errors.Is(err, repo.ErrNotFound) {
		p.logger.Debug("delete event for unknown message",
			"chat_id", evt.ChatExternalID, "message_id", evt.MessageExternalID)
		return outcome{}, nil
	}
	if err != nil {
		return outcome{}, fmt.Errorf("load message: %w", err)
	}

	if msg.SignalID == nil {
		p.logger.Debug("deleted message had no signal",
			"chat_id", evt.ChatExternalID, "message_id", evt.MessageExternalID)
		return outcome{}, nil
	}
	if msg.SignalReplyID != nil {
		// Redelivered delete: the close reply already exists.
		p.logger.Debug("signal already closed",
			"chat_id", evt.ChatExternalID,
			"message_id", evt.MessageExternalID,
			"signal_id", *msg.SignalID)
		return outcome{}, nil
	}

	reply := &types.SignalReply{
		Action:      types.ActionClose,
		GeneratedBy: types.GeneratedByDelete,
		SignalID:    *msg.SignalID,
		InfoMessage: "Signal message was deleted",
	}
	var out outcome
	err = p.repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := p.repo.InsertSignalReply(ctx, tx, reply); err != nil {
			return err
		}
		if err := p.repo.LinkMessageReply(ctx, tx, msg.ID, reply.ID); err != nil {
			return err
		}
		out.reply = reply
		return nil
	})
	if err != nil {
		return outcome{}, err
	}

	p.logger.Info("signal closed after message deletion",
		"chat_id", evt.ChatExternalID,
		"message_id", evt.MessageExternalID,
		"signal_id", *msg.SignalID,
		"signal_reply_id", reply.ID)
	return out, nil
}

// dispatch hands committed work to the distribution engine. Failures are
// logged; persisted state is already final.
func (p *Processor) dispatch(ctx context.Context, out outcome) {
	if out.signalID != 0 {
		if err := p.dist.DistributeSignal(ctx, out.signalID); err != nil {
			p.logger.Error("signal distribution failed",
				"signal_id", out.signalID, "error", err, "error_type", errType(err))
		}
	}
	if out.reply != nil {
		if err := p.dist.DistributeReply(ctx, *out.reply); err != nil {
			p.logger.Error("reply distribution failed",
				"signal_reply_id", out.reply.ID, "error", err, "error_type", errType(err))
		}
	}
}

func errType(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
