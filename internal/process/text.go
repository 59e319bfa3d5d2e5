package process

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"signal-relay/internal/extract"
	"signal-relay/pkg/types"
)

// Text bounds applied after trimming. Shorter strings cannot carry an
// instruction; longer ones never are one.
const (
	minTextLen = 4
	maxTextLen = 2000
)

// FilterText normalizes raw message text for processing: trims whitespace,
// enforces the length bounds, folds non-ASCII runes to '?', and drops
// carriage returns. ok is false when the text is unusable.
func FilterText(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if n := utf8.RuneCountInString(text); n < minTextLen || n > maxTextLen {
		return "", false
	}
	return cleanText(text), true
}

// cleanText folds text to ASCII: non-ASCII runes become '?', carriage
// returns disappear, edges get a final trim.
func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\r':
		case r > unicode.MaxASCII:
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// roomFromEvent builds the room row for the first-sighting upsert. Titles
// and handles go through the same ASCII fold as message text.
func roomFromEvent(evt types.MessageEvent) types.ChatRoom {
	kind := evt.ChatKind
	if kind == "" {
		kind = types.ChatUnknown
	}
	return types.ChatRoom{
		ExternalID: evt.ChatExternalID,
		Kind:       kind,
		Title:      cleanText(evt.ChatTitle),
		Handle:     cleanText(evt.ChatHandle),
	}
}

// messageRow builds the storable message for an event, post time forced
// to UTC.
func messageRow(evt types.MessageEvent, chatRoomID int64, text string) *types.Message {
	return &types.Message{
		ChatRoomID:        chatRoomID,
		ExternalMessageID: evt.MessageExternalID,
		Text:              text,
		PostTime:          evt.PostTime.UTC(),
		ReplyToExternalID: evt.ReplyToExternalID,
	}
}

// signalRow converts an extraction result to its storable form.
func signalRow(parsed *extract.ParsedSignal) *types.Signal {
	return &types.Signal{
		Symbol:  parsed.Symbol,
		Side:    parsed.Side,
		Entries: parsed.Entries,
		TPs:     parsed.TPs,
		SL:      parsed.SL,
	}
}

// replyRow converts a parsed reply action to its storable form, bound to
// the signal it targets.
func replyRow(parsed *extract.ParsedReply, signalID int64) *types.SignalReply {
	return &types.SignalReply{
		Action:      parsed.Action,
		GeneratedBy: parsed.Generated,
		SignalID:    signalID,
		InfoMessage: parsed.Info,
		NewSLPrice:  parsed.NewSLPrice,
	}
}
