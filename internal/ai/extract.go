package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"signal-relay/internal/extract"
	"signal-relay/pkg/types"
)

// maxPromptTextLen bounds the user text sent to the model. Longer inputs
// keep the head and tail, which is where signal content usually sits.
const maxPromptTextLen = 4000

// defaultInfo is used when the model returns a null info_message.
const defaultInfo = "Extracted by AI"

// Reply action codes from the model contract.
const (
	replyActionClose     = 0
	replyActionBreakeven = 1
	replyActionModifySL  = 2
	replyActionNone      = -1
)

// signalPayload is the JSON object the signal prompt instructs the model
// to return.
type signalPayload struct {
	Symbols     []string  `json:"symbols"`
	Types       []string  `json:"types"`
	EntryPrices []float64 `json:"entry_prices"`
	SLPrices    []float64 `json:"sl_prices"`
	TPPrices    []float64 `json:"tp_prices"`
	InfoMessage *string   `json:"info_message"`
}

// replyPayload is the JSON object the reply prompt instructs the model
// to return.
type replyPayload struct {
	Action      *int     `json:"action"`
	NewSLPrice  *float64 `json:"new_sl_price"`
	InfoMessage *string  `json:"info_message"`
}

// ExtractSignal asks the model to pull a raw signal draft out of free
// text. The returned draft is neither normalized nor validated. The
// caller owns both steps.
func (c *Client) ExtractSignal(ctx context.Context, text string) (extract.SignalDraft, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return extract.SignalDraft{}, errors.New("empty text")
	}

	content, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: signalPrompt},
		{Role: "user", Content: "reply text: " + truncateText(text, maxPromptTextLen)},
	})
	if err != nil {
		return extract.SignalDraft{}, err
	}

	var payload signalPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return extract.SignalDraft{}, fmt.Errorf("decode signal payload: %w", err)
	}
	return draftFromPayload(payload), nil
}

// ExtractReplyAction classifies a reply against the signal it answers.
// ok is false when the model decides the reply carries no action, or
// when it asks for an SL move without providing the new price.
func (c *Client) ExtractReplyAction(ctx context.Context, text string, original *types.Signal) (extract.ParsedReply, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" || original == nil {
		return extract.ParsedReply{}, false, nil
	}

	sig, err := json.Marshal(map[string]any{
		"symbol":       original.Symbol,
		"type":         original.Side,
		"entry_prices": original.Entries,
		"tp_prices":    original.TPs,
		"sl_price":     original.SL,
	})
	if err != nil {
		return extract.ParsedReply{}, false, fmt.Errorf("encode original signal: %w", err)
	}

	content, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: replyPrompt},
		{Role: "system", Content: "original signal: " + string(sig)},
		{Role: "user", Content: "reply text: " + truncateText(text, maxPromptTextLen)},
	})
	if err != nil {
		return extract.ParsedReply{}, false, err
	}

	var payload replyPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return extract.ParsedReply{}, false, fmt.Errorf("decode reply payload: %w", err)
	}

	reply, ok := c.replyFromPayload(payload)
	return reply, ok, nil
}

// draftFromPayload converts the model's signal object to a draft.
func draftFromPayload(p signalPayload) extract.SignalDraft {
	return extract.SignalDraft{
		Symbols: p.Symbols,
		Sides:   p.Types,
		Entries: p.EntryPrices,
		TPs:     p.TPPrices,
		SLs:     p.SLPrices,
		Info:    infoOrDefault(p.InfoMessage),
	}
}

// replyFromPayload maps the model's action code to a parsed reply.
func (c *Client) replyFromPayload(p replyPayload) (extract.ParsedReply, bool) {
	info := infoOrDefault(p.InfoMessage)
	if p.Action == nil {
		return extract.ParsedReply{}, false
	}

	switch *p.Action {
	case replyActionClose:
		return extract.ParsedReply{Action: types.ActionClose, Info: info, Generated: types.GeneratedByAI}, true
	case replyActionBreakeven:
		return extract.ParsedReply{Action: types.ActionBreakeven, Info: info, Generated: types.GeneratedByAI}, true
	case replyActionModifySL:
		if p.NewSLPrice == nil || *p.NewSLPrice <= 0 {
			c.logger.Warn("model asked for sl move without a usable price", "info", info)
			return extract.ParsedReply{}, false
		}
		return extract.ParsedReply{
			Action:     types.ActionModifySL,
			NewSLPrice: p.NewSLPrice,
			Info:       info,
			Generated:  types.GeneratedByAI,
		}, true
	case replyActionNone:
		return extract.ParsedReply{}, false
	default:
		c.logger.Warn("model returned unknown reply action", "action", *p.Action)
		return extract.ParsedReply{}, false
	}
}

func infoOrDefault(msg *string) string {
	if msg != nil && strings.TrimSpace(*msg) != "" {
		return *msg
	}
	return defaultInfo
}

// truncateText clips text to max bytes keeping head and tail.
func truncateText(text string, max int) string {
	if len(text) <= max {
		return text
	}
	head := max / 2
	tail := max - head - 3
	return text[:head] + "..." + text[len(text)-tail:]
}
