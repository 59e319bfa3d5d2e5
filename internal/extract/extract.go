// Package extract turns free-form chat text into structured trade signals
// and reply actions.
//
// The pipeline runs in two stages:
//  1. Manual parse: a deterministic token scanner with a rolling price
//     context (entry/tp/sl) and keyword tables for direction and symbols.
//  2. Model-assisted fallback: when the manual draft is "signal-ish" (fails
//     validation with fewer errors than the configured threshold), the text
//     is handed to the AI extractor and the result re-validated.
//
// A draft that survives validation is normalized (canonical symbol, sorted
// price layers) and filtered against its stop loss before emission. The
// pipeline never panics and never returns an error to the caller: failures
// are logged and collapse to the NoMatch outcome.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"signal-relay/pkg/types"
)

// DefaultMaxErrorsForAI is the fallback threshold: the AI stage runs only
// when the manual draft fails validation with fewer errors than this.
const DefaultMaxErrorsForAI = 3

// SignalDraft is the raw, unvalidated product of one parse attempt. Both
// the manual parser and the AI extractor emit this shape; the list fields
// are collapsed to singletons by validation.
type SignalDraft struct {
	Symbols []string
	Sides   []string
	Entries []float64
	TPs     []float64
	SLs     []float64
	Info    string
}

// ParsedSignal is a validated, sorted, stop-loss-filtered signal ready for
// persistence. Entries and TPs are in layer order (index 0 closest to the
// market) and may be empty when filtering dropped every candidate.
type ParsedSignal struct {
	Symbol  string
	Side    types.Side
	Entries []float64
	TPs     []float64
	SL      float64
	Info    string
}

// ParsedReply is a reply action recognized in a message that quotes a
// signal. NewSLPrice is set only for MODIFY_SL. Generated records which
// stage classified the action (keyword matcher vs model); the lifecycle
// processor may override it for edit-driven replies.
type ParsedReply struct {
	Action     types.ReplyAction
	NewSLPrice *float64
	Info       string
	Generated  types.GeneratedBy
}

// Result is the tagged outcome of one extraction run. At most one branch is
// populated; both nil means the text matched nothing actionable.
type Result struct {
	Signal *ParsedSignal
	Reply  *ParsedReply
}

// NoMatch reports whether the run produced neither a signal nor a reply.
func (r Result) NoMatch() bool { return r.Signal == nil && r.Reply == nil }

// AIExtractor is the model-assisted stage. Implementations live in
// internal/ai; the pipeline only needs these two calls.
type AIExtractor interface {
	// ExtractSignal parses text into a raw draft.
	ExtractSignal(ctx context.Context, text string) (SignalDraft, error)
	// ExtractReplyAction classifies a reply against its original signal.
	// A NONE classification returns ok=false.
	ExtractReplyAction(ctx context.Context, text string, original *types.Signal) (ParsedReply, bool, error)
}

// Extractor runs the two-stage extraction pipeline.
type Extractor struct {
	ai        AIExtractor // nil disables the fallback stage
	maxErrors int
	logger    *slog.Logger
}

// New creates an Extractor. maxErrors <= 0 selects DefaultMaxErrorsForAI.
func New(ai AIExtractor, maxErrors int, logger *slog.Logger) *Extractor {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrorsForAI
	}
	return &Extractor{
		ai:        ai,
		maxErrors: maxErrors,
		logger:    logger.With("component", "extract"),
	}
}

// Signal extracts a trade signal from message text.
//
// Flow: manual parse → normalize → validate. On validation failure the AI
// fallback runs only when the error count is below the threshold; its draft
// goes through the same normalize + validate pass. The surviving draft is
// collapsed to singletons, price-sorted, and filtered against the stop loss
// (invalid prices dropped silently at this stage; per-setup caps apply later
// at distribution).
func (e *Extractor) Signal(ctx context.Context, text string, symbols *SymbolMap) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}
	}

	// Stage 1: manual parse against the flattened synonym set.
	draft := ParseSignalText(text, symbols)
	draft = normalizeDraft(draft, symbols, e.logger)
	info := draft.Info

	if errs := validateDraft(draft); len(errs) > 0 {
		if len(errs) >= e.maxErrors || e.ai == nil {
			e.logger.Debug("manual draft rejected",
				"errors", errs.Error(),
				"error_count", len(errs),
			)
			return Result{}
		}

		// Stage 2: close enough to a signal to justify a model call.
		e.logger.Debug("manual draft incomplete, trying AI fallback",
			"errors", errs.Error(),
			"error_count", len(errs),
		)
		aiDraft, err := e.ai.ExtractSignal(ctx, text)
		if err != nil {
			e.logger.Warn("ai signal extraction failed",
				"error", err,
				"error_type", errType(err),
			)
			return Result{}
		}
		aiDraft = normalizeDraft(aiDraft, symbols, e.logger)
		if errs := validateDraft(aiDraft); len(errs) > 0 {
			e.logger.Debug("ai draft rejected",
				"errors", errs.Error(),
				"error_count", len(errs),
			)
			return Result{}
		}
		draft = aiDraft
		info = draft.Info
	}

	// Validation guarantees singleton symbol/side/sl and non-empty lists.
	side := types.Side(draft.Sides[0])
	entries, tps, sls := sortPrices(side, draft.Entries, draft.TPs, draft.SLs)
	sl := sls[0]

	entries, tps, err := FilterPrices(side, sl, entries, tps, FilterOptions{IgnoreInvalid: true})
	if err != nil {
		e.logger.Warn("price filtering failed",
			"error", err,
			"error_type", errType(err),
		)
		return Result{}
	}

	return Result{Signal: &ParsedSignal{
		Symbol:  draft.Symbols[0],
		Side:    side,
		Entries: entries,
		TPs:     tps,
		SL:      sl,
		Info:    info,
	}}
}

// ReplyAction extracts an operational action from a message replying to an
// earlier signal. The keyword matcher runs first; when it finds nothing the
// AI stage classifies the text (and may carry a new stop loss for
// MODIFY_SL). No match collapses to the NoMatch outcome.
func (e *Extractor) ReplyAction(ctx context.Context, text string, original *types.Signal) Result {
	if action, ok := MatchReplyAction(text); ok {
		return Result{Reply: &ParsedReply{
			Action:    action,
			Info:      "Reply message",
			Generated: types.GeneratedByReply,
		}}
	}

	if e.ai == nil {
		return Result{}
	}

	reply, ok, err := e.ai.ExtractReplyAction(ctx, text, original)
	if err != nil {
		e.logger.Warn("ai reply extraction failed",
			"error", err,
			"error_type", errType(err),
		)
		return Result{}
	}
	if !ok {
		return Result{}
	}
	return Result{Reply: &reply}
}

// errType names an error's dynamic type for structured logs.
func errType(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
