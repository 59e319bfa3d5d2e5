package extract

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"signal-relay/pkg/types"
)

// fakeAI is a scripted stand-in for the model-assisted stage.
type fakeAI struct {
	signalCalls int
	replyCalls  int

	draft     SignalDraft
	signalErr error

	reply    ParsedReply
	replyOK  bool
	replyErr error
}

func (f *fakeAI) ExtractSignal(ctx context.Context, text string) (SignalDraft, error) {
	f.signalCalls++
	return f.draft, f.signalErr
}

func (f *fakeAI) ExtractReplyAction(ctx context.Context, text string, original *types.Signal) (ParsedReply, bool, error) {
	f.replyCalls++
	return f.reply, f.replyOK, f.replyErr
}

func newTestExtractor(ai AIExtractor) *Extractor {
	return New(ai, DefaultMaxErrorsForAI, testLogger())
}

func TestSignalBuyManual(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(nil)

	res := e.Signal(context.Background(), "BUY GOLD @ 1950 ENTRY 1945 TP 1960 TP 1970 SL 1940", NewSymbolMap())
	if res.Signal == nil {
		t.Fatal("expected a signal, got no match")
	}

	sig := res.Signal
	if sig.Symbol != "XAUUSD" {
		t.Errorf("symbol = %q, want XAUUSD", sig.Symbol)
	}
	if sig.Side != types.BUY {
		t.Errorf("side = %v, want BUY", sig.Side)
	}
	if !reflect.DeepEqual(sig.Entries, []float64{1950, 1945}) {
		t.Errorf("entries = %v, want [1950 1945]", sig.Entries)
	}
	if !reflect.DeepEqual(sig.TPs, []float64{1960, 1970}) {
		t.Errorf("tps = %v, want [1960 1970]", sig.TPs)
	}
	if sig.SL != 1940 {
		t.Errorf("sl = %v, want 1940", sig.SL)
	}
	if sig.Info != "Extracted manually" {
		t.Errorf("info = %q, want %q", sig.Info, "Extracted manually")
	}
}

func TestSignalSellWithSynonym(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(nil)

	res := e.Signal(context.Background(), "SELL GOLD @ 2400 TP 2380 SL 2420", NewSymbolMap())
	if res.Signal == nil {
		t.Fatal("expected a signal, got no match")
	}

	sig := res.Signal
	if sig.Symbol != "XAUUSD" {
		t.Errorf("symbol = %q, want XAUUSD", sig.Symbol)
	}
	if sig.Side != types.SELL {
		t.Errorf("side = %v, want SELL", sig.Side)
	}
	if !reflect.DeepEqual(sig.Entries, []float64{2400}) {
		t.Errorf("entries = %v, want [2400]", sig.Entries)
	}
	if !reflect.DeepEqual(sig.TPs, []float64{2380}) {
		t.Errorf("tps = %v, want [2380]", sig.TPs)
	}
	if sig.SL != 2420 {
		t.Errorf("sl = %v, want 2420", sig.SL)
	}
}

func TestSignalPlainChatSkipsAI(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{}
	e := newTestExtractor(ai)

	// Nothing signal-ish here: five validation errors, well past the
	// threshold, so the model must not be consulted.
	res := e.Signal(context.Background(), "see you all tomorrow folks", NewSymbolMap())

	if !res.NoMatch() {
		t.Error("expected no match")
	}
	if ai.signalCalls != 0 {
		t.Errorf("AI called %d times, want 0", ai.signalCalls)
	}
}

func TestSignalAIFallbackBelowThreshold(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{draft: SignalDraft{
		Symbols: []string{"GOLD"},
		Sides:   []string{"BUY"},
		Entries: []float64{1950},
		TPs:     []float64{1960},
		SLs:     []float64{1940},
		Info:    "Extracted by AI",
	}}
	e := newTestExtractor(ai)

	// Missing stop loss: one validation error, below the threshold of 3.
	res := e.Signal(context.Background(), "BUY GOLD @ 1950 TP 1960", NewSymbolMap())

	if ai.signalCalls != 1 {
		t.Fatalf("AI called %d times, want 1", ai.signalCalls)
	}
	if res.Signal == nil {
		t.Fatal("expected a signal from the AI draft")
	}
	if res.Signal.Symbol != "XAUUSD" {
		t.Errorf("symbol = %q, want XAUUSD (AI draft must be normalized)", res.Signal.Symbol)
	}
	if res.Signal.SL != 1940 {
		t.Errorf("sl = %v, want 1940", res.Signal.SL)
	}
	if res.Signal.Info != "Extracted by AI" {
		t.Errorf("info = %q, want %q", res.Signal.Info, "Extracted by AI")
	}
}

func TestSignalAINotCalledAtThreshold(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{}
	e := newTestExtractor(ai)

	// "GOLD 1950" leaves side, tp, and sl missing: exactly 3 errors, which
	// is not below the default threshold of 3.
	res := e.Signal(context.Background(), "GOLD 1950", NewSymbolMap())

	if !res.NoMatch() {
		t.Error("expected no match")
	}
	if ai.signalCalls != 0 {
		t.Errorf("AI called %d times, want 0", ai.signalCalls)
	}
}

func TestSignalAIDraftStillInvalid(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{draft: SignalDraft{
		Symbols: []string{"GOLD"},
		Sides:   []string{"BUY"},
		Entries: []float64{1950},
		TPs:     []float64{1960},
		// still no stop loss
	}}
	e := newTestExtractor(ai)

	res := e.Signal(context.Background(), "BUY GOLD @ 1950 TP 1960", NewSymbolMap())

	if ai.signalCalls != 1 {
		t.Fatalf("AI called %d times, want 1", ai.signalCalls)
	}
	if !res.NoMatch() {
		t.Error("expected no match when the AI draft fails validation")
	}
}

func TestSignalAIErrorIsSwallowed(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{signalErr: errors.New("model unavailable")}
	e := newTestExtractor(ai)

	res := e.Signal(context.Background(), "BUY GOLD @ 1950 TP 1960", NewSymbolMap())

	if !res.NoMatch() {
		t.Error("expected no match on AI failure")
	}
}

func TestSignalFilterDropsInconsistentLayers(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(nil)

	// 1930 sits below the 1940 stop loss and must not survive.
	res := e.Signal(context.Background(), "BUY GOLD @ 1950 @ 1930 SL 1940 TP 1960", NewSymbolMap())
	if res.Signal == nil {
		t.Fatal("expected a signal")
	}

	if !reflect.DeepEqual(res.Signal.Entries, []float64{1950}) {
		t.Errorf("entries = %v, want [1950]", res.Signal.Entries)
	}
}

func TestSignalEmptyText(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(nil)

	if res := e.Signal(context.Background(), "   \n ", NewSymbolMap()); !res.NoMatch() {
		t.Error("expected no match for blank text")
	}
}

func TestReplyActionManualMatch(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{}
	e := newTestExtractor(ai)

	res := e.ReplyAction(context.Background(), "close this position now", &types.Signal{ID: 7})

	if res.Reply == nil {
		t.Fatal("expected a reply action")
	}
	if res.Reply.Action != types.ActionClose {
		t.Errorf("action = %v, want CLOSE", res.Reply.Action)
	}
	if res.Reply.Info != "Reply message" {
		t.Errorf("info = %q, want %q", res.Reply.Info, "Reply message")
	}
	if res.Reply.Generated != types.GeneratedByReply {
		t.Errorf("generated = %v, want REPLY", res.Reply.Generated)
	}
	if ai.replyCalls != 0 {
		t.Errorf("AI called %d times for a keyword match, want 0", ai.replyCalls)
	}
}

func TestReplyActionAIFallback(t *testing.T) {
	t.Parallel()
	newSL := 1952.5
	ai := &fakeAI{
		reply:   ParsedReply{Action: types.ActionModifySL, NewSLPrice: &newSL, Info: "Extracted by AI"},
		replyOK: true,
	}
	e := newTestExtractor(ai)

	res := e.ReplyAction(context.Background(), "risk free now at 1952.5", &types.Signal{ID: 7})

	if ai.replyCalls != 1 {
		t.Fatalf("AI called %d times, want 1", ai.replyCalls)
	}
	if res.Reply == nil {
		t.Fatal("expected a reply action")
	}
	if res.Reply.Action != types.ActionModifySL {
		t.Errorf("action = %v, want MODIFY_SL", res.Reply.Action)
	}
	if res.Reply.NewSLPrice == nil || *res.Reply.NewSLPrice != newSL {
		t.Errorf("new sl = %v, want %v", res.Reply.NewSLPrice, newSL)
	}
}

func TestReplyActionAIClassifiesNone(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{replyOK: false}
	e := newTestExtractor(ai)

	if res := e.ReplyAction(context.Background(), "nice one", &types.Signal{ID: 7}); !res.NoMatch() {
		t.Error("expected no match")
	}
}

func TestReplyActionWithoutAI(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(nil)

	if res := e.ReplyAction(context.Background(), "nice one", &types.Signal{ID: 7}); !res.NoMatch() {
		t.Error("expected no match without an AI stage")
	}
}
