package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseSide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   Side
		wantOK bool
	}{
		{"BUY", BUY, true},
		{"SELL", SELL, true},
		{"buy", "", false}, // callers uppercase before parsing
		{"LONG", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseSide(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseSide(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSignalReplyWireShape(t *testing.T) {
	t.Parallel()

	newSL := 1.0980
	reply := SignalReply{
		ID:          7,
		Action:      ActionModifySL,
		GeneratedBy: GeneratedByAI,
		SignalID:    42,
		InfoMessage: "move stop",
		NewSLPrice:  &newSL,
	}

	raw, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	s := string(raw)

	if !strings.Contains(s, `"original_signal_id":42`) {
		t.Errorf("marshaled reply missing original_signal_id: %s", s)
	}
	if strings.Contains(s, "new_sl") {
		t.Errorf("NewSLPrice must not be part of the client payload: %s", s)
	}
}

func TestTradeWireShape(t *testing.T) {
	t.Parallel()

	entry := 1.10
	idx := 0
	trade := Trade{
		ID:               3,
		SignalID:         42,
		CopySetupID:      9,
		Symbol:           "EURUSD",
		Side:             BUY,
		EntryPrice:       &entry,
		State:            TradePendingQueue,
		SignalEntriesIdx: &idx,
	}

	raw, err := json.Marshal(trade)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	s := string(raw)

	if !strings.Contains(s, `"type":"BUY"`) {
		t.Errorf("side must serialize under the type key: %s", s)
	}
	if !strings.Contains(s, `"state":"PENDING_QUEUE"`) {
		t.Errorf("marshaled trade missing state: %s", s)
	}
	if strings.Contains(s, "copy_setup") || strings.Contains(s, "CopySetupID") {
		t.Errorf("copy-setup routing must stay server-side: %s", s)
	}
	// zero-valued index is still a real layer position and must survive
	if !strings.Contains(s, `"signal_entries_idx":0`) {
		t.Errorf("marshaled trade dropped zero entries index: %s", s)
	}
}
