package extract

import (
	"testing"

	"signal-relay/pkg/types"
)

func TestMatchReplyAction(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		text   string
		want   types.ReplyAction
		wantOK bool
	}{
		{"close word", "Please CLOSE the trade.", types.ActionClose, true},
		{"close suffix inflection", "we are exiting now", types.ActionClose, true},
		{"cancel", "Consider canceling this position", types.ActionClose, true},
		{"move sl phrase", "move SL to entry", types.ActionBreakeven, true},
		{"set be", "set be pls", types.ActionBreakeven, true},
		{"breakeven word", "We will breakeven soon", types.ActionBreakeven, true},
		{"lock in with newline", "lock\nin gains", types.ActionBreakeven, true},
		{"close beats breakeven", "lock in profit and close now", types.ActionClose, true},
		{"word boundary respected", "The enclosure is damaged.", "", false},
		{"no keyword", "nice chart, thanks", "", false},
		{"empty", "   ", "", false},
		{"case insensitive", "TERMINATE", types.ActionClose, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := MatchReplyAction(tc.text)
			if ok != tc.wantOK {
				t.Fatalf("MatchReplyAction(%q) ok = %v, want %v", tc.text, ok, tc.wantOK)
			}
			if ok && got != tc.want {
				t.Errorf("MatchReplyAction(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}
