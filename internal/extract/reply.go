package extract

import (
	"regexp"
	"strings"

	"signal-relay/pkg/types"
)

// Keyword tables for the reply-action matcher. Single words also match
// simple suffix inflections (close/closed/closing); multi-word phrases
// match in order with flexible whitespace. Kept concise to avoid
// unintended hits.
var (
	closeKeywords = []string{
		"CLOSE",
		"EXIT",
		"TERMINATE",
		"CLOSING POSITION",
		"CANCEL",
		"CLOSING",
	}

	breakevenKeywords = []string{
		"SET BE",
		"LOCK IN",
		"PROFIT",
		"BREAKEVEN",
		"MOVE SL",
		"SL TO ENTRY",
	}

	closePatterns     = compileKeywordPatterns(closeKeywords)
	breakevenPatterns = compileKeywordPatterns(breakevenKeywords)
)

// compileKeywordPatterns builds one case-insensitive pattern per keyword.
// Single words get a leading word boundary plus \w* so "enclose" cannot hit
// "close" but "closing" can; phrases require their words in order.
func compileKeywordPatterns(keywords []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(keywords))
	for _, kw := range keywords {
		var expr string
		if strings.Contains(kw, " ") {
			tokens := strings.Fields(kw)
			for i, tok := range tokens {
				tokens[i] = regexp.QuoteMeta(tok)
			}
			expr = `(?i)\b` + strings.Join(tokens, `\s+`) + `\b`
		} else {
			expr = `(?i)\b` + regexp.QuoteMeta(kw) + `\w*\b`
		}
		patterns = append(patterns, regexp.MustCompile(expr))
	}
	return patterns
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// MatchReplyAction scans free-form reply text for close or breakeven
// wording. CLOSE wins when both categories appear. The MODIFY_SL action is
// only ever produced by the AI path, which can read a concrete price.
func MatchReplyAction(text string) (types.ReplyAction, bool) {
	normalized := strings.Join(strings.Fields(strings.ReplaceAll(text, "\n", " ")), " ")
	if normalized == "" {
		return "", false
	}

	if matchesAny(normalized, closePatterns) {
		return types.ActionClose, true
	}
	if matchesAny(normalized, breakevenPatterns) {
		return types.ActionBreakeven, true
	}
	return "", false
}
