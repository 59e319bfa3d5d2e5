package extract

import (
	"math"
	"strconv"
	"strings"

	"signal-relay/pkg/types"
)

// priceContext is the rolling bucket a bare number lands in while scanning.
type priceContext int

const (
	ctxEntry priceContext = iota
	ctxTP
	ctxSL
)

// Direction keywords, checked against alpha-only tokens. KOOP/VERKOOP are
// the Dutch variants seen in the source rooms.
var directionKeywords = map[string]types.Side{
	"BUY": types.BUY, "LONG": types.BUY, "KOOP": types.BUY,
	"SELL": types.SELL, "SHORT": types.SELL, "VERKOOP": types.SELL,
}

// Context keywords, checked against raw tokens so "@" survives.
var contextKeywords = map[string]priceContext{
	"TP": ctxTP, "TARGET": ctxTP, "PROFIT": ctxTP, "TAKEPROFIT": ctxTP,
	"SL": ctxSL, "STOP": ctxSL, "LOSS": ctxSL, "STOPLOSS": ctxSL,
	"@": ctxEntry, "AT": ctxEntry, "ENTRY": ctxEntry, "LEVEL": ctxEntry,
}

// ParseSignalText runs the deterministic token scan over one message.
//
// The text is upper-cased and every character outside [A-Z0-9., @] replaced
// with a space. Tokens are then classified in order: price (comma accepted
// as decimal separator, appended to the current context, per-context
// duplicates dropped), context keyword, and finally — after stripping
// non-alphabetic characters — direction keyword and symbol candidate
// against the flattened synonym set.
func ParseSignalText(text string, symbols *SymbolMap) SignalDraft {
	cleaned := cleanSignalText(text)

	draft := SignalDraft{Info: "Extracted manually"}
	context := ctxEntry // bare leading numbers are entries

	for _, word := range strings.Fields(cleaned) {
		// 1. Price?
		if price, ok := parsePrice(word); ok {
			switch context {
			case ctxSL:
				if !containsFloat(draft.SLs, price) {
					draft.SLs = append(draft.SLs, price)
				}
			case ctxTP:
				if !containsFloat(draft.TPs, price) {
					draft.TPs = append(draft.TPs, price)
				}
			default:
				if !containsFloat(draft.Entries, price) {
					draft.Entries = append(draft.Entries, price)
				}
			}
			continue
		}

		// 2. Context switch? Checked on the raw token so "@" works.
		if next, ok := contextKeywords[word]; ok {
			context = next
			continue
		}

		// 3. Direction or symbol, on the alpha-only remainder.
		alpha := stripNonAlpha(word)
		if alpha == "" {
			continue
		}

		if side, ok := directionKeywords[alpha]; ok {
			if !containsString(draft.Sides, string(side)) {
				draft.Sides = append(draft.Sides, string(side))
			}
		}

		if symbols.Contains(alpha) && !containsString(draft.Symbols, alpha) {
			draft.Symbols = append(draft.Symbols, alpha)
		}
	}

	return draft
}

// cleanSignalText upper-cases and whitelists the scanner alphabet.
func cleanSignalText(text string) string {
	upper := strings.ToUpper(strings.ReplaceAll(text, "\n", " "))
	var b strings.Builder
	b.Grow(len(upper))
	for _, r := range upper {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == ',' || r == ' ' || r == '@':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// parsePrice attempts a float parse with the comma treated as a decimal
// separator. Non-finite values are rejected.
func parsePrice(word string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(word, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// stripNonAlpha drops every non-letter, so "GOLD!!" and "BUY:" still match.
func stripNonAlpha(word string) string {
	var b strings.Builder
	for _, r := range word {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func containsFloat(xs []float64, v float64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
