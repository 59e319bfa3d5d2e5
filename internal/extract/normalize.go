package extract

import (
	"log/slog"
	"math"
	"sort"
	"strings"

	"signal-relay/pkg/types"
)

// normalizeDraft maps symbols to their canonical tickers, coerces sides to
// BUY/SELL (invalid tokens dropped with a warning), drops non-finite prices
// silently, and deduplicates every list preserving first-seen order.
func normalizeDraft(draft SignalDraft, symbols *SymbolMap, logger *slog.Logger) SignalDraft {
	out := SignalDraft{Info: draft.Info}

	for _, raw := range draft.Symbols {
		name := strings.ToUpper(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if canonical, ok := symbols.Canonical(name); ok {
			name = canonical
		}
		if !containsString(out.Symbols, name) {
			out.Symbols = append(out.Symbols, name)
		}
	}

	for _, raw := range draft.Sides {
		side, ok := types.ParseSide(strings.ToUpper(strings.TrimSpace(raw)))
		if !ok {
			logger.Warn("dropping unrecognized side token", "side", raw)
			continue
		}
		if !containsString(out.Sides, string(side)) {
			out.Sides = append(out.Sides, string(side))
		}
	}

	out.Entries = cleanPrices(draft.Entries)
	out.TPs = cleanPrices(draft.TPs)
	out.SLs = cleanPrices(draft.SLs)
	return out
}

// cleanPrices drops NaN/±Inf and duplicates, preserving order.
func cleanPrices(prices []float64) []float64 {
	var out []float64
	for _, p := range prices {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		if !containsFloat(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// sortPrices arranges price lists in layer order: index 0 is the layer
// closest to the market.
//
//	BUY:  entries descending, tps ascending, sls descending
//	SELL: entries ascending, tps descending, sls ascending
func sortPrices(side types.Side, entries, tps, sls []float64) (sortedEntries, sortedTPs, sortedSLs []float64) {
	sortedEntries = append([]float64(nil), entries...)
	sortedTPs = append([]float64(nil), tps...)
	sortedSLs = append([]float64(nil), sls...)

	if side == types.BUY {
		sort.Sort(sort.Reverse(sort.Float64Slice(sortedEntries)))
		sort.Float64s(sortedTPs)
		sort.Sort(sort.Reverse(sort.Float64Slice(sortedSLs)))
	} else {
		sort.Float64s(sortedEntries)
		sort.Sort(sort.Reverse(sort.Float64Slice(sortedTPs)))
		sort.Float64s(sortedSLs)
	}
	return sortedEntries, sortedTPs, sortedSLs
}
