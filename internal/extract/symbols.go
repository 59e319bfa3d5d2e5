package extract

import (
	"strings"

	"signal-relay/pkg/types"
)

// Built-in canonical tickers. Each name resolves to itself; the synonym
// table below adds alternates on top.
var builtinSymbols = []string{
	"XAUUSD", "XAGUSD",
	"EURUSD", "GBPUSD", "USDJPY", "USDCHF", "USDCAD", "AUDUSD", "NZDUSD",
	"EURGBP", "EURJPY", "GBPJPY",
	"BTCUSD", "ETHUSD",
	"DJI", "NAS100", "SPX500",
	"USOIL",
}

// Built-in global synonyms, canonical → alternates. Kept to names that
// commonly appear in signal rooms; per-setup configs extend this.
var builtinSynonyms = map[string][]string{
	"XAUUSD": {"GOLD", "XAU", "GOLDUSD"},
	"XAGUSD": {"SILVER", "XAG"},
	"DJI":    {"US30", "DOW"},
	"NAS100": {"US100", "NASDAQ"},
	"SPX500": {"US500", "SPX"},
	"BTCUSD": {"BTC", "BITCOIN"},
	"ETHUSD": {"ETH", "ETHEREUM"},
	"USOIL":  {"WTI", "OIL"},
}

// SymbolMap resolves observed symbol tokens to canonical tickers. Keys are
// upper-cased; the manual parser and the normalizer both consult it.
type SymbolMap struct {
	canonical map[string]string // known name → canonical ticker
}

// NewSymbolMap returns a map seeded with the built-in tickers and synonyms.
func NewSymbolMap() *SymbolMap {
	m := &SymbolMap{canonical: make(map[string]string, 2*len(builtinSymbols))}
	for _, sym := range builtinSymbols {
		m.Add(sym)
	}
	for sym, syns := range builtinSynonyms {
		m.Add(sym, syns...)
	}
	return m
}

// Add registers a canonical ticker and any synonyms for it. The canonical
// name always resolves to itself.
func (m *SymbolMap) Add(canonical string, synonyms ...string) {
	canonical = strings.ToUpper(strings.TrimSpace(canonical))
	if canonical == "" {
		return
	}
	m.canonical[canonical] = canonical
	for _, syn := range synonyms {
		syn = strings.ToUpper(strings.TrimSpace(syn))
		if syn != "" {
			m.canonical[syn] = canonical
		}
	}
}

// Merge folds one copy-setup config into the map: the allowed_symbols CSV
// (ignored when "ALL" or empty) and the per-setup synonym mapping.
func (m *SymbolMap) Merge(cfg *types.CopySetupConfig) {
	if cfg == nil {
		return
	}
	if csv := strings.TrimSpace(cfg.AllowedSymbols); csv != "" && !strings.EqualFold(csv, "ALL") {
		for _, part := range strings.Split(csv, ",") {
			m.Add(part)
		}
	}
	for sym, syns := range cfg.SymbolSynonyms {
		m.Add(sym, syns...)
	}
}

// Contains reports whether name resolves to any known ticker.
func (m *SymbolMap) Contains(name string) bool {
	_, ok := m.canonical[strings.ToUpper(name)]
	return ok
}

// Canonical resolves name to its canonical ticker.
func (m *SymbolMap) Canonical(name string) (string, bool) {
	sym, ok := m.canonical[strings.ToUpper(name)]
	return sym, ok
}

// Len returns the number of known names (canonicals plus synonyms).
func (m *SymbolMap) Len() int { return len(m.canonical) }

// BuildSymbolMap assembles the per-room symbol map: built-ins first, then
// every attached copy setup's config in order.
func BuildSymbolMap(setups []types.CopySetup) *SymbolMap {
	m := NewSymbolMap()
	for i := range setups {
		m.Merge(setups[i].Config)
	}
	return m
}
