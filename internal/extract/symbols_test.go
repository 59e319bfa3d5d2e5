package extract

import (
	"testing"

	"signal-relay/pkg/types"
)

func TestSymbolMapBuiltins(t *testing.T) {
	t.Parallel()
	m := NewSymbolMap()

	for name, want := range map[string]string{
		"GOLD":   "XAUUSD",
		"XAUUSD": "XAUUSD",
		"silver": "XAGUSD",
		"US30":   "DJI",
		"SPX":    "SPX500",
	} {
		got, ok := m.Canonical(name)
		if !ok || got != want {
			t.Errorf("Canonical(%q) = %q, %v; want %q, true", name, got, ok, want)
		}
	}

	if m.Contains("FROBNICATOR") {
		t.Error("Contains(FROBNICATOR) = true, want false")
	}
}

func TestSymbolMapMergeCSV(t *testing.T) {
	t.Parallel()
	m := NewSymbolMap()
	m.Merge(&types.CopySetupConfig{AllowedSymbols: "USDZAR, usdtry"})

	if !m.Contains("USDZAR") || !m.Contains("USDTRY") {
		t.Error("CSV symbols should resolve after Merge")
	}
	if got, _ := m.Canonical("USDZAR"); got != "USDZAR" {
		t.Errorf("Canonical(USDZAR) = %q, want USDZAR", got)
	}
}

func TestSymbolMapMergeAllIsNoop(t *testing.T) {
	t.Parallel()
	m := NewSymbolMap()
	before := m.Len()
	m.Merge(&types.CopySetupConfig{AllowedSymbols: "ALL"})

	if m.Len() != before {
		t.Errorf("Len after ALL merge = %d, want %d", m.Len(), before)
	}
}

func TestSymbolMapMergeSynonyms(t *testing.T) {
	t.Parallel()
	m := NewSymbolMap()
	m.Merge(&types.CopySetupConfig{
		SymbolSynonyms: map[string][]string{"XAUUSD": {"GOUD"}},
	})

	if got, _ := m.Canonical("GOUD"); got != "XAUUSD" {
		t.Errorf("Canonical(GOUD) = %q, want XAUUSD", got)
	}
}

func TestBuildSymbolMapMergesAllSetups(t *testing.T) {
	t.Parallel()
	setups := []types.CopySetup{
		{Config: &types.CopySetupConfig{AllowedSymbols: "USDZAR"}},
		{Config: nil}, // setups without a config are skipped
		{Config: &types.CopySetupConfig{SymbolSynonyms: map[string][]string{"DJI": {"WALLSTREET"}}}},
	}
	m := BuildSymbolMap(setups)

	if !m.Contains("USDZAR") {
		t.Error("USDZAR from first setup missing")
	}
	if got, _ := m.Canonical("WALLSTREET"); got != "DJI" {
		t.Errorf("Canonical(WALLSTREET) = %q, want DJI", got)
	}
	if got, _ := m.Canonical("GOLD"); got != "XAUUSD" {
		t.Error("built-ins must survive setup merges")
	}
}
