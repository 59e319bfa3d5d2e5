package extract

import (
	"errors"
	"reflect"
	"testing"

	"signal-relay/pkg/types"
)

func TestFilterPricesBuyDropsEntriesBelowSL(t *testing.T) {
	t.Parallel()
	entries, tps, err := FilterPrices(types.BUY, 1940,
		[]float64{1950, 1945, 1935}, []float64{1960, 1970}, FilterOptions{})
	if err != nil {
		t.Fatalf("FilterPrices: %v", err)
	}

	if !reflect.DeepEqual(entries, []float64{1950, 1945}) {
		t.Errorf("entries = %v, want [1950 1945]", entries)
	}
	if !reflect.DeepEqual(tps, []float64{1960, 1970}) {
		t.Errorf("tps = %v, want [1960 1970]", tps)
	}
}

func TestFilterPricesBuyDropsTPsBelowHighestEntry(t *testing.T) {
	t.Parallel()
	entries, tps, err := FilterPrices(types.BUY, 1940,
		[]float64{1950, 1945}, []float64{1948, 1960}, FilterOptions{})
	if err != nil {
		t.Fatalf("FilterPrices: %v", err)
	}

	if !reflect.DeepEqual(entries, []float64{1950, 1945}) {
		t.Errorf("entries = %v, want [1950 1945]", entries)
	}
	if !reflect.DeepEqual(tps, []float64{1960}) {
		t.Errorf("tps = %v, want [1960]", tps)
	}
}

func TestFilterPricesSellMirrored(t *testing.T) {
	t.Parallel()
	entries, tps, err := FilterPrices(types.SELL, 2420,
		[]float64{2400, 2410, 2425}, []float64{2380, 2390, 2405}, FilterOptions{})
	if err != nil {
		t.Fatalf("FilterPrices: %v", err)
	}

	if !reflect.DeepEqual(entries, []float64{2400, 2410}) {
		t.Errorf("entries = %v, want [2400 2410]", entries)
	}
	// TPs must sit below the lowest surviving entry (2400).
	if !reflect.DeepEqual(tps, []float64{2380, 2390}) {
		t.Errorf("tps = %v, want [2380 2390]", tps)
	}
}

func TestFilterPricesStrictFailsWhenAllEntriesInvalid(t *testing.T) {
	t.Parallel()
	_, _, err := FilterPrices(types.BUY, 2000,
		[]float64{1950, 1945}, []float64{2100}, FilterOptions{})

	if !errors.Is(err, ErrNoValidPrices) {
		t.Errorf("err = %v, want ErrNoValidPrices", err)
	}
}

func TestFilterPricesStrictFailsWhenAllTPsInvalid(t *testing.T) {
	t.Parallel()
	_, _, err := FilterPrices(types.BUY, 1940,
		[]float64{1950}, []float64{1945}, FilterOptions{})

	if !errors.Is(err, ErrNoValidPrices) {
		t.Errorf("err = %v, want ErrNoValidPrices", err)
	}
}

func TestFilterPricesIgnoreInvalidReturnsEmpty(t *testing.T) {
	t.Parallel()
	entries, tps, err := FilterPrices(types.BUY, 2000,
		[]float64{1950, 1945}, []float64{2100}, FilterOptions{IgnoreInvalid: true})
	if err != nil {
		t.Fatalf("FilterPrices: %v", err)
	}

	if len(entries) != 0 || len(tps) != 0 {
		t.Errorf("entries = %v, tps = %v; want both empty", entries, tps)
	}
}

func TestFilterPricesIgnoreInvalidKeepsEntriesWhenTPsEmpty(t *testing.T) {
	t.Parallel()
	entries, tps, err := FilterPrices(types.BUY, 1940,
		[]float64{1950}, []float64{1945}, FilterOptions{IgnoreInvalid: true})
	if err != nil {
		t.Fatalf("FilterPrices: %v", err)
	}

	if !reflect.DeepEqual(entries, []float64{1950}) {
		t.Errorf("entries = %v, want [1950]", entries)
	}
	if len(tps) != 0 {
		t.Errorf("tps = %v, want empty", tps)
	}
}

func TestFilterPricesCapsTruncateFromHead(t *testing.T) {
	t.Parallel()
	entries, tps, err := FilterPrices(types.BUY, 1940,
		[]float64{1955, 1950, 1945}, []float64{1960, 1970, 1980},
		FilterOptions{MaxEntries: 1, MaxTPs: 2})
	if err != nil {
		t.Fatalf("FilterPrices: %v", err)
	}

	if !reflect.DeepEqual(entries, []float64{1955}) {
		t.Errorf("entries = %v, want [1955]", entries)
	}
	if !reflect.DeepEqual(tps, []float64{1960, 1970}) {
		t.Errorf("tps = %v, want [1960 1970]", tps)
	}
}

func TestFilterPricesEmptyEntriesInput(t *testing.T) {
	t.Parallel()
	_, _, err := FilterPrices(types.BUY, 1940, nil, []float64{1960}, FilterOptions{IgnoreInvalid: true})

	if err == nil {
		t.Error("expected error for empty entry input")
	}
}
