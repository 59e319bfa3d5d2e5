package extract

import (
	"errors"
	"fmt"

	"signal-relay/pkg/types"
)

// ErrNoValidPrices reports that stop-loss filtering removed every entry or
// tp candidate and the caller asked for strict behavior.
var ErrNoValidPrices = errors.New("no valid prices remain")

// FilterOptions tunes FilterPrices. The zero value is the strict, uncapped
// variant.
type FilterOptions struct {
	MaxEntries    int  // keep at most this many entries; 0 = uncapped
	MaxTPs        int  // keep at most this many tps; 0 = uncapped
	IgnoreInvalid bool // drop inconsistent prices silently instead of failing
}

// FilterPrices enforces stop-loss consistency on sorted price lists.
//
// BUY drops entries at or below the sl, then tps at or below the highest
// surviving entry; SELL mirrors (entries at or above the sl, tps at or
// above the lowest surviving entry). When a list empties: IgnoreInvalid
// returns it empty silently, otherwise ErrNoValidPrices. Caps truncate
// from the head, keeping the layers closest to the market.
func FilterPrices(side types.Side, sl float64, entries, tps []float64, opts FilterOptions) ([]float64, []float64, error) {
	if len(entries) == 0 {
		return nil, nil, errors.New("entry prices cannot be empty")
	}

	keptEntries := make([]float64, 0, len(entries))
	for _, e := range entries {
		if (side == types.BUY && e > sl) || (side == types.SELL && e < sl) {
			keptEntries = append(keptEntries, e)
		}
	}

	if len(keptEntries) == 0 {
		if !opts.IgnoreInvalid {
			return nil, nil, fmt.Errorf("%w: no %s entries consistent with sl %v", ErrNoValidPrices, side, sl)
		}
	}

	// TPs must clear every surviving entry layer: the bound is the highest
	// kept entry for BUY, the lowest for SELL.
	var keptTPs []float64
	if len(keptEntries) > 0 {
		bound := keptEntries[0]
		for _, e := range keptEntries[1:] {
			if (side == types.BUY && e > bound) || (side == types.SELL && e < bound) {
				bound = e
			}
		}
		keptTPs = make([]float64, 0, len(tps))
		for _, tp := range tps {
			if (side == types.BUY && tp > bound) || (side == types.SELL && tp < bound) {
				keptTPs = append(keptTPs, tp)
			}
		}
	}

	if len(keptTPs) == 0 {
		if !opts.IgnoreInvalid {
			return nil, nil, fmt.Errorf("%w: no %s tps consistent with sl %v", ErrNoValidPrices, side, sl)
		}
		keptTPs = nil
	}
	if len(keptEntries) == 0 {
		keptEntries = nil
	}

	if opts.MaxEntries > 0 && len(keptEntries) > opts.MaxEntries {
		keptEntries = keptEntries[:opts.MaxEntries]
	}
	if opts.MaxTPs > 0 && len(keptTPs) > opts.MaxTPs {
		keptTPs = keptTPs[:opts.MaxTPs]
	}

	return keptEntries, keptTPs, nil
}
