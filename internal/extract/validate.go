package extract

import (
	"fmt"
	"strings"
)

// FieldError describes one failed check on a draft field.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// FieldErrors aggregates every failed check from one validation pass.
// Validation never short-circuits: the error count drives the AI-fallback
// decision, so all failures must be collected.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return strings.Join(parts, "; ")
}

// validateDraft checks the singleton and presence rules: exactly one
// symbol, one side, and one stop loss; at least one entry and one tp.
func validateDraft(d SignalDraft) FieldErrors {
	var errs FieldErrors

	checkSingleton := func(field string, n int) {
		switch {
		case n == 0:
			errs = append(errs, FieldError{field, "missing value"})
		case n > 1:
			errs = append(errs, FieldError{field, "multiple values not allowed"})
		}
	}
	checkPresent := func(field string, n int) {
		if n == 0 {
			errs = append(errs, FieldError{field, "missing value"})
		}
	}

	checkSingleton("symbol", len(d.Symbols))
	checkSingleton("side", len(d.Sides))
	checkPresent("entry_prices", len(d.Entries))
	checkPresent("tp_prices", len(d.TPs))
	checkSingleton("sl_prices", len(d.SLs))

	return errs
}
