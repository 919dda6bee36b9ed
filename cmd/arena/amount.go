package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const unitsPerSOL = 1_000_000_000

// parseAmount reads base units, or SOL when suffixed with "sol"
// (for example "1.5sol"). At most nine decimals are kept exactly.
func parseAmount(s string) (uint64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("amount required")
	}
	if !strings.HasSuffix(s, "sol") {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		return v, nil
	}
	num := strings.TrimSpace(strings.TrimSuffix(s, "sol"))
	whole, frac, _ := strings.Cut(num, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 9 {
		return 0, fmt.Errorf("amount %q has more than 9 decimals", s)
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	var f uint64
	if frac != "" {
		f, err = strconv.ParseUint(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
	}
	if w > (math.MaxUint64-f)/unitsPerSOL {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	return w*unitsPerSOL + f, nil
}

func formatSOL(v uint64) string {
	frac := strings.TrimRight(fmt.Sprintf("%09d", v%unitsPerSOL), "0")
	if frac == "" {
		return fmt.Sprintf("%d SOL", v/unitsPerSOL)
	}
	return fmt.Sprintf("%d.%s SOL", v/unitsPerSOL, frac)
}
