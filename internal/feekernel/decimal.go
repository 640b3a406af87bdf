package feekernel

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDecimalUnits converts a human-readable decimal amount (e.g.
// "0.005") into the smallest currency unit at Decimals precision (e.g.
// 5000 micro-USDC). Trailing digits beyond Decimals are rejected rather
// than silently truncated, since a price that doesn't round-trip exactly
// is a configuration error.
func ParseDecimalUnits(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, fmt.Errorf("feekernel: empty amount")
	}
	neg := strings.HasPrefix(amount, "-")
	if neg {
		return 0, fmt.Errorf("feekernel: amount must be non-negative: %q", amount)
	}

	whole, frac, hasFrac := strings.Cut(amount, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return 0, fmt.Errorf("feekernel: amount %q has more than %d decimal places", amount, Decimals)
	}
	if hasFrac {
		frac = frac + strings.Repeat("0", Decimals-len(frac))
	} else {
		frac = strings.Repeat("0", Decimals)
	}

	wholeUnits, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("feekernel: malformed amount %q: %w", amount, err)
	}
	fracUnits, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("feekernel: malformed amount %q: %w", amount, err)
	}

	scale := int64(1)
	for i := 0; i < Decimals; i++ {
		scale *= 10
	}
	return wholeUnits*scale + fracUnits, nil
}
