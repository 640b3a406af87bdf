// Package chainaddr validates wallet addresses per chain family: EVM
// 0x-prefixed 40-hex addresses, and Solana base58 addresses.
package chainaddr

import (
	"fmt"
	"regexp"

	"github.com/mr-tron/base58"
)

// Chain identifies the wallet's chain family.
type Chain string

const (
	ChainBase   Chain = "base"
	ChainSolana Chain = "solana"
)

var (
	evmAddressRegex    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	zeroEVMAddress     = "0x0000000000000000000000000000000000000000"
)

// Validate checks address against the format rules for chain and returns an
// error describing the first violation found.
func Validate(chain Chain, address string) error {
	if address == "" {
		return fmt.Errorf("chainaddr: address cannot be empty")
	}

	switch chain {
	case ChainBase:
		if !evmAddressRegex.MatchString(address) {
			return fmt.Errorf("chainaddr: invalid EVM address %q (want 0x + 40 hex chars)", address)
		}
		if equalFoldASCII(address, zeroEVMAddress) {
			return fmt.Errorf("chainaddr: EVM address cannot be the zero address")
		}
		return nil

	case ChainSolana:
		if len(address) < 32 || len(address) > 44 {
			return fmt.Errorf("chainaddr: invalid Solana address length %d (want 32-44)", len(address))
		}
		if !solanaAddressRegex.MatchString(address) {
			return fmt.Errorf("chainaddr: invalid Solana address %q (not base58)", address)
		}
		if _, err := base58.Decode(address); err != nil {
			return fmt.Errorf("chainaddr: invalid Solana address %q: %w", address, err)
		}
		return nil

	default:
		return fmt.Errorf("chainaddr: unsupported chain %q", chain)
	}
}

// equalFoldASCII compares two ASCII strings case-insensitively without
// allocating, used only for the zero-address check.
func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
