// Package feekernel implements the pure fee-split arithmetic of the payment
// gateway: given a price and an optional platform-fee configuration it
// produces the split between seller and platform in the smallest currency
// unit. Nothing here performs I/O.
package feekernel

import "fmt"

// Decimals is the fixed-point precision of USDC amounts (micro-dollars).
const Decimals = 6

// Config describes the platform's cut of a payment, if any.
type Config struct {
	// FeeBps is the platform fee in basis points (hundredths of a percent).
	FeeBps int64
	// PlatformWallet receives PlatformFee. Empty when FeeBps is 0.
	PlatformWallet string
}

// Split is the result of applying a Config to an amount. All fields are
// integers in the smallest currency unit (e.g. micro-USDC).
type Split struct {
	TotalAmount    int64
	PlatformFee    int64
	SellerAmount   int64
	FeeBps         int64
	PlatformWallet string
}

// SplitAmount computes the fee split for a payment of amount (in smallest
// units). When cfg is nil or cfg.FeeBps is 0 the platform takes nothing and
// PlatformWallet is left empty.
//
// Rounding is toward zero (round down) at the smallest unit; the seller
// absorbs the remainder so that PlatformFee+SellerAmount == amount exactly.
func SplitAmount(amount int64, cfg *Config) (Split, error) {
	if amount < 0 {
		return Split{}, fmt.Errorf("feekernel: amount must be non-negative, got %d", amount)
	}

	if cfg == nil || cfg.FeeBps == 0 {
		return Split{
			TotalAmount:  amount,
			PlatformFee:  0,
			SellerAmount: amount,
			FeeBps:       0,
		}, nil
	}

	if cfg.FeeBps < 0 || cfg.FeeBps > 10_000 {
		return Split{}, fmt.Errorf("feekernel: feeBps out of range [0,10000]: %d", cfg.FeeBps)
	}

	// Integer division truncates toward zero for non-negative operands, which
	// is exactly "round down at the smallest unit".
	platformFee := (amount * cfg.FeeBps) / 10_000
	sellerAmount := amount - platformFee

	return Split{
		TotalAmount:    amount,
		PlatformFee:    platformFee,
		SellerAmount:   sellerAmount,
		FeeBps:         cfg.FeeBps,
		PlatformWallet: cfg.PlatformWallet,
	}, nil
}
