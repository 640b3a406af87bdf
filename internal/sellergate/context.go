package sellergate

import (
	"context"
	"time"

	"github.com/x402gw/core/internal/feekernel"
	"github.com/x402gw/core/internal/store"
)

// Receipt is the proof of payment attached to a downstream handler's
// request context once the gate accepts a payment, per §4.3.
type Receipt struct {
	TxHash      string
	Chain       string
	Amount      string // human-readable decimal, e.g. "0.005000"
	From        string
	To          string
	Timestamp   time.Time
	BlockNumber uint64 // 0 if not yet known
}

// Attached is everything the gate hands the origin handler once a payment
// is accepted: the receipt, the fee split, the matched endpoint and its
// route params. The gate's Config is not included.
type Attached struct {
	Receipt      Receipt
	FeeBreakdown feekernel.Split
	Endpoint     store.Endpoint
	Params       map[string]string
}

type contextKey struct{}

// WithAttached returns a context carrying att, retrievable with FromContext.
func WithAttached(ctx context.Context, att Attached) context.Context {
	return context.WithValue(ctx, contextKey{}, att)
}

// FromContext retrieves the Attached payment context a downstream handler
// runs with, set by the gate once a payment has been verified.
func FromContext(ctx context.Context) (Attached, bool) {
	att, ok := ctx.Value(contextKey{}).(Attached)
	return att, ok
}

// microUSDCToDecimal renders smallest-unit micro-USDC as a 6-decimal
// human-readable string, e.g. 5000 -> "0.005000".
func microUSDCToDecimal(amount int64) string {
	const scale = 1_000_000
	whole := amount / scale
	frac := amount % scale
	if frac < 0 {
		frac = -frac
	}
	return padDecimal(whole, frac)
}

func padDecimal(whole, frac int64) string {
	digits := [6]byte{}
	f := frac
	for i := 5; i >= 0; i-- {
		digits[i] = byte('0' + f%10)
		f /= 10
	}
	return itoa(whole) + "." + string(digits[:])
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
