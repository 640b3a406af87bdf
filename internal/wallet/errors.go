package wallet

import "github.com/x402gw/core/internal/policy"

// PaymentDenied is raised when the policy engine refuses a proposed
// payment before any network I/O is performed, per §4.5 step 3.
type PaymentDenied struct {
	Reason policy.DenyReason
}

func (e *PaymentDenied) Error() string {
	return "wallet: payment denied: " + string(e.Reason)
}

// PaymentFailed is raised when the facilitator settles a payment as
// failed.
type PaymentFailed struct {
	Reason string
}

func (e *PaymentFailed) Error() string {
	return "wallet: payment failed: " + e.Reason
}

// ErrNoSignableChain is raised when none of the advertised payment
// requirements name a network the wallet can sign for.
type ErrNoSignableChain struct{}

func (e *ErrNoSignableChain) Error() string {
	return "wallet: no payment requirement for a chain this wallet can sign"
}
