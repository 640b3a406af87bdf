package feekernel

import "strconv"

// Decimals for USDC is defined in fee.go; requirements always advertise it.

// ChainAsset names one chain's CAIP-2 network id and the USDC contract (or
// equivalent token account) address on it, for requirement construction
// over an endpoint's supported chains.
type ChainAsset struct {
	Network string
	Asset   string
}

// PlatformFeeExtra mirrors the §6 PaymentRequirement.extra.platformFee
// shape, present only when the computed platform fee is non-zero.
type PlatformFeeExtra struct {
	FeeBps         int64  `json:"feeBps"`
	PlatformWallet string `json:"platformWallet"`
	SellerAmount   string `json:"sellerAmount"`
	PlatformAmount string `json:"platformAmount"`
}

// RequirementExtra is the §6 PaymentRequirement.extra shape.
type RequirementExtra struct {
	Name        string            `json:"name"`
	Decimals    int               `json:"decimals"`
	PlatformFee *PlatformFeeExtra `json:"platformFee,omitempty"`
}

// Requirement mirrors the §6 PaymentRequirement wire shape exactly.
type Requirement struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Description       string            `json:"description"`
	PayTo             string            `json:"payTo"`
	Asset             string            `json:"asset"`
	Extra             RequirementExtra  `json:"extra"`
}

// BuildRequirements constructs one PaymentRequirement per chain the
// endpoint supports, per §4.3: the same price applies on every chain, so
// the fee split is computed once and mirrored into each chain's extra.
func BuildRequirements(priceSmallestUnits int64, chains []ChainAsset, payTo, description string, cfg *Config) ([]Requirement, error) {
	split, err := SplitAmount(priceSmallestUnits, cfg)
	if err != nil {
		return nil, err
	}

	var extraFee *PlatformFeeExtra
	if split.PlatformFee > 0 {
		extraFee = &PlatformFeeExtra{
			FeeBps:         split.FeeBps,
			PlatformWallet: split.PlatformWallet,
			SellerAmount:   strconv.FormatInt(split.SellerAmount, 10),
			PlatformAmount: strconv.FormatInt(split.PlatformFee, 10),
		}
	}

	out := make([]Requirement, 0, len(chains))
	for _, c := range chains {
		out = append(out, Requirement{
			Scheme:            "exact",
			Network:           c.Network,
			MaxAmountRequired: strconv.FormatInt(priceSmallestUnits, 10),
			Description:       description,
			PayTo:             payTo,
			Asset:             c.Asset,
			Extra: RequirementExtra{
				Name:        "USDC",
				Decimals:    Decimals,
				PlatformFee: extraFee,
			},
		})
	}
	return out, nil
}
