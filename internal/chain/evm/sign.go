package evm

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// NewNonce generates a random 32-byte EIP-3009 nonce, 0x-prefixed.
func NewNonce() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("evm: generating nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}

// Sign fills in From, Nonce, ValidAfter, ValidBefore (if unset) and computes
// the EIP-712 signature over a using privateKeyHex, the buyer-side
// counterpart to RecoverSigner. validity is how long the authorization
// remains valid from now.
func Sign(a Authorization, privateKeyHex string, validity time.Duration) (Authorization, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return Authorization{}, fmt.Errorf("evm: invalid signing key: %w", err)
	}
	return signWithKey(a, key, validity)
}

func signWithKey(a Authorization, key *ecdsa.PrivateKey, validity time.Duration) (Authorization, error) {
	a.From = crypto.PubkeyToAddress(key.PublicKey).Hex()

	if a.Nonce == "" {
		nonce, err := NewNonce()
		if err != nil {
			return Authorization{}, err
		}
		a.Nonce = nonce
	}
	now := time.Now()
	if a.ValidAfter == "" {
		a.ValidAfter = "0"
	}
	if a.ValidBefore == "" {
		if validity <= 0 {
			validity = 5 * time.Minute
		}
		a.ValidBefore = strconv.FormatInt(now.Add(validity).Unix(), 10)
	}

	digest, _, err := Digest(a)
	if err != nil {
		return Authorization{}, err
	}

	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return Authorization{}, fmt.Errorf("evm: signing authorization: %w", err)
	}
	sig[64] += 27 // recovery id -> Ethereum v
	a.Signature = "0x" + hex.EncodeToString(sig)

	return a, nil
}
