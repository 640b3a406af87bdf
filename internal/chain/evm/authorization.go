// Package evm implements EIP-3009 transferWithAuthorization signature
// recovery and submission against a USDC-compatible ERC-20, adapted from
// the gateway's local facilitator.
package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402gw/core/internal/chain"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	authTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
	))
)

// transferWithAuthSelector is the 4-byte selector for
// USDC.transferWithAuthorization.
var transferWithAuthSelector = crypto.Keccak256([]byte(
	"transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)",
))[:4]

// Authorization is the decoded EIP-3009 payload a client signs to authorize
// a transfer.
type Authorization struct {
	Network     string // CAIP-2, e.g. "eip155:84532"
	Asset       string // USDC contract address
	DomainName  string
	DomainVersion string
	From        string
	To          string
	Value       string // decimal smallest-unit string
	ValidAfter  string
	ValidBefore string
	Nonce       string // hex, 0x-prefixed
	Signature   string // hex, 0x-prefixed, 65 bytes
}

func pad32(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func addrPad(a common.Address) []byte {
	padded := make([]byte, 32)
	copy(padded[12:], a.Bytes())
	return padded
}

func domainSeparator(name, version string, chainID *big.Int, contract common.Address) common.Hash {
	enc := make([]byte, 5*32)
	copy(enc[0:32], domainTypeHash.Bytes())
	copy(enc[32:64], crypto.Keccak256([]byte(name)))
	copy(enc[64:96], crypto.Keccak256([]byte(version)))
	copy(enc[96:128], pad32(chainID))
	copy(enc[128:160], addrPad(contract))
	return crypto.Keccak256Hash(enc)
}

func authHash(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) common.Hash {
	enc := make([]byte, 7*32)
	copy(enc[0:32], authTypeHash.Bytes())
	copy(enc[32:64], addrPad(from))
	copy(enc[64:96], addrPad(to))
	copy(enc[96:128], pad32(value))
	copy(enc[128:160], pad32(validAfter))
	copy(enc[160:192], pad32(validBefore))
	copy(enc[192:224], nonce[:])
	return crypto.Keccak256Hash(enc)
}

func parseChainID(network string) (*big.Int, error) {
	parts := strings.SplitN(network, ":", 2)
	if len(parts) != 2 || parts[0] != "eip155" {
		return nil, &chain.ValidationError{Field: "network", Msg: fmt.Sprintf("not a CAIP-2 eip155 id: %q", network)}
	}
	chainID := new(big.Int)
	if _, ok := chainID.SetString(parts[1], 10); !ok {
		return nil, &chain.ValidationError{Field: "network", Msg: fmt.Sprintf("bad chainId: %q", parts[1])}
	}
	return chainID, nil
}

func mustBigInt(field, s string) (*big.Int, error) {
	n := new(big.Int)
	if _, ok := n.SetString(s, 10); !ok {
		return nil, &chain.ValidationError{Field: field, Msg: fmt.Sprintf("not a base-10 integer: %q", s)}
	}
	return n, nil
}

// Digest computes the EIP-712 signing digest and the raw 32-byte nonce for
// the authorization.
func Digest(a Authorization) (common.Hash, [32]byte, error) {
	chainID, err := parseChainID(a.Network)
	if err != nil {
		return common.Hash{}, [32]byte{}, err
	}

	asset := common.HexToAddress(a.Asset)
	from := common.HexToAddress(a.From)
	to := common.HexToAddress(a.To)

	value, err := mustBigInt("value", a.Value)
	if err != nil {
		return common.Hash{}, [32]byte{}, err
	}
	validAfter, err := mustBigInt("validAfter", a.ValidAfter)
	if err != nil {
		return common.Hash{}, [32]byte{}, err
	}
	validBefore, err := mustBigInt("validBefore", a.ValidBefore)
	if err != nil {
		return common.Hash{}, [32]byte{}, err
	}

	nonceHex := strings.TrimPrefix(a.Nonce, "0x")
	nonceBytes, err := hex.DecodeString(nonceHex)
	if err != nil {
		return common.Hash{}, [32]byte{}, &chain.ValidationError{Field: "nonce", Msg: err.Error()}
	}
	var nonce [32]byte
	if len(nonceBytes) > 32 {
		return common.Hash{}, [32]byte{}, &chain.ValidationError{Field: "nonce", Msg: "longer than 32 bytes"}
	}
	copy(nonce[32-len(nonceBytes):], nonceBytes)

	name := a.DomainName
	if name == "" {
		name = "USDC"
	}
	version := a.DomainVersion
	if version == "" {
		version = "2"
	}

	ds := domainSeparator(name, version, chainID, asset)
	ah := authHash(from, to, value, validAfter, validBefore, nonce)
	digest := crypto.Keccak256Hash(append([]byte{0x19, 0x01}, append(ds.Bytes(), ah.Bytes()...)...))
	return digest, nonce, nil
}

// RecoverSigner verifies a's signature against its EIP-712 digest and
// returns the recovered signer address. It does not check amount or payTo —
// callers compare those against the matched payment requirement themselves.
func RecoverSigner(a Authorization) (common.Address, error) {
	digest, _, err := Digest(a)
	if err != nil {
		return common.Address{}, err
	}

	sigHex := strings.TrimPrefix(a.Signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		return common.Address{}, &chain.ValidationError{Field: "signature", Msg: "must be 65 raw bytes"}
	}
	sig = append([]byte(nil), sig...) // don't mutate caller's bytes
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubBytes, err := crypto.Ecrecover(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, &chain.ValidationError{Field: "signature", Msg: "ecrecover failed: " + err.Error()}
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return common.Address{}, &chain.ValidationError{Field: "signature", Msg: err.Error()}
	}

	recovered := crypto.PubkeyToAddress(*pub)
	expected := common.HexToAddress(a.From)
	if recovered != expected {
		return common.Address{}, &chain.ValidationError{Field: "signature", Msg: fmt.Sprintf("recovered %s, claimed %s", recovered.Hex(), expected.Hex())}
	}
	return recovered, nil
}

// packTransferWithAuth ABI-encodes the transferWithAuthorization call.
func packTransferWithAuth(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, v uint8, r, s [32]byte) []byte {
	data := make([]byte, 4+9*32)
	copy(data[:4], transferWithAuthSelector)
	offset := 4
	copy(data[offset+12:offset+32], from.Bytes())
	offset += 32
	copy(data[offset+12:offset+32], to.Bytes())
	offset += 32
	copy(data[offset:offset+32], pad32(value))
	offset += 32
	copy(data[offset:offset+32], pad32(validAfter))
	offset += 32
	copy(data[offset:offset+32], pad32(validBefore))
	offset += 32
	copy(data[offset:offset+32], nonce[:])
	offset += 32
	data[offset+31] = v
	offset += 32
	copy(data[offset:offset+32], r[:])
	offset += 32
	copy(data[offset:offset+32], s[:])
	return data
}
