package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/x402gw/core/internal/chain"
)

// Transferer submits EIP-3009 transferWithAuthorization transactions to a
// USDC-compatible ERC-20 on behalf of the platform's executor wallet. The
// executor signing key is a singleton, read-only after boot.
type Transferer struct {
	rpcURL     string
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewTransferer creates a Transferer for chainID, signing with
// privateKeyHex (0x-prefixed or bare hex).
func NewTransferer(rpcURL, privateKeyHex string, chainID *big.Int) (*Transferer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("evm: invalid executor private key: %w", err)
	}
	return &Transferer{
		rpcURL:     rpcURL,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    chainID,
	}, nil
}

// Address returns the executor's on-chain address.
func (t *Transferer) Address() common.Address { return t.address }

// Result is the outcome of a successful Submit.
type Result struct {
	TxHash common.Hash
}

// Submit validates a and, if valid, sends the transferWithAuthorization
// transaction. It does not wait for confirmations; call Confirm afterward.
//
// Returned errors are one of chain.ValidationError, chain.InsufficientFundsError,
// chain.TransientError, or chain.FatalError.
func (t *Transferer) Submit(ctx context.Context, a Authorization) (Result, error) {
	if a.To == "" || a.To == "0x0000000000000000000000000000000000000000" {
		return Result{}, &chain.ValidationError{Field: "to", Msg: "destination cannot be the zero address"}
	}

	_, nonce32, err := Digest(a)
	if err != nil {
		return Result{}, err
	}

	from := common.HexToAddress(a.From)
	to := common.HexToAddress(a.To)
	value, err := mustBigInt("value", a.Value)
	if err != nil {
		return Result{}, err
	}
	validAfter, err := mustBigInt("validAfter", a.ValidAfter)
	if err != nil {
		return Result{}, err
	}
	validBefore, err := mustBigInt("validBefore", a.ValidBefore)
	if err != nil {
		return Result{}, err
	}
	asset := common.HexToAddress(a.Asset)

	sigHex := strings.TrimPrefix(a.Signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		return Result{}, &chain.ValidationError{Field: "signature", Msg: "must be 65 raw bytes"}
	}
	var r, s [32]byte
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v := sig[64]
	if v < 27 {
		v += 27
	}

	callData := packTransferWithAuth(from, to, value, validAfter, validBefore, nonce32, v, r, s)

	client, err := ethclient.DialContext(ctx, t.rpcURL)
	if err != nil {
		return Result{}, &chain.TransientError{Cause: fmt.Errorf("rpc dial: %w", err)}
	}
	defer client.Close()

	txNonce, err := client.PendingNonceAt(ctx, t.address)
	if err != nil {
		return Result{}, classifyRPCError("pending nonce", err)
	}

	gasLimit := uint64(120_000)
	if est, err := client.EstimateGas(ctx, ethereum.CallMsg{From: t.address, To: &asset, Data: callData}); err == nil {
		gasLimit = est * 12 / 10
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return Result{}, classifyRPCError("latest header", err)
	}
	tip := big.NewInt(1e9)
	feeCap := new(big.Int).Add(header.BaseFee, tip)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   t.chainID,
		Nonce:     txNonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &asset,
		Value:     new(big.Int),
		Data:      callData,
	})

	signed, err := types.SignTx(tx, types.NewLondonSigner(t.chainID), t.privateKey)
	if err != nil {
		return Result{}, &chain.FatalError{Cause: fmt.Errorf("signing settlement tx: %w", err)}
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return Result{}, classifyRPCError("send transaction", err)
	}

	return Result{TxHash: signed.Hash()}, nil
}

// Confirm blocks until txHash reaches confirmations confirmations or
// timeout elapses, returning the block it was mined in.
func (t *Transferer) Confirm(ctx context.Context, txHash common.Hash, confirmations uint64, timeout time.Duration) (uint64, error) {
	client, err := ethclient.DialContext(ctx, t.rpcURL)
	if err != nil {
		return 0, &chain.TransientError{Cause: err}
	}
	defer client.Close()

	deadline := time.Now().Add(timeout)
	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil {
			latest, err := client.BlockNumber(ctx)
			if err != nil {
				return 0, classifyRPCError("block number", err)
			}
			if receipt.Status == types.ReceiptStatusFailed {
				return 0, &chain.FatalError{Cause: fmt.Errorf("transaction reverted: %s", txHash.Hex())}
			}
			if latest-receipt.BlockNumber.Uint64()+1 >= confirmations {
				return receipt.BlockNumber.Uint64(), nil
			}
		}

		if time.Now().After(deadline) {
			return 0, &chain.TransientError{Cause: fmt.Errorf("timed out waiting for %d confirmations", confirmations)}
		}

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func classifyRPCError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return &chain.InsufficientFundsError{Msg: err.Error()}
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "mempool"):
		return &chain.TransientError{Cause: fmt.Errorf("%s: %w", op, err)}
	default:
		return &chain.FatalError{Cause: fmt.Errorf("%s: %w", op, err)}
	}
}
