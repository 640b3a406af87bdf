package facilitator

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402gw/core/internal/chain/evm"
	"github.com/x402gw/core/internal/store"
)

func signedAuth(t *testing.T, key *big.Int, network, to, value string) evm.Authorization {
	t.Helper()
	priv, err := crypto.ToECDSA(pad32(key))
	if err != nil {
		t.Fatalf("deriving key: %v", err)
	}
	from := crypto.PubkeyToAddress(priv.PublicKey)
	a := evm.Authorization{
		Network:     network,
		Asset:       "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		From:        from.Hex(),
		To:          to,
		Value:       value,
		ValidAfter:  "0",
		ValidBefore: "4102444800",
		Nonce:       "0x11223344556677889900aabbccddeeff11223344556677889900aabbccddee",
	}
	digest, _, err := evm.Digest(a)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	sig, err := crypto.Sign(digest.Bytes(), priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig[64] += 27
	a.Signature = "0x" + bytesToHex(sig)
	return a
}

func pad32(n *big.Int) []byte {
	b := n.Bytes()
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func bytesToHex(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}

func TestValidateDestination_RejectsLoopback(t *testing.T) {
	if err := validateDestination("http://127.0.0.1/origin"); err == nil {
		t.Fatal("expected loopback destination to be rejected")
	}
	if err := validateDestination("http://10.0.0.5/origin"); err == nil {
		t.Fatal("expected RFC1918 destination to be rejected")
	}
	if err := validateDestination("ftp://example.com"); err == nil {
		t.Fatal("expected non-http(s) scheme to be rejected")
	}
}

func TestPay_IdempotentRetryReturnsSameRecord(t *testing.T) {
	s := store.New("secret")
	svc := New(Config{Store: s, StoreSecret: "secret"})

	auth := signedAuth(t, big.NewInt(0xC0FFEE), "eip155:84532", "0x00000000000000000000000000000000001111", "5000")
	req := PayRequest{
		OriginalURL:    "https://example.com/api/joke",
		OriginalMethod: "GET",
		PaymentRequired: PaymentRequirement{
			Scheme: "exact", Network: "eip155:84532", MaxAmountRequired: "5000",
			PayTo: "0x00000000000000000000000000000000001111",
			Asset: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		},
		Authorization:  auth,
		AgentWallet:    auth.From,
		IdempotencyKey: "k-1",
	}

	resp1, err := svc.Pay(context.Background(), req)
	if err != nil {
		t.Fatalf("first Pay: %v", err)
	}
	resp2, err := svc.Pay(context.Background(), req)
	if err != nil {
		t.Fatalf("second Pay: %v", err)
	}
	if resp1.PaymentID != resp2.PaymentID {
		t.Fatalf("idempotent retry produced a different payment id: %s vs %s", resp1.PaymentID, resp2.PaymentID)
	}

	all := s.FacilitatorPayments.All()
	if len(all) != 1 {
		t.Fatalf("expected exactly one FacilitatorPayment, got %d", len(all))
	}
}

func TestPay_RejectsNetworkMismatch(t *testing.T) {
	s := store.New("secret")
	svc := New(Config{Store: s, StoreSecret: "secret"})

	auth := signedAuth(t, big.NewInt(0xC0FFEE), "eip155:1", "0x00000000000000000000000000000000001111", "5000")
	req := PayRequest{
		OriginalURL:    "https://example.com/api/joke",
		OriginalMethod: "GET",
		PaymentRequired: PaymentRequirement{
			Network: "eip155:84532", MaxAmountRequired: "5000",
			PayTo: "0x00000000000000000000000000000000001111",
		},
		Authorization: auth,
		AgentWallet:   auth.From,
	}
	if _, err := svc.Pay(context.Background(), req); err == nil {
		t.Fatal("expected network mismatch to be rejected")
	}
}

func TestVerify_ValidAuthorization(t *testing.T) {
	auth := signedAuth(t, big.NewInt(0xC0FFEE), "eip155:84532", "0x00000000000000000000000000000000001111", "5000")
	svc := New(Config{Store: store.New("secret"), StoreSecret: "secret"})
	resp := svc.Verify(VerifyRequest{
		Authorization: auth,
		PaymentRequired: PaymentRequirement{
			Network: "eip155:84532", MaxAmountRequired: "5000",
			PayTo: "0x00000000000000000000000000000000001111",
		},
	})
	if !resp.Valid {
		t.Fatalf("expected valid verification, got error: %s", resp.Error)
	}
}

func TestVerify_AmountBelowRequirement(t *testing.T) {
	auth := signedAuth(t, big.NewInt(0xC0FFEE), "eip155:84532", "0x00000000000000000000000000000000001111", "5000")
	svc := New(Config{Store: store.New("secret"), StoreSecret: "secret"})
	resp := svc.Verify(VerifyRequest{
		Authorization: auth,
		PaymentRequired: PaymentRequirement{
			Network: "eip155:84532", MaxAmountRequired: "9999999",
			PayTo: "0x00000000000000000000000000000000001111",
		},
	})
	if resp.Valid {
		t.Fatal("expected verification to fail when authorized amount is below the requirement")
	}
}

func TestGet_UnknownPaymentNotFound(t *testing.T) {
	svc := New(Config{Store: store.New("secret"), StoreSecret: "secret"})
	if _, ok := svc.Get("does-not-exist"); ok {
		t.Fatal("expected unknown payment id to be not-found")
	}
}
