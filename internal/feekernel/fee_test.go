package feekernel

import "testing"

func TestSplitAmount_NoConfig(t *testing.T) {
	s, err := SplitAmount(5000, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.PlatformFee != 0 || s.SellerAmount != 5000 || s.TotalAmount != 5000 {
		t.Fatalf("unexpected split: %+v", s)
	}
}

func TestSplitAmount_S1HappyPath(t *testing.T) {
	// Price 0.005 USDC (5000 micro-USDC), feeBps=300.
	s, err := SplitAmount(5000, &Config{FeeBps: 300, PlatformWallet: "0xPlatform"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.PlatformFee != 150 {
		t.Fatalf("platformFee = %d, want 150", s.PlatformFee)
	}
	if s.SellerAmount != 4850 {
		t.Fatalf("sellerAmount = %d, want 4850", s.SellerAmount)
	}
	if s.PlatformFee+s.SellerAmount != s.TotalAmount {
		t.Fatalf("fee conservation violated: %+v", s)
	}
}

func TestSplitAmount_Conservation(t *testing.T) {
	// Fee conservation over a spread of amounts and bps that don't
	// divide evenly.
	amounts := []int64{1, 7, 100, 1234567, 999999999}
	bpsValues := []int64{0, 1, 3, 50, 250, 9999, 10000}
	for _, amt := range amounts {
		for _, bps := range bpsValues {
			s, err := SplitAmount(amt, &Config{FeeBps: bps, PlatformWallet: "0xP"})
			if err != nil {
				t.Fatalf("SplitAmount(%d,%d): %v", amt, bps, err)
			}
			if s.PlatformFee+s.SellerAmount != amt {
				t.Fatalf("conservation violated for amt=%d bps=%d: %+v", amt, bps, s)
			}
			if s.PlatformFee < 0 || s.SellerAmount < 0 {
				t.Fatalf("negative split for amt=%d bps=%d: %+v", amt, bps, s)
			}
		}
	}
}

func TestSplitAmount_InvalidBps(t *testing.T) {
	if _, err := SplitAmount(100, &Config{FeeBps: 10001}); err == nil {
		t.Fatal("expected error for feeBps > 10000")
	}
	if _, err := SplitAmount(100, &Config{FeeBps: -1}); err == nil {
		t.Fatal("expected error for negative feeBps")
	}
}

func TestSplitAmount_NegativeAmount(t *testing.T) {
	if _, err := SplitAmount(-1, nil); err == nil {
		t.Fatal("expected error for negative amount")
	}
}
