package feekernel

import "testing"

func TestParseDecimalUnits(t *testing.T) {
	cases := map[string]int64{
		"0.005":   5000,
		"0.000001": 1,
		"1":       1_000_000,
		"1.5":     1_500_000,
		"0":       0,
	}
	for in, want := range cases {
		got, err := ParseDecimalUnits(in)
		if err != nil {
			t.Fatalf("ParseDecimalUnits(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseDecimalUnits(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseDecimalUnitsRejectsExtraPrecision(t *testing.T) {
	if _, err := ParseDecimalUnits("0.0000001"); err == nil {
		t.Fatalf("expected an error for 7 decimal places")
	}
}

func TestParseDecimalUnitsRejectsNegative(t *testing.T) {
	if _, err := ParseDecimalUnits("-1"); err == nil {
		t.Fatalf("expected an error for a negative amount")
	}
}
