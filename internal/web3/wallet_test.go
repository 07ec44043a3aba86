package web3

import (
	"math/big"
	"testing"
)

func TestFormatUnits(t *testing.T) {
	oneAndHalf, _ := new(big.Int).SetString("1500000000000000000", 10)
	cases := []struct {
		value    *big.Int
		decimals int
		want     string
	}{
		{nil, 18, "0"},
		{big.NewInt(0), 18, "0"},
		{oneAndHalf, 18, "1.5"},
		{big.NewInt(1), 18, "0.000000000000000001"},
		{big.NewInt(1234500), 6, "1.2345"},
		{big.NewInt(-250), 2, "-2.5"},
		{big.NewInt(42), 0, "42"},
	}
	for _, tc := range cases {
		if got := FormatUnits(tc.value, tc.decimals); got != tc.want {
			t.Fatalf("FormatUnits(%v, %d) = %q, want %q", tc.value, tc.decimals, got, tc.want)
		}
	}
}

func TestTokenAmountString(t *testing.T) {
	amount := TokenAmount{Raw: big.NewInt(2500000), Decimals: 6, Symbol: "USDC"}
	if got := amount.String(); got != "2.5 USDC" {
		t.Fatalf("unexpected amount %q", got)
	}
	if got := FormatNative(big.NewInt(1_000_000_000_000_000_000)); got != "1 ETH" {
		t.Fatalf("unexpected native amount %q", got)
	}
}
