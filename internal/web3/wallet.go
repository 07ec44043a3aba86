package web3

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeSymbol 是原生代币的展示符号。
const NativeSymbol = "ETH"

// NativeDecimals 是原生代币的精度。
const NativeDecimals = 18

// Wallet defines the read-only view of a configured account that on-chain
// tools depend on.
type Wallet interface {
	Address() common.Address
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, account common.Address) (TokenAmount, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// TokenAmount is an ERC-20 balance together with the token metadata needed
// to render it.
type TokenAmount struct {
	Token    common.Address
	Raw      *big.Int
	Decimals uint8
	Symbol   string
}

// String renders the amount as "<value> <symbol>".
func (a TokenAmount) String() string {
	value := FormatUnits(a.Raw, int(a.Decimals))
	if strings.TrimSpace(a.Symbol) == "" {
		return value
	}
	return value + " " + a.Symbol
}

// FormatNative renders a wei amount as "<n> ETH".
func FormatNative(wei *big.Int) string {
	return FormatUnits(wei, NativeDecimals) + " " + NativeSymbol
}

// FormatUnits converts an integer amount with the given decimals into a
// decimal string without trailing zeros.
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	if decimals <= 0 {
		return value.String()
	}

	negative := value.Sign() < 0
	digits := new(big.Int).Abs(value).String()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	fraction := strings.TrimRight(digits[len(digits)-decimals:], "0")

	out := whole
	if fraction != "" {
		out += "." + fraction
	}
	if negative {
		out = "-" + out
	}
	return out
}
