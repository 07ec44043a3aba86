// Package wallet exposes the configured on-chain account to assistants.
package wallet

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/tools"
	"AgentHive/internal/web3"
)

const (
	AddressToolName = "get_wallet_address"
	BalanceToolName = "get_balance"
)

type balanceArgs struct {
	Address string `json:"address,omitempty" description:"The wallet address to check. Defaults to the configured wallet"`
	Token   string `json:"token,omitempty" description:"Optional ERC-20 token contract address. Omit for the native ETH balance"`
}

// Tools 返回绑定到 w 的钱包工具。
func Tools(w web3.Wallet) []tools.Tool {
	return []tools.Tool{AddressTool(w), BalanceTool(w)}
}

// AddressTool 返回配置钱包的校验和地址。
func AddressTool(w web3.Wallet) tools.Tool {
	return tools.NewTyped(AddressToolName,
		"Get the wallet address of the current agent",
		func(context.Context, struct{}) (any, error) {
			return w.Address().Hex(), nil
		})
}

// BalanceTool 查询原生代币或 ERC-20 代币余额。
func BalanceTool(w web3.Wallet) tools.Tool {
	return tools.NewTyped(BalanceToolName,
		"Get the ETH or ERC-20 token balance of a wallet",
		func(ctx context.Context, args balanceArgs) (any, error) {
			account := w.Address()
			if addr := strings.TrimSpace(args.Address); addr != "" {
				parsed, err := parseAddress("address", addr)
				if err != nil {
					return nil, err
				}
				account = parsed
			}

			if token := strings.TrimSpace(args.Token); token != "" {
				contract, err := parseAddress("token", token)
				if err != nil {
					return nil, err
				}
				amount, err := w.TokenBalance(ctx, contract, account)
				if err != nil {
					return nil, err
				}
				return amount.String(), nil
			}

			balance, err := w.NativeBalance(ctx, account)
			if err != nil {
				return nil, err
			}
			return web3.FormatNative(balance), nil
		})
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid %s: %s", field, value)
	}
	return common.HexToAddress(value), nil
}
