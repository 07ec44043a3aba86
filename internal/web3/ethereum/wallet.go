// Package ethereum implements web3.Wallet for EVM compatible chains on top
// of go-ethereum's ethclient.
package ethereum

import (
	"context"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/web3"
)

const erc20ABIJSON = `[
 {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
 {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
 {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Config describes how to reach the chain and which account the wallet
// represents. Address wins over PrivateKeyHex when both are set.
type Config struct {
	RPCURL        string
	Address       string
	PrivateKeyHex string
}

// ChainReader mirrors the subset of ethclient used by the wallet.
type ChainReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Wallet implements web3.Wallet.
type Wallet struct {
	address common.Address
	reader  ChainReader
	closer  func()

	mu      sync.Mutex
	chainID *big.Int
}

var _ web3.Wallet = (*Wallet)(nil)

// NewWallet dials the RPC endpoint and resolves the wallet address.
func NewWallet(ctx context.Context, cfg Config) (*Wallet, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置以太坊 RPC 地址")
	}
	address, err := ResolveAddress(cfg.Address, cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接以太坊节点失败")
	}
	wallet := NewWalletFromBackend(client, address)
	wallet.closer = client.Close
	return wallet, nil
}

// NewWalletFromBackend wraps an existing chain reader, for example a
// simulated backend.
func NewWalletFromBackend(reader ChainReader, address common.Address) *Wallet {
	return &Wallet{address: address, reader: reader}
}

// ResolveAddress returns the configured address, or derives it from the
// private key when no address is configured.
func ResolveAddress(address, privateKeyHex string) (common.Address, error) {
	if address = strings.TrimSpace(address); address != "" {
		if !common.IsHexAddress(address) {
			return common.Address{}, xerrors.Newf(xerrors.CodeInvalidArgument, "钱包地址格式错误: %s", address)
		}
		return common.HexToAddress(address), nil
	}

	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return common.Address{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置钱包地址或私钥")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析钱包私钥失败")
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// Address returns the wallet account.
func (w *Wallet) Address() common.Address {
	return w.address
}

// NativeBalance returns the latest balance of account in wei.
func (w *Wallet) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	if w == nil || w.reader == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的钱包")
	}
	balance, err := w.reader.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendFailure, err, "查询余额失败")
	}
	return balance, nil
}

// TokenBalance reads balanceOf, decimals and symbol from an ERC-20 contract.
func (w *Wallet) TokenBalance(ctx context.Context, token, account common.Address) (web3.TokenAmount, error) {
	if w == nil || w.reader == nil {
		return web3.TokenAmount{}, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的钱包")
	}

	amount := web3.TokenAmount{Token: token}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := w.call(gctx, token, "balanceOf", account)
		if err != nil {
			return err
		}
		value, ok := out[0].(*big.Int)
		if !ok {
			return xerrors.Newf(xerrors.CodeBackendFailure, "balanceOf 返回了意外类型 %T", out[0])
		}
		amount.Raw = value
		return nil
	})
	g.Go(func() error {
		out, err := w.call(gctx, token, "decimals")
		if err != nil {
			return err
		}
		value, ok := out[0].(uint8)
		if !ok {
			return xerrors.Newf(xerrors.CodeBackendFailure, "decimals 返回了意外类型 %T", out[0])
		}
		amount.Decimals = value
		return nil
	})
	g.Go(func() error {
		// 部分代币没有实现 symbol，缺失时只展示数值。
		out, err := w.call(gctx, token, "symbol")
		if err != nil {
			return nil
		}
		if value, ok := out[0].(string); ok {
			amount.Symbol = value
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return web3.TokenAmount{}, err
	}
	return amount, nil
}

// ChainID returns the chain id, cached after the first successful call.
func (w *Wallet) ChainID(ctx context.Context) (*big.Int, error) {
	if w == nil || w.reader == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的钱包")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.chainID != nil {
		return new(big.Int).Set(w.chainID), nil
	}
	id, err := w.reader.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendFailure, err, "获取链 ID 失败")
	}
	w.chainID = new(big.Int).Set(id)
	return id, nil
}

// Close releases the RPC connection when the wallet owns one.
func (w *Wallet) Close() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer != nil {
		w.closer()
		w.closer = nil
	}
}

func (w *Wallet) call(ctx context.Context, contract common.Address, method string, args ...any) ([]any, error) {
	input, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码合约调用失败")
	}
	output, err := w.reader.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendFailure, err, "调用合约 "+method+" 失败")
	}
	if len(output) == 0 {
		return nil, xerrors.Newf(xerrors.CodeBackendFailure, "合约 %s 未返回 %s 结果", contract.Hex(), method)
	}
	values, err := erc20ABI.Unpack(method, output)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendFailure, err, "解码合约返回值失败")
	}
	if len(values) == 0 {
		return nil, xerrors.Newf(xerrors.CodeBackendFailure, "合约 %s 未返回 %s 结果", contract.Hex(), method)
	}
	return values, nil
}
