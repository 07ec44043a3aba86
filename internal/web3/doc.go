// Package web3 houses read-only blockchain access for agents: the wallet
// abstraction used by the on-chain tools, ERC-20 token amounts and unit
// formatting helpers. Concrete EVM clients live in subpackages.
package web3
