package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ABI fragments for the two calls the workflow makes.
const (
	erc20ABIJSON = `[{"name":"approve","type":"function","stateMutability":"nonpayable",
		"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]}]`

	vaultABIJSON = `[{"name":"deposit","type":"function","stateMutability":"nonpayable",
		"inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],
		"outputs":[{"name":"shares","type":"uint256"}]}]`
)

var (
	erc20ABI = mustParseABI(erc20ABIJSON)
	vaultABI = mustParseABI(vaultABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Approve broadcasts an ERC-20 allowance grant letting spender pull amount
// tokens from the wallet. It returns the transaction hash immediately and
// does not wait for confirmation.
func Approve(ctx context.Context, w Wallet, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("approve amount must be positive")
	}
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack approve: %w", err)
	}
	return w.SendContractCall(ctx, token, data)
}

// Deposit broadcasts a vault deposit crediting shares to receiver. The amount
// must equal the amount just approved; the vault pulls it via the allowance.
func Deposit(ctx context.Context, w Wallet, vault common.Address, amount *big.Int, receiver common.Address) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("deposit amount must be positive")
	}
	data, err := vaultABI.Pack("deposit", amount, receiver)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack deposit: %w", err)
	}
	return w.SendContractCall(ctx, vault, data)
}
