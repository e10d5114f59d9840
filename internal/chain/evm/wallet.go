package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrRejected is returned when the wallet declines to sign a request.
	// The attempt may simply be re-initiated; nothing was broadcast.
	ErrRejected = errors.New("wallet rejected the request")
	// ErrWrongNetwork is returned when the wallet is connected to a chain
	// other than the one a transaction requires.
	ErrWrongNetwork = errors.New("wallet connected to wrong network")
)

// Wallet signs and broadcasts contract calls on behalf of the depositor.
type Wallet interface {
	// Address is the depositor address transactions originate from.
	Address() common.Address
	// ChainID is the chain the wallet is currently connected to.
	ChainID() *big.Int
	// SwitchChain asks the wallet to connect to another chain. The outcome
	// is not guaranteed; a rejection surfaces as ErrRejected.
	SwitchChain(ctx context.Context, chainID *big.Int) error
	// SendContractCall signs and broadcasts a contract invocation and
	// returns its transaction hash without waiting for inclusion.
	SendContractCall(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// KeyWallet is a single-key wallet bound to one chain, signing with a locally
// held private key and broadcasting through a Backend.
type KeyWallet struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	chainID  *big.Int
	backend  Backend
	gasLimit uint64 // fallback when estimation fails
}

var _ Wallet = (*KeyWallet)(nil)

// NewKeyWallet builds a wallet from a hex-encoded private key.
func NewKeyWallet(hexKey string, chainID *big.Int, backend Backend) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("chain id required")
	}
	return &KeyWallet{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		chainID:  new(big.Int).Set(chainID),
		backend:  backend,
		gasLimit: 300_000,
	}, nil
}

func (w *KeyWallet) Address() common.Address { return w.address }

func (w *KeyWallet) ChainID() *big.Int { return new(big.Int).Set(w.chainID) }

// SwitchChain always fails: a key wallet has no user to prompt and its key is
// provisioned for exactly one chain.
func (w *KeyWallet) SwitchChain(_ context.Context, chainID *big.Int) error {
	if w.chainID.Cmp(chainID) == 0 {
		return nil
	}
	return fmt.Errorf("%w: cannot switch to chain %s", ErrRejected, chainID)
}

func (w *KeyWallet) SendContractCall(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	gasLimit, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: w.address,
		To:   &to,
		Data: data,
	})
	if err != nil || gasLimit == 0 {
		gasLimit = w.gasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("broadcast transaction: %w", err)
	}
	return signed.Hash(), nil
}

// EnsureChain is the network compatibility guard: it verifies the wallet is on
// the required chain before any transaction is submitted. On mismatch it
// issues a switch request and fails either way — after a switch attempt the
// deposit must be re-initiated, the guard never auto-resumes.
func EnsureChain(ctx context.Context, w Wallet, required *big.Int) error {
	if w.ChainID().Cmp(required) == 0 {
		return nil
	}
	if err := w.SwitchChain(ctx, required); err != nil {
		return fmt.Errorf("%w: switch to chain %s failed: %v", ErrWrongNetwork, required, err)
	}
	return fmt.Errorf("%w: switched to chain %s, re-initiate the deposit", ErrWrongNetwork, required)
}
