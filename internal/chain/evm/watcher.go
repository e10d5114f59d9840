package evm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReverted is returned when a watched transaction was included but failed.
var ErrReverted = errors.New("transaction reverted")

// TxResult is the terminal observation of a broadcast transaction.
type TxResult struct {
	Hash    common.Hash
	Receipt *types.Receipt
	// Err is non-nil when the transaction failed, reverted, or the wait was
	// cut short by the context (timeout / shutdown).
	Err error
}

// Confirmed reports whether the transaction landed successfully.
func (r TxResult) Confirmed() bool { return r.Err == nil && r.Receipt != nil }

// Watcher produces per-transaction confirmation observations by polling the
// backend for receipts. Watches are independent: each call runs its own
// goroutine with no shared mutable state, so any number may be active at once.
type Watcher struct {
	backend       Backend
	confirmations uint64
	interval      time.Duration
}

// NewWatcher builds a watcher confirming after the given number of block
// confirmations (minimum 1).
func NewWatcher(backend Backend, confirmations uint64, interval time.Duration) *Watcher {
	if confirmations == 0 {
		confirmations = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{backend: backend, confirmations: confirmations, interval: interval}
}

// Await subscribes to the transaction's resolution. Exactly one TxResult is
// delivered on the returned channel: confirmed, failed, or context error.
func (w *Watcher) Await(ctx context.Context, hash common.Hash) <-chan TxResult {
	out := make(chan TxResult, 1)
	go func() {
		defer close(out)
		out <- w.wait(ctx, hash)
	}()
	return out
}

// wait blocks until the transaction resolves or ctx is done.
func (w *Watcher) wait(ctx context.Context, hash common.Hash) TxResult {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for {
		r, err := w.backend.TransactionReceipt(ctx, hash)
		if err == nil && r != nil {
			receipt = r
			break
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			// Transient RPC failures are retried on the next tick; only the
			// context ends the wait.
			if ctx.Err() != nil {
				return TxResult{Hash: hash, Err: ctx.Err()}
			}
		}
		select {
		case <-ctx.Done():
			return TxResult{Hash: hash, Err: ctx.Err()}
		case <-ticker.C:
		}
	}

	// Hold until the inclusion block has the required depth.
	target := receipt.BlockNumber.Uint64() + w.confirmations - 1
	for {
		head, err := w.backend.BlockNumber(ctx)
		if err == nil && head >= target {
			break
		}
		select {
		case <-ctx.Done():
			return TxResult{Hash: hash, Err: ctx.Err()}
		case <-ticker.C:
		}
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return TxResult{
			Hash:    hash,
			Receipt: receipt,
			Err:     fmt.Errorf("%w in block %d", ErrReverted, receipt.BlockNumber.Uint64()),
		}
	}
	return TxResult{Hash: hash, Receipt: receipt}
}
