package storage

import (
	"context"
	"errors"

	"github.com/goalvault/goalvault/internal/app/domain/deposit"
	"github.com/goalvault/goalvault/internal/app/domain/goal"
)

// Sentinel errors shared by all store implementations.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateTitle = errors.New("a goal with this title already exists")
)

// GoalStore persists goals and their funding ledger.
type GoalStore interface {
	CreateGoal(ctx context.Context, g goal.Goal) (goal.Goal, error)
	GetGoal(ctx context.Context, id string) (goal.Goal, error)
	ListGoals(ctx context.Context, userID string) ([]goal.Goal, error)

	// CreditGoal atomically increments the goal's funded amount. When txHash
	// is non-empty it is recorded as an idempotency key: replaying the same
	// hash applies nothing and returns applied=false with the current goal.
	// An empty txHash skips deduplication entirely.
	CreditGoal(ctx context.Context, goalID string, amount int64, txHash string) (g goal.Goal, applied bool, err error)

	ListCredits(ctx context.Context, goalID string) ([]goal.Credit, error)
}

// DepositStore persists deposit attempts.
type DepositStore interface {
	CreateAttempt(ctx context.Context, att deposit.Attempt) (deposit.Attempt, error)
	UpdateAttempt(ctx context.Context, att deposit.Attempt) (deposit.Attempt, error)
	GetAttempt(ctx context.Context, id string) (deposit.Attempt, error)
	ListAttempts(ctx context.Context, userID string) ([]deposit.Attempt, error)

	// ListReconcilable returns failed attempts flagged for reconciliation:
	// the deposit may be (or is) confirmed on-chain while the ledger credit
	// is missing.
	ListReconcilable(ctx context.Context) ([]deposit.Attempt, error)
}
