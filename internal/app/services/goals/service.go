// Package goals manages funding goals and their off-chain ledger.
package goals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goalvault/goalvault/internal/app/domain/goal"
	"github.com/goalvault/goalvault/internal/app/storage"
	"github.com/goalvault/goalvault/pkg/logger"
)

var (
	// ErrForbidden is returned when a caller operates on a goal they do not own.
	ErrForbidden = errors.New("goal not owned by caller")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Service manages goal records and ledger credits.
type Service struct {
	store storage.GoalStore
	log   *logger.Logger
}

// New constructs a goals service.
func New(store storage.GoalStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("goals")
	}
	return &Service{store: store, log: log}
}

// CreateParams are the caller-supplied fields of a new goal.
type CreateParams struct {
	Title        string
	Description  string
	TargetAmount int64
	VaultAddress string
	EndDate      *time.Time
}

// Create validates and persists a new goal for the user.
func (s *Service) Create(ctx context.Context, userID string, p CreateParams) (goal.Goal, error) {
	p.Title = strings.TrimSpace(p.Title)
	p.VaultAddress = strings.TrimSpace(p.VaultAddress)

	if userID == "" {
		return goal.Goal{}, errors.New("user id required")
	}
	if p.Title == "" {
		return goal.Goal{}, errors.New("title is required")
	}
	if p.VaultAddress == "" {
		return goal.Goal{}, errors.New("vault_address is required")
	}
	if p.TargetAmount <= 0 {
		return goal.Goal{}, fmt.Errorf("target_amount: %w", ErrInvalidAmount)
	}

	created, err := s.store.CreateGoal(ctx, goal.Goal{
		UserID:       userID,
		Title:        p.Title,
		Description:  strings.TrimSpace(p.Description),
		TargetAmount: p.TargetAmount,
		VaultAddress: p.VaultAddress,
		EndDate:      p.EndDate,
	})
	if err != nil {
		return goal.Goal{}, err
	}

	s.log.WithField("goal_id", created.ID).
		WithField("user_id", userID).
		Info("goal created")
	return created, nil
}

// List returns the user's goals, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]goal.Goal, error) {
	return s.store.ListGoals(ctx, userID)
}

// Get fetches a goal and enforces ownership.
func (s *Service) Get(ctx context.Context, userID, goalID string) (goal.Goal, error) {
	g, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return goal.Goal{}, err
	}
	if g.UserID != userID {
		return goal.Goal{}, ErrForbidden
	}
	return g, nil
}

// Credits returns the goal's funding history, oldest first, enforcing
// ownership.
func (s *Service) Credits(ctx context.Context, userID, goalID string) ([]goal.Credit, error) {
	if _, err := s.Get(ctx, userID, goalID); err != nil {
		return nil, err
	}
	return s.store.ListCredits(ctx, goalID)
}

// Credit applies one confirmed deposit to the goal's funded amount. The
// transaction hash, when present, deduplicates replays: a second credit with
// the same hash returns the goal unchanged with applied=false. Credits without
// a hash are applied unconditionally, which double-credits on replay — callers
// that know the on-chain hash must pass it.
func (s *Service) Credit(ctx context.Context, userID, goalID string, amount int64, txHash string) (goal.Goal, bool, error) {
	if amount <= 0 {
		return goal.Goal{}, false, ErrInvalidAmount
	}

	g, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return goal.Goal{}, false, err
	}
	if g.UserID != userID {
		return goal.Goal{}, false, ErrForbidden
	}

	updated, applied, err := s.store.CreditGoal(ctx, goalID, amount, txHash)
	if err != nil {
		return goal.Goal{}, false, err
	}

	if applied {
		s.log.WithField("goal_id", goalID).
			WithField("amount", amount).
			WithField("tx_hash", txHash).
			Info("goal credited")
	} else {
		s.log.WithField("goal_id", goalID).
			WithField("tx_hash", txHash).
			Info("duplicate credit ignored")
	}
	return updated, applied, nil
}
