package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goalvault/goalvault/internal/app/domain/deposit"
	"github.com/goalvault/goalvault/internal/app/domain/goal"
	"github.com/goalvault/goalvault/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	goals         map[string]goal.Goal
	creditsByHash map[string]goal.Credit
	credits       map[string][]goal.Credit
	attempts      map[string]deposit.Attempt
}

var _ storage.GoalStore = (*Store)(nil)
var _ storage.DepositStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		goals:         make(map[string]goal.Goal),
		creditsByHash: make(map[string]goal.Credit),
		credits:       make(map[string][]goal.Credit),
		attempts:      make(map[string]deposit.Attempt),
	}
}

// GoalStore implementation ----------------------------------------------------

func (s *Store) CreateGoal(_ context.Context, g goal.Goal) (goal.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.goals {
		if existing.UserID == g.UserID && strings.EqualFold(existing.Title, g.Title) {
			return goal.Goal{}, storage.ErrDuplicateTitle
		}
	}

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now
	s.goals[g.ID] = g
	return g, nil
}

func (s *Store) GetGoal(_ context.Context, id string) (goal.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[id]
	if !ok {
		return goal.Goal{}, storage.ErrNotFound
	}
	return g, nil
}

func (s *Store) ListGoals(_ context.Context, userID string) ([]goal.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []goal.Goal
	for _, g := range s.goals {
		if g.UserID == userID {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) CreditGoal(_ context.Context, goalID string, amount int64, txHash string) (goal.Goal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.goals[goalID]
	if !ok {
		return goal.Goal{}, false, storage.ErrNotFound
	}

	if txHash != "" {
		if _, seen := s.creditsByHash[txHash]; seen {
			return g, false, nil
		}
	}

	now := time.Now().UTC()
	credit := goal.Credit{
		ID:        uuid.NewString(),
		GoalID:    goalID,
		Amount:    amount,
		TxHash:    txHash,
		CreatedAt: now,
	}
	if txHash != "" {
		s.creditsByHash[txHash] = credit
	}
	s.credits[goalID] = append(s.credits[goalID], credit)

	g.CurrentFunded += amount
	g.UpdatedAt = now
	s.goals[goalID] = g
	return g, true, nil
}

func (s *Store) ListCredits(_ context.Context, goalID string) ([]goal.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]goal.Credit, len(s.credits[goalID]))
	copy(out, s.credits[goalID])
	return out, nil
}

// DepositStore implementation -------------------------------------------------

func (s *Store) CreateAttempt(_ context.Context, att deposit.Attempt) (deposit.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	att.CreatedAt = now
	att.UpdatedAt = now
	s.attempts[att.ID] = att
	return att, nil
}

func (s *Store) UpdateAttempt(_ context.Context, att deposit.Attempt) (deposit.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.attempts[att.ID]
	if !ok {
		return deposit.Attempt{}, storage.ErrNotFound
	}
	att.CreatedAt = existing.CreatedAt
	att.UpdatedAt = time.Now().UTC()
	s.attempts[att.ID] = att
	return att, nil
}

func (s *Store) GetAttempt(_ context.Context, id string) (deposit.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	att, ok := s.attempts[id]
	if !ok {
		return deposit.Attempt{}, storage.ErrNotFound
	}
	return att, nil
}

func (s *Store) ListAttempts(_ context.Context, userID string) ([]deposit.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []deposit.Attempt
	for _, att := range s.attempts {
		if att.UserID == userID {
			result = append(result, att)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ListReconcilable(_ context.Context) ([]deposit.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []deposit.Attempt
	for _, att := range s.attempts {
		if att.NeedsReconciliation {
			result = append(result, att)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
