// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/goalvault/goalvault/internal/app/domain/deposit"
	"github.com/goalvault/goalvault/internal/app/domain/goal"
	"github.com/goalvault/goalvault/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.GoalStore = (*Store)(nil)
var _ storage.DepositStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type goalRow struct {
	ID            string       `db:"id"`
	UserID        string       `db:"user_id"`
	Title         string       `db:"title"`
	Description   string       `db:"description"`
	TargetAmount  int64        `db:"target_amount"`
	CurrentFunded int64        `db:"current_funded_amount"`
	VaultAddress  string       `db:"vault_address"`
	EndDate       sql.NullTime `db:"end_date"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r goalRow) toDomain() goal.Goal {
	g := goal.Goal{
		ID:            r.ID,
		UserID:        r.UserID,
		Title:         r.Title,
		Description:   r.Description,
		TargetAmount:  r.TargetAmount,
		CurrentFunded: r.CurrentFunded,
		VaultAddress:  r.VaultAddress,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.EndDate.Valid {
		end := r.EndDate.Time
		g.EndDate = &end
	}
	return g
}

// --- GoalStore ---------------------------------------------------------------

func (s *Store) CreateGoal(ctx context.Context, g goal.Goal) (goal.Goal, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	var endDate sql.NullTime
	if g.EndDate != nil {
		endDate = sql.NullTime{Time: g.EndDate.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, user_id, title, description, target_amount,
			current_funded_amount, vault_address, end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, g.ID, g.UserID, g.Title, g.Description, g.TargetAmount,
		g.CurrentFunded, g.VaultAddress, endDate, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "goals_user_title_key") {
			return goal.Goal{}, storage.ErrDuplicateTitle
		}
		return goal.Goal{}, err
	}
	return g, nil
}

func (s *Store) GetGoal(ctx context.Context, id string) (goal.Goal, error) {
	var row goalRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, title, description, target_amount,
			current_funded_amount, vault_address, end_date, created_at, updated_at
		FROM goals
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return goal.Goal{}, storage.ErrNotFound
	}
	if err != nil {
		return goal.Goal{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListGoals(ctx context.Context, userID string) ([]goal.Goal, error) {
	var rows []goalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, title, description, target_amount,
			current_funded_amount, vault_address, end_date, created_at, updated_at
		FROM goals
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}

	result := make([]goal.Goal, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// CreditGoal increments the goal's funded amount inside one transaction. The
// credit row insert and the balance update either both land or neither does,
// and the increment happens in SQL so concurrent credits cannot lose updates.
func (s *Store) CreditGoal(ctx context.Context, goalID string, amount int64, txHash string) (goal.Goal, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return goal.Goal{}, false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var hash sql.NullString
	if txHash != "" {
		hash = sql.NullString{String: txHash, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO goal_credits (id, goal_id, amount, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tx_hash) WHERE tx_hash IS NOT NULL DO NOTHING
	`, uuid.NewString(), goalID, amount, hash, now)
	if err != nil {
		return goal.Goal{}, false, err
	}

	inserted, _ := res.RowsAffected()
	if inserted == 0 {
		// Idempotency replay: the hash was already credited.
		g, err := s.GetGoal(ctx, goalID)
		return g, false, err
	}

	var row goalRow
	err = tx.GetContext(ctx, &row, `
		UPDATE goals
		SET current_funded_amount = current_funded_amount + $2, updated_at = $3
		WHERE id = $1
		RETURNING id, user_id, title, description, target_amount,
			current_funded_amount, vault_address, end_date, created_at, updated_at
	`, goalID, amount, now)
	if errors.Is(err, sql.ErrNoRows) {
		return goal.Goal{}, false, storage.ErrNotFound
	}
	if err != nil {
		return goal.Goal{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return goal.Goal{}, false, err
	}
	return row.toDomain(), true, nil
}

func (s *Store) ListCredits(ctx context.Context, goalID string) ([]goal.Credit, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, goal_id, amount, tx_hash, created_at
		FROM goal_credits
		WHERE goal_id = $1
		ORDER BY created_at
	`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []goal.Credit
	for rows.Next() {
		var (
			c    goal.Credit
			hash sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.GoalID, &c.Amount, &hash, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.TxHash = hash.String
		result = append(result, c)
	}
	return result, rows.Err()
}

// --- DepositStore ------------------------------------------------------------

type attemptRow struct {
	ID                  string    `db:"id"`
	UserID              string    `db:"user_id"`
	GoalID              string    `db:"goal_id"`
	Amount              int64     `db:"amount"`
	State               string    `db:"state"`
	ApprovalTxHash      string    `db:"approval_tx_hash"`
	DepositTxHash       string    `db:"deposit_tx_hash"`
	FailureReason       string    `db:"failure_reason"`
	FailureDetail       string    `db:"failure_detail"`
	NeedsReconciliation bool      `db:"needs_reconciliation"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r attemptRow) toDomain() deposit.Attempt {
	return deposit.Attempt{
		ID:                  r.ID,
		UserID:              r.UserID,
		GoalID:              r.GoalID,
		Amount:              r.Amount,
		State:               deposit.State(r.State),
		ApprovalTxHash:      r.ApprovalTxHash,
		DepositTxHash:       r.DepositTxHash,
		FailureReason:       deposit.Reason(r.FailureReason),
		FailureDetail:       r.FailureDetail,
		NeedsReconciliation: r.NeedsReconciliation,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

const attemptColumns = `id, user_id, goal_id, amount, state, approval_tx_hash,
	deposit_tx_hash, failure_reason, failure_detail, needs_reconciliation,
	created_at, updated_at`

func (s *Store) CreateAttempt(ctx context.Context, att deposit.Attempt) (deposit.Attempt, error) {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	att.CreatedAt = now
	att.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deposit_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, att.ID, att.UserID, att.GoalID, att.Amount, string(att.State),
		att.ApprovalTxHash, att.DepositTxHash, string(att.FailureReason),
		att.FailureDetail, att.NeedsReconciliation, att.CreatedAt, att.UpdatedAt)
	if err != nil {
		return deposit.Attempt{}, err
	}
	return att, nil
}

func (s *Store) UpdateAttempt(ctx context.Context, att deposit.Attempt) (deposit.Attempt, error) {
	att.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE deposit_attempts
		SET state = $2, approval_tx_hash = $3, deposit_tx_hash = $4,
			failure_reason = $5, failure_detail = $6, needs_reconciliation = $7,
			updated_at = $8
		WHERE id = $1
	`, att.ID, string(att.State), att.ApprovalTxHash, att.DepositTxHash,
		string(att.FailureReason), att.FailureDetail, att.NeedsReconciliation,
		att.UpdatedAt)
	if err != nil {
		return deposit.Attempt{}, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return deposit.Attempt{}, storage.ErrNotFound
	}
	return att, nil
}

func (s *Store) GetAttempt(ctx context.Context, id string) (deposit.Attempt, error) {
	var row attemptRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+attemptColumns+` FROM deposit_attempts WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return deposit.Attempt{}, storage.ErrNotFound
	}
	if err != nil {
		return deposit.Attempt{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListAttempts(ctx context.Context, userID string) ([]deposit.Attempt, error) {
	var rows []attemptRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+attemptColumns+` FROM deposit_attempts
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}

	result := make([]deposit.Attempt, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) ListReconcilable(ctx context.Context) ([]deposit.Attempt, error) {
	var rows []attemptRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+attemptColumns+` FROM deposit_attempts
		WHERE needs_reconciliation
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}

	result := make([]deposit.Attempt, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}
