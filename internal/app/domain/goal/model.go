package goal

import "time"

// Goal is a funding target owned by one user. Monetary fields are fixed-point
// integers in the vault token's smallest unit (6 decimals for USDC).
type Goal struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	TargetAmount  int64      `json:"target_amount"`
	CurrentFunded int64      `json:"current_funded_amount"`
	VaultAddress  string     `json:"vault_address"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Remaining returns the capacity still open for deposits. The ledger never
// decreases, so this can only shrink over the goal's lifetime.
func (g Goal) Remaining() int64 {
	r := g.TargetAmount - g.CurrentFunded
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether the goal's end date has passed.
func (g Goal) Expired(now time.Time) bool {
	return g.EndDate != nil && now.After(*g.EndDate)
}

// Credit records one confirmed on-chain deposit applied to a goal. TxHash is
// unique across all credits so a deposit can never be applied twice.
type Credit struct {
	ID        string    `json:"id"`
	GoalID    string    `json:"goal_id"`
	Amount    int64     `json:"amount"`
	TxHash    string    `json:"tx_hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
