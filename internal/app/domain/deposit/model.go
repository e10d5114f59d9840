package deposit

import "time"

// State is a phase of the deposit workflow. An attempt walks the states in
// order and lands on Settled, or on Failed from any non-terminal state.
type State string

const (
	StateIdle               State = "idle"
	StateNetworkCheck       State = "network_check"
	StateApproving          State = "approving"
	StateApprovalConfirming State = "approval_confirming"
	StateDepositing         State = "depositing"
	StateDepositConfirming  State = "deposit_confirming"
	StateLedgerUpdating     State = "ledger_updating"
	StateSettled            State = "settled"
	StateFailed             State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed
}

// Reason classifies why an attempt failed. The taxonomy mirrors where in the
// workflow the failure happened and what, if anything, is left dangling.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonInvalidInput     Reason = "invalid_input"
	ReasonWalletRejected   Reason = "wallet_rejected"
	ReasonWrongNetwork     Reason = "wrong_network"
	ReasonBroadcastFailed  Reason = "broadcast_failed"
	ReasonTxReverted       Reason = "transaction_reverted"
	ReasonConfirmTimeout   Reason = "confirmation_timeout"
	ReasonLedgerFailed     Reason = "ledger_update_failed"
	ReasonForbidden        Reason = "forbidden"
	ReasonConflict         Reason = "conflict"
)

// Recoverable reports whether a fresh attempt may simply be re-initiated.
// Ledger failures and timeouts leave on-chain effects behind and are handled
// by the reconciler instead.
func (r Reason) Recoverable() bool {
	switch r {
	case ReasonWalletRejected, ReasonWrongNetwork, ReasonBroadcastFailed, ReasonInvalidInput:
		return true
	}
	return false
}

// Attempt is one user-initiated transfer of funds toward one goal. Unlike the
// in-browser flow it is persisted, so a crashed process leaves enough state
// for the reconciler to finish or fail the attempt.
type Attempt struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	GoalID         string    `json:"goal_id"`
	Amount         int64     `json:"amount"`
	State          State     `json:"state"`
	ApprovalTxHash string    `json:"approval_tx_hash,omitempty"`
	DepositTxHash  string    `json:"deposit_tx_hash,omitempty"`
	FailureReason  Reason    `json:"failure_reason,omitempty"`
	FailureDetail  string    `json:"failure_detail,omitempty"`
	// NeedsReconciliation marks attempts whose on-chain deposit may have
	// landed while the off-chain ledger was not credited.
	NeedsReconciliation bool      `json:"needs_reconciliation,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
