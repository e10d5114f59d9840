// Package deposits orchestrates the multi-step deposit workflow: network
// guard, token approval, vault deposit, confirmation watching and the final
// ledger credit.
package deposits

import (
	"fmt"

	"github.com/goalvault/goalvault/internal/app/domain/deposit"
)

// EventKind is what happened during an attempt.
type EventKind int

const (
	EvInitiate EventKind = iota
	EvNetworkCompatible
	EvApprovalBroadcast
	EvApprovalConfirmed
	EvDepositBroadcast
	EvDepositConfirmed
	EvLedgerCredited
	EvStepFailed
)

// Event carries a workflow occurrence into the state machine.
type Event struct {
	Kind   EventKind
	TxHash string
	// Failure description, set for EvStepFailed.
	Reason deposit.Reason
	Detail string
	// Reconcile marks failures that leave a confirmed (or possibly
	// confirmed) on-chain deposit without a matching ledger credit.
	Reconcile bool
}

// Effect is the side effect the orchestrator must run after a transition.
type Effect int

const (
	EffectNone Effect = iota
	EffectCheckNetwork
	EffectBroadcastApproval
	EffectAwaitApproval
	EffectBroadcastDeposit
	EffectAwaitDeposit
	EffectCreditLedger
)

// Next is the pure transition function of the deposit workflow. It maps the
// current state and an event to the next state and the effect to execute,
// with no I/O, so every path is testable in isolation.
//
// Every non-terminal state moves to Failed on EvStepFailed. All other
// (state, event) pairs are protocol violations.
func Next(s deposit.State, ev Event) (deposit.State, Effect, error) {
	if ev.Kind == EvStepFailed {
		if s.Terminal() || s == deposit.StateIdle {
			return s, EffectNone, fmt.Errorf("invalid transition: %s on %q", eventName(ev.Kind), s)
		}
		return deposit.StateFailed, EffectNone, nil
	}

	switch s {
	case deposit.StateIdle:
		if ev.Kind == EvInitiate {
			return deposit.StateNetworkCheck, EffectCheckNetwork, nil
		}
	case deposit.StateNetworkCheck:
		if ev.Kind == EvNetworkCompatible {
			return deposit.StateApproving, EffectBroadcastApproval, nil
		}
	case deposit.StateApproving:
		if ev.Kind == EvApprovalBroadcast {
			return deposit.StateApprovalConfirming, EffectAwaitApproval, nil
		}
	case deposit.StateApprovalConfirming:
		if ev.Kind == EvApprovalConfirmed {
			return deposit.StateDepositing, EffectBroadcastDeposit, nil
		}
	case deposit.StateDepositing:
		if ev.Kind == EvDepositBroadcast {
			return deposit.StateDepositConfirming, EffectAwaitDeposit, nil
		}
	case deposit.StateDepositConfirming:
		if ev.Kind == EvDepositConfirmed {
			return deposit.StateLedgerUpdating, EffectCreditLedger, nil
		}
	case deposit.StateLedgerUpdating:
		if ev.Kind == EvLedgerCredited {
			return deposit.StateSettled, EffectNone, nil
		}
	}
	return s, EffectNone, fmt.Errorf("invalid transition: %s on %q", eventName(ev.Kind), s)
}

func eventName(k EventKind) string {
	switch k {
	case EvInitiate:
		return "initiate"
	case EvNetworkCompatible:
		return "network_compatible"
	case EvApprovalBroadcast:
		return "approval_broadcast"
	case EvApprovalConfirmed:
		return "approval_confirmed"
	case EvDepositBroadcast:
		return "deposit_broadcast"
	case EvDepositConfirmed:
		return "deposit_confirmed"
	case EvLedgerCredited:
		return "ledger_credited"
	case EvStepFailed:
		return "step_failed"
	}
	return "unknown"
}
