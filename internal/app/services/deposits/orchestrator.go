package deposits

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/goalvault/goalvault/internal/app/domain/deposit"
	"github.com/goalvault/goalvault/internal/app/domain/goal"
	"github.com/goalvault/goalvault/internal/app/events"
	"github.com/goalvault/goalvault/internal/app/metrics"
	"github.com/goalvault/goalvault/internal/app/services/goals"
	"github.com/goalvault/goalvault/internal/app/storage"
	"github.com/goalvault/goalvault/internal/chain/evm"
	"github.com/goalvault/goalvault/pkg/logger"
)

var (
	// ErrGoalBusy is returned when the goal already has an attempt in flight.
	// One attempt per goal at a time keeps capacity checks meaningful.
	ErrGoalBusy = errors.New("a deposit for this goal is already in progress")
	// ErrOverCapacity is returned when the amount exceeds the goal's
	// remaining capacity.
	ErrOverCapacity = errors.New("amount exceeds the goal's remaining capacity")
)

// Config carries the on-chain coordinates of the deposit workflow.
type Config struct {
	// ChainID the token and vault contracts live on.
	ChainID *big.Int
	// TokenAddress is the ERC-20 asset being deposited.
	TokenAddress common.Address
	// VaultAddress is the default vault when a goal does not carry its own.
	VaultAddress common.Address
	// ConfirmTimeout bounds each confirmation wait.
	ConfirmTimeout time.Duration
}

// Orchestrator drives deposit attempts through the workflow: network guard,
// approval, vault deposit, confirmation waits and the ledger credit. Attempts
// run on the orchestrator's own context so an HTTP request ending does not
// abandon a broadcast transaction.
type Orchestrator struct {
	cfg     Config
	goals   *goals.Service
	store   storage.DepositStore
	wallet  evm.Wallet
	watcher *evm.Watcher
	hub     *events.Hub
	log     *logger.Logger

	mu     sync.Mutex
	active map[string]string // goal id -> in-flight attempt id

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator wires the workflow dependencies together.
func NewOrchestrator(cfg Config, goalSvc *goals.Service, store storage.DepositStore, wallet evm.Wallet, watcher *evm.Watcher, hub *events.Hub, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewDefault("deposits")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	return &Orchestrator{
		cfg:     cfg,
		goals:   goalSvc,
		store:   store,
		wallet:  wallet,
		watcher: watcher,
		hub:     hub,
		log:     log,
		active:  make(map[string]string),
	}
}

// Name implements system.Service.
func (o *Orchestrator) Name() string { return "deposit-orchestrator" }

// Start implements system.Service.
func (o *Orchestrator) Start(context.Context) error {
	o.runCtx, o.cancel = context.WithCancel(context.Background())
	return nil
}

// Stop implements system.Service. In-flight attempts are interrupted; any
// with a broadcast deposit are flagged for the reconciler by their timeout
// handling.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.cancel != nil {
		o.cancel()
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartRequest describes a deposit to initiate. Exactly one of GoalID and
// NewGoal must be set: fund an existing goal, or create one and fund it in
// the same flow.
type StartRequest struct {
	GoalID  string
	NewGoal *goals.CreateParams
	Amount  int64
}

// Initiate validates the request, resolves the target goal and launches the
// workflow. It returns as soon as the attempt is persisted; progress is
// observable via GetAttempt and the events hub.
func (o *Orchestrator) Initiate(ctx context.Context, userID string, req StartRequest) (deposit.Attempt, error) {
	if req.Amount <= 0 {
		return deposit.Attempt{}, goals.ErrInvalidAmount
	}
	if (req.GoalID == "") == (req.NewGoal == nil) {
		return deposit.Attempt{}, errors.New("exactly one of goal_id and new_goal must be set")
	}
	if o.runCtx == nil {
		return deposit.Attempt{}, errors.New("orchestrator not started")
	}

	// The two entry points converge on a resolved goal before any on-chain
	// step runs.
	var (
		g   goal.Goal
		err error
	)
	if req.NewGoal != nil {
		g, err = o.goals.Create(ctx, userID, *req.NewGoal)
	} else {
		g, err = o.goals.Get(ctx, userID, req.GoalID)
	}
	if err != nil {
		return deposit.Attempt{}, err
	}

	if req.Amount > g.Remaining() {
		return deposit.Attempt{}, fmt.Errorf("%w: %d remaining", ErrOverCapacity, g.Remaining())
	}

	o.mu.Lock()
	if id, busy := o.active[g.ID]; busy {
		o.mu.Unlock()
		return deposit.Attempt{}, fmt.Errorf("%w (attempt %s)", ErrGoalBusy, id)
	}
	// Reserve the slot before unlocking; released when the run loop ends.
	o.active[g.ID] = "pending"
	o.mu.Unlock()

	att, err := o.store.CreateAttempt(ctx, deposit.Attempt{
		UserID: userID,
		GoalID: g.ID,
		Amount: req.Amount,
		State:  deposit.StateIdle,
	})
	if err != nil {
		o.release(g.ID)
		return deposit.Attempt{}, err
	}

	o.mu.Lock()
	o.active[g.ID] = att.ID
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(g.ID)
		o.run(att, g)
	}()

	o.log.WithField("attempt_id", att.ID).
		WithField("goal_id", g.ID).
		WithField("amount", req.Amount).
		Info("deposit initiated")
	return att, nil
}

// GetAttempt returns an attempt, enforcing ownership.
func (o *Orchestrator) GetAttempt(ctx context.Context, userID, id string) (deposit.Attempt, error) {
	att, err := o.store.GetAttempt(ctx, id)
	if err != nil {
		return deposit.Attempt{}, err
	}
	if att.UserID != userID {
		return deposit.Attempt{}, goals.ErrForbidden
	}
	return att, nil
}

// ListAttempts returns the user's attempts, newest first.
func (o *Orchestrator) ListAttempts(ctx context.Context, userID string) ([]deposit.Attempt, error) {
	return o.store.ListAttempts(ctx, userID)
}

func (o *Orchestrator) release(goalID string) {
	o.mu.Lock()
	delete(o.active, goalID)
	o.mu.Unlock()
}

// run drives one attempt to a terminal state. Each transition is persisted
// and published before its effect executes, so observers always see the
// current phase.
func (o *Orchestrator) run(att deposit.Attempt, g goal.Goal) {
	ctx := o.runCtx
	// Shutdown cancels runCtx mid-wait; the resulting failure transition
	// (and its reconciliation flag) must still reach the store, or the
	// reconciler can never find the attempt.
	persistCtx := context.WithoutCancel(o.runCtx)
	start := time.Now()
	log := o.log.WithField("attempt_id", att.ID).WithField("goal_id", g.ID)

	vault := o.cfg.VaultAddress
	if common.IsHexAddress(g.VaultAddress) {
		vault = common.HexToAddress(g.VaultAddress)
	}

	ev := Event{Kind: EvInitiate}
	for {
		next, effect, err := Next(att.State, ev)
		if err != nil {
			log.WithError(err).Error("workflow halted on invalid transition")
			return
		}
		att.State = next
		if ev.Kind == EvStepFailed {
			att.FailureReason = ev.Reason
			att.FailureDetail = ev.Detail
			att.NeedsReconciliation = ev.Reconcile
		}

		persisted, perr := o.store.UpdateAttempt(persistCtx, att)
		if perr != nil {
			log.WithError(perr).Error("persist attempt state")
			return
		}
		att = persisted
		o.hub.Publish(att)

		if att.State.Terminal() {
			outcome := "settled"
			if att.State == deposit.StateFailed {
				outcome = "failed"
				log.WithField("reason", string(att.FailureReason)).
					WithField("reconcile", att.NeedsReconciliation).
					Warn("deposit failed")
			} else {
				log.Info("deposit settled")
			}
			metrics.RecordDepositOutcome(outcome, string(att.FailureReason), time.Since(start))
			return
		}

		ev = o.execute(ctx, effect, &att, vault)
	}
}

// execute runs one effect and reports the resulting event.
func (o *Orchestrator) execute(ctx context.Context, effect Effect, att *deposit.Attempt, vault common.Address) Event {
	switch effect {
	case EffectCheckNetwork:
		if err := evm.EnsureChain(ctx, o.wallet, o.cfg.ChainID); err != nil {
			return failure(deposit.ReasonWrongNetwork, err, false)
		}
		return Event{Kind: EvNetworkCompatible}

	case EffectBroadcastApproval:
		hash, err := evm.Approve(ctx, o.wallet, o.cfg.TokenAddress, vault, big.NewInt(att.Amount))
		if err != nil {
			if errors.Is(err, evm.ErrRejected) {
				return failure(deposit.ReasonWalletRejected, err, false)
			}
			return failure(deposit.ReasonBroadcastFailed, err, false)
		}
		att.ApprovalTxHash = hash.Hex()
		return Event{Kind: EvApprovalBroadcast, TxHash: hash.Hex()}

	case EffectAwaitApproval:
		res := o.await(ctx, att.ApprovalTxHash)
		if res.Err != nil {
			if errors.Is(res.Err, evm.ErrReverted) {
				return failure(deposit.ReasonTxReverted, res.Err, false)
			}
			// A timed-out approval leaves nothing to reconcile; the vault
			// never pulled funds.
			return failure(deposit.ReasonConfirmTimeout, res.Err, false)
		}
		return Event{Kind: EvApprovalConfirmed}

	case EffectBroadcastDeposit:
		// A deposit hash from a previous pass means the transaction is
		// already out; re-broadcasting would double-spend the allowance.
		if att.DepositTxHash == "" {
			hash, err := evm.Deposit(ctx, o.wallet, vault, big.NewInt(att.Amount), o.wallet.Address())
			if err != nil {
				if errors.Is(err, evm.ErrRejected) {
					return failure(deposit.ReasonWalletRejected, err, false)
				}
				return failure(deposit.ReasonBroadcastFailed, err, false)
			}
			att.DepositTxHash = hash.Hex()
		}
		return Event{Kind: EvDepositBroadcast, TxHash: att.DepositTxHash}

	case EffectAwaitDeposit:
		res := o.await(ctx, att.DepositTxHash)
		if res.Err != nil {
			if errors.Is(res.Err, evm.ErrReverted) {
				return failure(deposit.ReasonTxReverted, res.Err, false)
			}
			// The deposit may still confirm after the timeout, so the
			// reconciler has to check before the attempt is written off.
			return failure(deposit.ReasonConfirmTimeout, res.Err, true)
		}
		return Event{Kind: EvDepositConfirmed}

	case EffectCreditLedger:
		_, _, err := o.goals.Credit(ctx, att.UserID, att.GoalID, att.Amount, att.DepositTxHash)
		if err != nil {
			// Funds are locked in the vault but the ledger was not updated.
			return failure(deposit.ReasonLedgerFailed, err, true)
		}
		return Event{Kind: EvLedgerCredited}
	}

	return failure(deposit.ReasonInvalidInput, fmt.Errorf("no effect for state %q", att.State), false)
}

func (o *Orchestrator) await(ctx context.Context, txHash string) evm.TxResult {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()
	return <-o.watcher.Await(waitCtx, common.HexToHash(txHash))
}

func failure(reason deposit.Reason, err error, reconcile bool) Event {
	return Event{
		Kind:      EvStepFailed,
		Reason:    reason,
		Detail:    err.Error(),
		Reconcile: reconcile,
	}
}
