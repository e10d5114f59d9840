package deposits

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"

	"github.com/goalvault/goalvault/internal/app/domain/deposit"
	"github.com/goalvault/goalvault/internal/app/events"
	"github.com/goalvault/goalvault/internal/app/metrics"
	"github.com/goalvault/goalvault/internal/app/services/goals"
	"github.com/goalvault/goalvault/internal/app/storage"
	"github.com/goalvault/goalvault/internal/chain/evm"
	"github.com/goalvault/goalvault/pkg/logger"
)

// ReconcilerConfig controls the background sweep over dangling attempts.
type ReconcilerConfig struct {
	// Schedule is a cron expression; "@every 1m" style works too.
	Schedule string
	// CheckTimeout bounds the per-attempt receipt check.
	CheckTimeout time.Duration
	// MaxRetries bounds the ledger credit retries within one sweep.
	MaxRetries uint
}

// Reconciler finishes attempts that failed after their vault deposit was (or
// may have been) confirmed on-chain: it re-checks the transaction and either
// applies the missing ledger credit or records the definitive failure. The
// credit's transaction hash makes repeated sweeps safe.
type Reconciler struct {
	cfg     ReconcilerConfig
	goals   *goals.Service
	store   storage.DepositStore
	watcher *evm.Watcher
	hub     *events.Hub
	log     *logger.Logger

	cron   *cron.Cron
	mu     sync.Mutex // one sweep at a time
	runCtx context.Context
	cancel context.CancelFunc
}

// NewReconciler builds a reconciler sweeping on the configured schedule.
func NewReconciler(cfg ReconcilerConfig, goalSvc *goals.Service, store storage.DepositStore, watcher *evm.Watcher, hub *events.Hub, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("reconciler")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Reconciler{
		cfg:     cfg,
		goals:   goalSvc,
		store:   store,
		watcher: watcher,
		hub:     hub,
		log:     log,
	}
}

// Name implements system.Service.
func (r *Reconciler) Name() string { return "deposit-reconciler" }

// Start implements system.Service.
func (r *Reconciler) Start(context.Context) error {
	r.runCtx, r.cancel = context.WithCancel(context.Background())
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.cfg.Schedule, func() { r.Sweep(r.runCtx) }); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop implements system.Service.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.cron == nil {
		return nil
	}
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep processes every attempt flagged for reconciliation once.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempts, err := r.store.ListReconcilable(ctx)
	if err != nil {
		r.log.WithError(err).Error("list reconcilable attempts")
		return
	}
	for _, att := range attempts {
		if ctx.Err() != nil {
			return
		}
		r.reconcile(ctx, att)
	}
}

func (r *Reconciler) reconcile(ctx context.Context, att deposit.Attempt) {
	log := r.log.WithField("attempt_id", att.ID).WithField("goal_id", att.GoalID)

	if att.DepositTxHash == "" {
		// Nothing on-chain to check; the flag was set in error.
		att.NeedsReconciliation = false
		r.persist(ctx, att, log)
		metrics.RecordReconciliation("no_transaction")
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, r.cfg.CheckTimeout)
	res := <-r.watcher.Await(checkCtx, common.HexToHash(att.DepositTxHash))
	cancel()

	switch {
	case res.Confirmed():
		if err := r.credit(ctx, att); err != nil {
			// Flag stays set; the next sweep tries again.
			log.WithError(err).Error("ledger credit still failing")
			metrics.RecordReconciliation("credit_failed")
			return
		}
		att.State = deposit.StateSettled
		att.FailureReason = deposit.ReasonNone
		att.FailureDetail = ""
		att.NeedsReconciliation = false
		r.persist(ctx, att, log)
		log.Info("dangling deposit settled")
		metrics.RecordReconciliation("settled")

	case errors.Is(res.Err, evm.ErrReverted):
		att.FailureReason = deposit.ReasonTxReverted
		att.FailureDetail = res.Err.Error()
		att.NeedsReconciliation = false
		r.persist(ctx, att, log)
		log.Info("dangling deposit reverted on-chain")
		metrics.RecordReconciliation("reverted")

	default:
		// Still pending or the node was unreachable; leave the flag for the
		// next sweep.
		metrics.RecordReconciliation("pending")
	}
}

func (r *Reconciler) credit(ctx context.Context, att deposit.Attempt) error {
	return retry.Do(
		func() error {
			_, _, err := r.goals.Credit(ctx, att.UserID, att.GoalID, att.Amount, att.DepositTxHash)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(r.cfg.MaxRetries),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func (r *Reconciler) persist(ctx context.Context, att deposit.Attempt, log *logger.Logger) {
	updated, err := r.store.UpdateAttempt(ctx, att)
	if err != nil {
		log.WithError(err).Error("persist reconciled attempt")
		return
	}
	r.hub.Publish(updated)
}
