package app

import (
	"context"

	"github.com/goalvault/goalvault/internal/app/events"
	"github.com/goalvault/goalvault/internal/app/services/deposits"
	goalsvc "github.com/goalvault/goalvault/internal/app/services/goals"
	"github.com/goalvault/goalvault/internal/app/storage"
	"github.com/goalvault/goalvault/internal/app/storage/memory"
	"github.com/goalvault/goalvault/internal/app/system"
	"github.com/goalvault/goalvault/internal/chain/evm"
	"github.com/goalvault/goalvault/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Goals    storage.GoalStore
	Deposits storage.DepositStore
}

// Chain encapsulates the on-chain dependencies of the deposit workflow.
type Chain struct {
	Wallet  evm.Wallet
	Watcher *evm.Watcher
	Config  deposits.Config
}

// Options bundles everything New needs beyond the stores.
type Options struct {
	Chain      Chain
	Reconciler deposits.ReconcilerConfig
}

// Application ties the domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Goals    *goalsvc.Service
	Deposits *deposits.Orchestrator
	Events   *events.Hub
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Goals == nil {
		stores.Goals = mem
	}
	if stores.Deposits == nil {
		stores.Deposits = mem
	}

	manager := system.NewManager(log)
	hub := events.NewHub()

	goalService := goalsvc.New(stores.Goals, log)
	orchestrator := deposits.NewOrchestrator(
		opts.Chain.Config,
		goalService,
		stores.Deposits,
		opts.Chain.Wallet,
		opts.Chain.Watcher,
		hub,
		log,
	)
	reconciler := deposits.NewReconciler(
		opts.Reconciler,
		goalService,
		stores.Deposits,
		opts.Chain.Watcher,
		hub,
		log,
	)

	for _, svc := range []system.Service{orchestrator, reconciler} {
		manager.Register(svc)
	}

	return &Application{
		manager:  manager,
		log:      log,
		Goals:    goalService,
		Deposits: orchestrator,
		Events:   hub,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) {
	a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services in reverse registration order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
