// Package main runs the GoalVault API server: goal ledger endpoints plus the
// on-chain deposit workflow and its reconciler.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	app "github.com/goalvault/goalvault/internal/app"
	"github.com/goalvault/goalvault/internal/app/auth"
	"github.com/goalvault/goalvault/internal/app/config"
	"github.com/goalvault/goalvault/internal/app/httpapi"
	"github.com/goalvault/goalvault/internal/app/metrics"
	"github.com/goalvault/goalvault/internal/app/services/deposits"
	"github.com/goalvault/goalvault/internal/app/storage/postgres"
	"github.com/goalvault/goalvault/internal/chain/evm"
	"github.com/goalvault/goalvault/internal/middleware"
	"github.com/goalvault/goalvault/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	envFile := flag.String("env", "", "Optional .env file to load")
	flag.Parse()

	if *envFile != "" {
		_ = godotenv.Load(*envFile)
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).WithField("component", "goalvaultd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalf("goalvaultd: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	stores := app.Stores{}
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		store := postgres.New(db)
		stores.Goals = store
		stores.Deposits = store
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	chain, err := buildChain(ctx, cfg.Chain)
	if err != nil {
		return err
	}

	application, err := app.New(stores, app.Options{
		Chain: chain,
		Reconciler: deposits.ReconcilerConfig{
			Schedule:   cfg.Reconciler.Schedule,
			MaxRetries: cfg.Reconciler.MaxRetries,
		},
	}, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := application.Stop(stopCtx); err != nil {
			log.WithError(err).Error("stop services")
		}
	}()

	verifier, err := auth.NewVerifier(cfg.Auth.VerificationKey, cfg.Auth.AppID, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("configure token verifier: %w", err)
	}

	stream := httpapi.NewStreamHandler(application.Events, application.Deposits, log)
	api := httpapi.NewHandler(application.Goals, application.Deposits, stream)

	authn := middleware.NewAuthenticator(verifier, log)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	cors := middleware.NewCORS([]string{"*"})

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/", cors.Handler(limiter.Handler(authn.Handler(api))))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      metrics.InstrumentHandler(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

func buildChain(ctx context.Context, cfg config.ChainConfig) (app.Chain, error) {
	if cfg.RPCURL == "" {
		return app.Chain{}, fmt.Errorf("chain.rpc_url is required")
	}
	if cfg.PrivateKey == "" {
		return app.Chain{}, fmt.Errorf("CHAIN_PRIVATE_KEY is required")
	}

	backend, err := evm.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return app.Chain{}, fmt.Errorf("dial chain rpc: %w", err)
	}

	wallet, err := evm.NewKeyWallet(cfg.PrivateKey, cfg.ChainIDBig(), backend)
	if err != nil {
		return app.Chain{}, fmt.Errorf("build wallet: %w", err)
	}

	watcher := evm.NewWatcher(backend, cfg.Confirmations, cfg.PollInterval)

	chain := app.Chain{
		Wallet:  wallet,
		Watcher: watcher,
		Config: deposits.Config{
			ChainID:        cfg.ChainIDBig(),
			ConfirmTimeout: cfg.ConfirmTimeout,
		},
	}
	if cfg.TokenAddress != "" {
		chain.Config.TokenAddress = common.HexToAddress(cfg.TokenAddress)
	}
	if cfg.VaultAddress != "" {
		chain.Config.VaultAddress = common.HexToAddress(cfg.VaultAddress)
	}
	return chain, nil
}
