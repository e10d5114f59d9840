// Package config loads the GoalVault service configuration from a YAML file
// with environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Chain      ChainConfig      `yaml:"chain"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig controls persistence. An empty URL selects the in-memory
// stores, which is what tests and local development use.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig carries the token verification parameters.
type AuthConfig struct {
	// AppID is the expected token audience.
	AppID string `yaml:"app_id"`
	// VerificationKey is the PEM-encoded ES256 public key.
	VerificationKey string `yaml:"verification_key"`
	// Issuer overrides the default expected issuer.
	Issuer string `yaml:"issuer"`
}

// ChainConfig carries the on-chain coordinates of the deposit workflow.
type ChainConfig struct {
	RPCURL         string        `yaml:"rpc_url"`
	ChainID        int64         `yaml:"chain_id"`
	TokenAddress   string        `yaml:"token_address"`
	VaultAddress   string        `yaml:"vault_address"`
	TokenDecimals  int           `yaml:"token_decimals"`
	Confirmations  uint64        `yaml:"confirmations"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	// PrivateKey signs deposit transactions. Supply via environment, never
	// the config file.
	PrivateKey string `yaml:"-"`
}

// ReconcilerConfig controls the dangling-deposit sweep.
type ReconcilerConfig struct {
	Schedule   string `yaml:"schedule"`
	MaxRetries uint   `yaml:"max_retries"`
}

// RateLimitConfig controls per-user request throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns a configuration suitable for local development against
// Base mainnet coordinates.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Chain: ChainConfig{
			ChainID:        8453,
			TokenDecimals:  6,
			Confirmations:  1,
			ConfirmTimeout: 2 * time.Minute,
			PollInterval:   time.Second,
		},
		Reconciler: ReconcilerConfig{
			Schedule:   "@every 1m",
			MaxRetries: 3,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}

// Load reads the config file at path (optional), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "GOALVAULT_ADDR")
	setString(&cfg.Logging.Level, "GOALVAULT_LOG_LEVEL")
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Auth.AppID, "PRIVY_APP_ID")
	setString(&cfg.Auth.VerificationKey, "PRIVY_VERIFICATION_KEY")
	setString(&cfg.Auth.Issuer, "PRIVY_ISSUER")
	setString(&cfg.Chain.RPCURL, "CHAIN_RPC_URL")
	setString(&cfg.Chain.TokenAddress, "CHAIN_TOKEN_ADDRESS")
	setString(&cfg.Chain.VaultAddress, "CHAIN_VAULT_ADDRESS")
	setString(&cfg.Chain.PrivateKey, "CHAIN_PRIVATE_KEY")

	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Chain.ChainID = id
		}
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate checks the fields every deployment needs.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain.chain_id must be positive")
	}
	if c.Chain.TokenDecimals < 0 || c.Chain.TokenDecimals > 18 {
		return fmt.Errorf("chain.token_decimals out of range")
	}
	return nil
}

// ChainIDBig returns the chain id as a big integer.
func (c ChainConfig) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}
