package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/thrisw/tpslkeeper/internal/domain"
)

// Config is the full keeper configuration.
type Config struct {
	Feed    FeedConfig    `yaml:"feed"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Orders  []OrderConfig `yaml:"orders"`
}

// FeedConfig controls the price stream connection.
type FeedConfig struct {
	WSBase                  string `yaml:"ws_base"`
	ReconnectInitialSeconds int    `yaml:"reconnect_initial_seconds"`
	ReconnectMaxSeconds     int    `yaml:"reconnect_max_seconds"`
	ReconnectMaxRetries     int    `yaml:"reconnect_max_retries"`
}

// LedgerConfig points the gateway at an RPC node and the tpsl program.
type LedgerConfig struct {
	RPCURL                string `yaml:"rpc_url"`
	ProgramID             string `yaml:"program_id"`
	PriceUpdateAccount    string `yaml:"price_update_account"`
	KeypairPath           string `yaml:"keypair_path"`
	Commitment            string `yaml:"commitment"` // confirmed | finalized
	ConfirmTimeoutSeconds int    `yaml:"confirm_timeout_seconds"`
}

// EngineConfig controls the run loop.
type EngineConfig struct {
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds"`
}

// StorageConfig controls local persistence. An empty DSN disables it.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// OrderConfig is one conditional order declared for watching.
type OrderConfig struct {
	ID         uint64  `yaml:"id"`
	Pair       string  `yaml:"pair"`
	InputMint  string  `yaml:"input_mint"`
	OutputMint string  `yaml:"output_mint"`
	Amount     uint64  `yaml:"amount"`
	Threshold  float64 `yaml:"threshold"`
	Kind       string  `yaml:"kind"` // TP | SL
}

// Order converts the config entry to a domain order.
func (o OrderConfig) Order() domain.Order {
	return domain.Order{
		ID:         o.ID,
		Pair:       o.Pair,
		InputMint:  o.InputMint,
		OutputMint: o.OutputMint,
		Amount:     o.Amount,
		Threshold:  o.Threshold,
		Kind:       domain.OrderKind(o.Kind),
	}
}

// Load reads the YAML config plus the .env file if present. Values from
// the environment override the YAML for the keys that map.
func Load(path string) (*Config, error) {
	// Load .env if present (silences the error when there is none)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// ReconnectInitial returns the feed's initial backoff as a Duration.
func (c *Config) ReconnectInitial() time.Duration {
	return time.Duration(c.Feed.ReconnectInitialSeconds) * time.Second
}

// ReconnectMax returns the feed's backoff cap as a Duration.
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Feed.ReconnectMaxSeconds) * time.Second
}

// ConfirmTimeout returns the ledger confirmation window as a Duration.
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Ledger.ConfirmTimeoutSeconds) * time.Second
}

// ShutdownGrace returns the engine's dispatch grace as a Duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Engine.ShutdownGraceSeconds) * time.Second
}

// applyEnvOverrides overrides values from environment variables when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.Ledger.RPCURL = v
	}
	if v := os.Getenv("KEYPAIR_PATH"); v != "" {
		cfg.Ledger.KeypairPath = v
	}
}

// setDefaults fills required values with sensible ones.
func setDefaults(cfg *Config) {
	if cfg.Feed.WSBase == "" {
		cfg.Feed.WSBase = "wss://stream.binance.com:9443/ws"
	}
	if cfg.Feed.ReconnectInitialSeconds <= 0 {
		cfg.Feed.ReconnectInitialSeconds = 1
	}
	if cfg.Feed.ReconnectMaxSeconds <= 0 {
		cfg.Feed.ReconnectMaxSeconds = 30
	}
	if cfg.Feed.ReconnectMaxRetries <= 0 {
		cfg.Feed.ReconnectMaxRetries = 10
	}
	if cfg.Ledger.RPCURL == "" {
		cfg.Ledger.RPCURL = "https://api.devnet.solana.com"
	}
	if cfg.Ledger.Commitment == "" {
		cfg.Ledger.Commitment = "confirmed"
	}
	if cfg.Ledger.ConfirmTimeoutSeconds <= 0 {
		cfg.Ledger.ConfirmTimeoutSeconds = 60
	}
	if cfg.Engine.ShutdownGraceSeconds <= 0 {
		cfg.Engine.ShutdownGraceSeconds = 45
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate checks the fields without workable defaults.
func (c *Config) validate() error {
	if c.Ledger.ProgramID == "" {
		return fmt.Errorf("ledger.program_id is required")
	}
	if c.Ledger.PriceUpdateAccount == "" {
		return fmt.Errorf("ledger.price_update_account is required")
	}
	if c.Ledger.KeypairPath == "" {
		return fmt.Errorf("ledger.keypair_path is required")
	}
	if c.Ledger.Commitment != "confirmed" && c.Ledger.Commitment != "finalized" {
		return fmt.Errorf("ledger.commitment must be confirmed or finalized, got %q", c.Ledger.Commitment)
	}

	seen := make(map[uint64]bool)
	for _, o := range c.Orders {
		if err := o.Order().Validate(); err != nil {
			return err
		}
		// The on-chain program compares whole price units, so a
		// fractional threshold would silently watch a different price
		// than the escrow enforces.
		if o.Threshold != math.Trunc(o.Threshold) {
			return fmt.Errorf("order %d: threshold %v must be a whole number of price units", o.ID, o.Threshold)
		}
		if seen[o.ID] {
			return fmt.Errorf("order %d: %w", o.ID, domain.ErrDuplicateID)
		}
		seen[o.ID] = true
	}
	return nil
}
