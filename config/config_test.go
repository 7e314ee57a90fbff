package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thrisw/tpslkeeper/config"
	"github.com/thrisw/tpslkeeper/internal/domain"
)

const validYAML = `
feed:
  ws_base: "wss://stream.binance.com:9443/ws"
  reconnect_max_retries: 5

ledger:
  rpc_url: "https://api.devnet.solana.com"
  program_id: "GE3K59Jt9Y1a9YBkqcVXAe4Ct42Y22rBZQzmLKbhbvZN"
  price_update_account: "7UVimffxr9ow1uXYxsr4LHAcV58mLzhmwaeKvJ1pjLiE"
  keypair_path: "/tmp/id.json"
  commitment: "confirmed"
  confirm_timeout_seconds: 90

engine:
  shutdown_grace_seconds: 30

storage:
  dsn: "keeper.db"

log:
  level: "debug"
  format: "json"

orders:
  - id: 102342000
    pair: "SOLUSDT"
    input_mint: "So11111111111111111111111111111111111111112"
    output_mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
    amount: 100
    threshold: 19
    kind: "TP"
`

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "wss://stream.binance.com:9443/ws", cfg.Feed.WSBase)
	assert.Equal(t, 5, cfg.Feed.ReconnectMaxRetries)
	assert.Equal(t, 90*time.Second, cfg.ConfirmTimeout())
	assert.Equal(t, 30*time.Second, cfg.ShutdownGrace())
	assert.Equal(t, "keeper.db", cfg.Storage.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.Len(t, cfg.Orders, 1)
	order := cfg.Orders[0].Order()
	assert.Equal(t, uint64(102342000), order.ID)
	assert.Equal(t, "SOLUSDT", order.Pair)
	assert.Equal(t, 19.0, order.Threshold)
	assert.Equal(t, domain.TakeProfit, order.Kind)
	require.NoError(t, order.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	minimal := `
ledger:
  program_id: "GE3K59Jt9Y1a9YBkqcVXAe4Ct42Y22rBZQzmLKbhbvZN"
  price_update_account: "7UVimffxr9ow1uXYxsr4LHAcV58mLzhmwaeKvJ1pjLiE"
  keypair_path: "/tmp/id.json"
`
	cfg, err := config.Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.ReconnectInitial())
	assert.Equal(t, 30*time.Second, cfg.ReconnectMax())
	assert.Equal(t, 10, cfg.Feed.ReconnectMaxRetries)
	assert.Equal(t, "confirmed", cfg.Ledger.Commitment)
	assert.Equal(t, 60*time.Second, cfg.ConfirmTimeout())
	assert.Equal(t, 45*time.Second, cfg.ShutdownGrace())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.Storage.DSN)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RPC_URL", "https://rpc.example.org")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example.org", cfg.Ledger.RPCURL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing program id",
			yaml: `
ledger:
  price_update_account: "7UVimffxr9ow1uXYxsr4LHAcV58mLzhmwaeKvJ1pjLiE"
  keypair_path: "/tmp/id.json"
`,
			want: "program_id",
		},
		{
			name: "bad commitment",
			yaml: `
ledger:
  program_id: "GE3K59Jt9Y1a9YBkqcVXAe4Ct42Y22rBZQzmLKbhbvZN"
  price_update_account: "7UVimffxr9ow1uXYxsr4LHAcV58mLzhmwaeKvJ1pjLiE"
  keypair_path: "/tmp/id.json"
  commitment: "processed"
`,
			want: "commitment",
		},
		{
			name: "invalid order",
			yaml: `
ledger:
  program_id: "GE3K59Jt9Y1a9YBkqcVXAe4Ct42Y22rBZQzmLKbhbvZN"
  price_update_account: "7UVimffxr9ow1uXYxsr4LHAcV58mLzhmwaeKvJ1pjLiE"
  keypair_path: "/tmp/id.json"
orders:
  - id: 1
    pair: "SOLUSDT"
    amount: 0
    threshold: 19
    kind: "TP"
`,
			want: "amount",
		},
		{
			// The program holds the threshold as whole price units, so a
			// fractional value would watch a different price than the
			// escrow enforces.
			name: "fractional threshold",
			yaml: `
ledger:
  program_id: "GE3K59Jt9Y1a9YBkqcVXAe4Ct42Y22rBZQzmLKbhbvZN"
  price_update_account: "7UVimffxr9ow1uXYxsr4LHAcV58mLzhmwaeKvJ1pjLiE"
  keypair_path: "/tmp/id.json"
orders:
  - {id: 1, pair: "SOLUSDT", amount: 10, threshold: 19.5, kind: "TP"}
`,
			want: "whole number",
		},
		{
			name: "duplicate order ids",
			yaml: `
ledger:
  program_id: "GE3K59Jt9Y1a9YBkqcVXAe4Ct42Y22rBZQzmLKbhbvZN"
  price_update_account: "7UVimffxr9ow1uXYxsr4LHAcV58mLzhmwaeKvJ1pjLiE"
  keypair_path: "/tmp/id.json"
orders:
  - {id: 1, pair: "SOLUSDT", amount: 10, threshold: 19, kind: "TP"}
  - {id: 1, pair: "SOLUSDT", amount: 10, threshold: 12, kind: "SL"}
`,
			want: "duplicate",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := config.Load(writeConfig(t, "orders: ["))
	assert.Error(t, err)
}
